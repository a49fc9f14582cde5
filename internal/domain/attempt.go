package domain

import "time"

// AttemptStatus is the lifecycle state of an admission attempt.
type AttemptStatus string

const (
	AttemptPending           AttemptStatus = "pending"
	AttemptVerified          AttemptStatus = "verified"
	AttemptBlocked           AttemptStatus = "blocked"
	AttemptExpiredUnverified AttemptStatus = "expired_unverified"
)

// Terminal reports whether the status is an end state. Terminal rows are
// kept as an audit trail and are never transitioned again.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptVerified, AttemptBlocked, AttemptExpiredUnverified:
		return true
	}
	return false
}

// MessageRef is an opaque handle to a delivered challenge message, kept
// only so the message can be deleted once the attempt resolves.
type MessageRef string

// Attempt is one admission-control attempt for a (chat, user) pair.
// At most one attempt per pair may be pending at any time.
type Attempt struct {
	ID           int64
	ChatID       int64
	UserID       int64
	DisplayName  string
	Username     string
	Status       AttemptStatus
	Question     string
	Answer       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AttemptCount int
	MessageRef   MessageRef
}

// Expired reports whether the attempt's challenge window has closed.
func (a Attempt) Expired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

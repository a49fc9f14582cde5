package repository

import (
	"errors"
	"time"

	"gatekeeper/internal/domain"
)

// ErrAlreadyPending is returned by BeginAttempt when the (chat, user)
// pair already has a challenge in flight. Callers treat it as losing a
// benign race: the existing attempt stays untouched.
var ErrAlreadyPending = errors.New("attempt already pending")

// AnswerResult is the verdict of matching a submitted answer against
// the stored challenge.
type AnswerResult int

const (
	// AnswerNoAttempt means no pending attempt exists for the key.
	AnswerNoAttempt AnswerResult = iota
	// AnswerCorrect means the answer matched and the attempt is verified.
	AnswerCorrect
	// AnswerIncorrect means the answer did not match; the failure counter
	// was incremented and the attempt stays pending.
	AnswerIncorrect
	// AnswerExpired means a pending row exists but its deadline passed.
	// The row is left untouched for the sweeper to claim.
	AnswerExpired
)

// AttemptRepository defines admission-attempt storage operations. The
// store is the single arbiter of attempt state: concurrent events for
// one key are serialized here, not by in-process locks.
type AttemptRepository interface {
	// BeginAttempt creates a pending attempt, returning ErrAlreadyPending
	// when the key already has one.
	BeginAttempt(a domain.Attempt) (*domain.Attempt, error)

	// PendingAttempt loads the active attempt for a key, or nil.
	PendingAttempt(chatID, userID int64) (*domain.Attempt, error)

	// RecordAnswer matches answer against the pending attempt under a row
	// lock and applies the verdict atomically. The returned attempt
	// reflects the state after the verdict, when one exists.
	RecordAnswer(chatID, userID int64, answer string) (AnswerResult, *domain.Attempt, error)

	// FinishAttempt moves the pending attempt for a key into a terminal
	// status. It reports false when no pending row was there to claim,
	// which means a concurrent event resolved the attempt first.
	FinishAttempt(chatID, userID int64, status domain.AttemptStatus) (bool, error)

	// CreateBlockedAttempt records an attempt that was blocked at join
	// time without ever being challenged.
	CreateBlockedAttempt(chatID, userID int64, displayName, username string) error

	// SetChallengeMessage remembers the delivered challenge message so it
	// can be deleted when the attempt resolves.
	SetChallengeMessage(attemptID int64, ref domain.MessageRef) error

	// ClaimExpired atomically moves up to limit pending attempts whose
	// deadline passed into expired_unverified and returns them. Each
	// expired attempt is claimed exactly once across all sweepers.
	ClaimExpired(now time.Time, limit int) ([]domain.Attempt, error)

	// CountExpired counts expired_unverified attempts for a key.
	CountExpired(chatID, userID int64) (int, error)
}

// UserRepository defines user-record storage operations.
type UserRepository interface {
	// UpsertUser writes the verification summary for a (user, chat) pair.
	// A stored blocked status is sticky: it survives any upsert and can
	// only be cleared through Unblock.
	UpsertUser(u domain.UserRecord) error

	// Unblock clears a blocked record so the member is challenged again
	// on their next join. It reports false when the record was not
	// blocked.
	Unblock(chatID, userID int64) (bool, error)

	// GetUser loads the record for a (user, chat) pair, or nil.
	GetUser(chatID, userID int64) (*domain.UserRecord, error)

	// ListBlocked returns the blocked records for a chat, most recently
	// updated first.
	ListBlocked(chatID int64) ([]domain.UserRecord, error)

	// ListUsersPage returns a keyset page of non-blocked records ordered
	// by (chat_id, user_id), strictly after the given position.
	ListUsersPage(afterChatID, afterUserID int64, limit int) ([]domain.UserRecord, error)

	// CountByStatus tallies stored records per status.
	CountByStatus() (map[domain.UserStatus]int, error)
}

package domain

import "time"

// UserStatus is the durable verification summary for a chat member.
type UserStatus string

const (
	UserVerified UserStatus = "verified"
	UserPending  UserStatus = "pending"
	UserBlocked  UserStatus = "blocked"
)

// UserRecord is the most recent verification outcome for a (user, chat)
// pair. It is what lets the gate admit returning members without a new
// challenge and expel blocked ones on sight.
type UserRecord struct {
	UserID      int64
	ChatID      int64
	DisplayName string
	Username    string
	Status      UserStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Label renders a human-readable identifier for chat messages and
// reports: the display name plus the handle when one exists.
func (u UserRecord) Label() string {
	if u.Username == "" {
		return u.DisplayName
	}
	if u.DisplayName == "" {
		return "@" + u.Username
	}
	return u.DisplayName + " (@" + u.Username + ")"
}

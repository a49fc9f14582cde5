package testutil

import (
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/domain"
)

// NewTestLogger creates a no-op logger for tests
func NewTestLogger() *zap.Logger {
	return zap.NewNop()
}

// NewTestAttempt creates a pending test attempt with a minute left on
// the clock
func NewTestAttempt(chatID, userID int64) *domain.Attempt {
	now := time.Now()
	return &domain.Attempt{
		ID:          1,
		ChatID:      chatID,
		UserID:      userID,
		DisplayName: "Alice",
		Username:    "alice99",
		Status:      domain.AttemptPending,
		Question:    "How much is 3 + 4? Reply with just the number.",
		Answer:      "7",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Minute),
	}
}

// NewTestUserRecord creates a test user record
func NewTestUserRecord(chatID, userID int64, status domain.UserStatus) domain.UserRecord {
	now := time.Now()
	return domain.UserRecord{
		UserID:      userID,
		ChatID:      chatID,
		DisplayName: "Alice",
		Username:    "alice99",
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

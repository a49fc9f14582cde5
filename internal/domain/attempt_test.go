package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttemptStatus_Terminal(t *testing.T) {
	tests := []struct {
		name     string
		status   AttemptStatus
		terminal bool
	}{
		{"pending is not terminal", AttemptPending, false},
		{"verified is terminal", AttemptVerified, true},
		{"blocked is terminal", AttemptBlocked, true},
		{"expired is terminal", AttemptExpiredUnverified, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.status.Terminal())
		})
	}
}

func TestAttempt_Expired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		expired   bool
	}{
		{"future deadline", now.Add(time.Minute), false},
		{"past deadline", now.Add(-time.Minute), true},
		{"exact deadline", now, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Attempt{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.expired, a.Expired(now))
		})
	}
}

func TestUserRecord_Label(t *testing.T) {
	tests := []struct {
		name     string
		record   UserRecord
		expected string
	}{
		{
			name:     "name and username",
			record:   UserRecord{DisplayName: "Alice", Username: "alice99"},
			expected: "Alice (@alice99)",
		},
		{
			name:     "name only",
			record:   UserRecord{DisplayName: "Alice"},
			expected: "Alice",
		},
		{
			name:     "username only",
			record:   UserRecord{Username: "alice99"},
			expected: "@alice99",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.record.Label())
		})
	}
}

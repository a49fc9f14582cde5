package testutil

import (
	"time"

	"github.com/stretchr/testify/mock"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/repository"
)

// MockAttemptRepository is a mock for AttemptRepository
type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) BeginAttempt(a domain.Attempt) (*domain.Attempt, error) {
	args := m.Called(a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) PendingAttempt(chatID, userID int64) (*domain.Attempt, error) {
	args := m.Called(chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) RecordAnswer(chatID, userID int64, answer string) (repository.AnswerResult, *domain.Attempt, error) {
	args := m.Called(chatID, userID, answer)
	result := args.Get(0).(repository.AnswerResult)
	if args.Get(1) == nil {
		return result, nil, args.Error(2)
	}
	return result, args.Get(1).(*domain.Attempt), args.Error(2)
}

func (m *MockAttemptRepository) FinishAttempt(chatID, userID int64, status domain.AttemptStatus) (bool, error) {
	args := m.Called(chatID, userID, status)
	return args.Bool(0), args.Error(1)
}

func (m *MockAttemptRepository) CreateBlockedAttempt(chatID, userID int64, displayName, username string) error {
	args := m.Called(chatID, userID, displayName, username)
	return args.Error(0)
}

func (m *MockAttemptRepository) SetChallengeMessage(attemptID int64, ref domain.MessageRef) error {
	args := m.Called(attemptID, ref)
	return args.Error(0)
}

func (m *MockAttemptRepository) ClaimExpired(now time.Time, limit int) ([]domain.Attempt, error) {
	args := m.Called(now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) CountExpired(chatID, userID int64) (int, error) {
	args := m.Called(chatID, userID)
	return args.Int(0), args.Error(1)
}

// MockUserRepository is a mock for UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) UpsertUser(u domain.UserRecord) error {
	args := m.Called(u)
	return args.Error(0)
}

func (m *MockUserRepository) Unblock(chatID, userID int64) (bool, error) {
	args := m.Called(chatID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockUserRepository) GetUser(chatID, userID int64) (*domain.UserRecord, error) {
	args := m.Called(chatID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.UserRecord), args.Error(1)
}

func (m *MockUserRepository) ListBlocked(chatID int64) ([]domain.UserRecord, error) {
	args := m.Called(chatID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserRecord), args.Error(1)
}

func (m *MockUserRepository) ListUsersPage(afterChatID, afterUserID int64, limit int) ([]domain.UserRecord, error) {
	args := m.Called(afterChatID, afterUserID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.UserRecord), args.Error(1)
}

func (m *MockUserRepository) CountByStatus() (map[domain.UserStatus]int, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.UserStatus]int), args.Error(1)
}

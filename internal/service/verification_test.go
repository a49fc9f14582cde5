package service

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"gatekeeper/internal/challenge"
	"gatekeeper/internal/detect"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/repository"
	"gatekeeper/internal/testutil"
)

// MockEnforcer is a mock for Enforcer
type MockEnforcer struct {
	mock.Mock
}

func (m *MockEnforcer) SendChallenge(chatID, userID int64, displayName, question string) (domain.MessageRef, error) {
	args := m.Called(chatID, userID, displayName, question)
	return args.Get(0).(domain.MessageRef), args.Error(1)
}

func (m *MockEnforcer) RestrictMember(chatID, userID int64) error {
	args := m.Called(chatID, userID)
	return args.Error(0)
}

func (m *MockEnforcer) LiftRestriction(chatID, userID int64) error {
	args := m.Called(chatID, userID)
	return args.Error(0)
}

func (m *MockEnforcer) ExpelMember(chatID, userID int64) error {
	args := m.Called(chatID, userID)
	return args.Error(0)
}

func (m *MockEnforcer) DeleteMessage(chatID int64, ref domain.MessageRef) error {
	args := m.Called(chatID, ref)
	return args.Error(0)
}

func (m *MockEnforcer) NotifyAdmins(chatID int64, text string) error {
	args := m.Called(chatID, text)
	return args.Error(0)
}

const (
	testChatID = int64(-100500)
	testUserID = int64(123)
)

func newTestVerifier(attempts *testutil.MockAttemptRepository, users *testutil.MockUserRepository, enforcer *MockEnforcer) *VerificationService {
	return NewVerificationService(
		attempts,
		users,
		challenge.NewGenerator("", 2*time.Minute),
		detect.NewClassifier(nil),
		enforcer,
		testutil.NewTestLogger(),
		3,
		3,
	)
}

func joinEvent() JoinEvent {
	return JoinEvent{
		ChatID:      testChatID,
		UserID:      testUserID,
		DisplayName: "Alice",
		Username:    "alice99",
	}
}

func TestVerificationService_HandleJoin_FirstJoin(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	users.On("GetUser", testChatID, testUserID).Return(nil, nil)
	attempts.On("BeginAttempt", mock.MatchedBy(func(a domain.Attempt) bool {
		return a.ChatID == testChatID && a.UserID == testUserID &&
			a.Question != "" && a.Answer != "" && a.ExpiresAt.After(time.Now())
	})).Return(&domain.Attempt{ID: 7, ChatID: testChatID, UserID: testUserID, Status: domain.AttemptPending}, nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.UserID == testUserID && u.ChatID == testChatID && u.Status == domain.UserPending
	})).Return(nil)
	enforcer.On("RestrictMember", testChatID, testUserID).Return(nil)
	enforcer.On("SendChallenge", testChatID, testUserID, "Alice", mock.AnythingOfType("string")).
		Return(domain.MessageRef("456"), nil)
	attempts.On("SetChallengeMessage", int64(7), domain.MessageRef("456")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(joinEvent())

	assert.NoError(t, err)
	assert.Equal(t, OutcomeChallenged, outcome.Kind)
	assert.Contains(t, outcome.Question, "How much is")

	attempts.AssertExpectations(t)
	users.AssertExpectations(t)
	enforcer.AssertExpectations(t)
}

func TestVerificationService_HandleJoin_VerifiedRejoin(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	record := testutil.NewTestUserRecord(testChatID, testUserID, domain.UserVerified)
	users.On("GetUser", testChatID, testUserID).Return(&record, nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(joinEvent())

	assert.NoError(t, err)
	assert.Equal(t, OutcomeAdmitted, outcome.Kind)

	// No challenge, no restriction, no store writes.
	attempts.AssertNotCalled(t, "BeginAttempt", mock.Anything)
	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
	enforcer.AssertNotCalled(t, "RestrictMember", mock.Anything, mock.Anything)
	enforcer.AssertNotCalled(t, "SendChallenge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerificationService_HandleJoin_BlockedRejoin(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	record := testutil.NewTestUserRecord(testChatID, testUserID, domain.UserBlocked)
	users.On("GetUser", testChatID, testUserID).Return(&record, nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(joinEvent())

	assert.NoError(t, err)
	assert.Equal(t, OutcomeExpelled, outcome.Kind)

	attempts.AssertNotCalled(t, "BeginAttempt", mock.Anything)
	enforcer.AssertNotCalled(t, "SendChallenge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	enforcer.AssertExpectations(t)
}

func TestVerificationService_HandleJoin_PlatformBot(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	users.On("GetUser", testChatID, testUserID).Return(nil, nil)
	attempts.On("FinishAttempt", testChatID, testUserID, domain.AttemptBlocked).Return(false, nil)
	attempts.On("CreateBlockedAttempt", testChatID, testUserID, "Helper", "helper_bot").Return(nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserBlocked
	})).Return(nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)
	enforcer.On("NotifyAdmins", testChatID, mock.AnythingOfType("string")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(JoinEvent{
		ChatID:      testChatID,
		UserID:      testUserID,
		DisplayName: "Helper",
		Username:    "helper_bot",
		IsBot:       true,
	})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome.Kind)
	assert.Equal(t, detect.PatternPlatformFlag, outcome.PatternID)

	enforcer.AssertNotCalled(t, "SendChallenge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	attempts.AssertExpectations(t)
	users.AssertExpectations(t)
	enforcer.AssertExpectations(t)
}

func TestVerificationService_HandleJoin_SuspiciousName(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	users.On("GetUser", testChatID, testUserID).Return(nil, nil)
	attempts.On("FinishAttempt", testChatID, testUserID, domain.AttemptBlocked).Return(false, nil)
	attempts.On("CreateBlockedAttempt", testChatID, testUserID, "Cheap Deals", "spam_promos").Return(nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserBlocked
	})).Return(nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)
	enforcer.On("NotifyAdmins", testChatID, mock.AnythingOfType("string")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(JoinEvent{
		ChatID:      testChatID,
		UserID:      testUserID,
		DisplayName: "Cheap Deals",
		Username:    "spam_promos",
	})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome.Kind)
	assert.Equal(t, detect.PatternNameIndicator, outcome.PatternID)
	assert.NotEmpty(t, outcome.Reason)
}

func TestVerificationService_HandleJoin_SuspectedWithPendingAttempt(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	// The pending attempt is finished in place, not duplicated.
	users.On("GetUser", testChatID, testUserID).Return(nil, nil)
	attempts.On("FinishAttempt", testChatID, testUserID, domain.AttemptBlocked).Return(true, nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserBlocked
	})).Return(nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)
	enforcer.On("NotifyAdmins", testChatID, mock.AnythingOfType("string")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(JoinEvent{
		ChatID:      testChatID,
		UserID:      testUserID,
		DisplayName: "Helper",
		Username:    "helper_bot",
		IsBot:       true,
	})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeBlocked, outcome.Kind)
	attempts.AssertNotCalled(t, "CreateBlockedAttempt", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerificationService_HandleJoin_RejoinWhilePending(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	pending := testutil.NewTestAttempt(testChatID, testUserID)
	users.On("GetUser", testChatID, testUserID).Return(nil, nil)
	attempts.On("BeginAttempt", mock.Anything).Return(nil, repository.ErrAlreadyPending)
	attempts.On("PendingAttempt", testChatID, testUserID).Return(pending, nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(joinEvent())

	assert.NoError(t, err)
	assert.Equal(t, OutcomeReminded, outcome.Kind)
	assert.Equal(t, pending.Question, outcome.Question, "the stored question is repeated, never regenerated")

	// The first challenge stays authoritative: no new message ref, no
	// second restriction, no user-record churn.
	enforcer.AssertNotCalled(t, "SendChallenge", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	enforcer.AssertNotCalled(t, "RestrictMember", mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
}

func TestVerificationService_HandleJoin_ChallengeDeliveryFails(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	users.On("GetUser", testChatID, testUserID).Return(nil, nil)
	attempts.On("BeginAttempt", mock.Anything).
		Return(&domain.Attempt{ID: 7, ChatID: testChatID, UserID: testUserID}, nil)
	users.On("UpsertUser", mock.Anything).Return(nil)
	enforcer.On("RestrictMember", testChatID, testUserID).Return(nil)
	enforcer.On("SendChallenge", testChatID, testUserID, "Alice", mock.AnythingOfType("string")).
		Return(domain.MessageRef(""), errors.New("telegram: 502"))

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleJoin(joinEvent())

	// Delivery failure does not fail the transition: the attempt is
	// committed and the sweeper settles it.
	assert.NoError(t, err)
	assert.Equal(t, OutcomeChallenged, outcome.Kind)
	attempts.AssertNotCalled(t, "SetChallengeMessage", mock.Anything, mock.Anything)
}

func TestVerificationService_HandleJoin_StoreError(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	users.On("GetUser", testChatID, testUserID).Return(nil, errors.New("connection lost"))

	service := newTestVerifier(attempts, users, enforcer)

	_, err := service.HandleJoin(joinEvent())

	assert.Error(t, err)
	enforcer.AssertNotCalled(t, "RestrictMember", mock.Anything, mock.Anything)
}

func TestVerificationService_HandleAnswer_Correct(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	verified := testutil.NewTestAttempt(testChatID, testUserID)
	verified.Status = domain.AttemptVerified
	verified.MessageRef = domain.MessageRef("456")

	// Whitespace around the answer is trimmed before matching.
	attempts.On("RecordAnswer", testChatID, testUserID, "7").
		Return(repository.AnswerCorrect, verified, nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserVerified
	})).Return(nil)
	enforcer.On("LiftRestriction", testChatID, testUserID).Return(nil)
	enforcer.On("DeleteMessage", testChatID, domain.MessageRef("456")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleAnswer(AnswerEvent{ChatID: testChatID, UserID: testUserID, Text: "  7 "})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome.Kind)

	attempts.AssertExpectations(t)
	users.AssertExpectations(t)
	enforcer.AssertExpectations(t)
}

func TestVerificationService_HandleAnswer_WrongWithAttemptsLeft(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	attempt := testutil.NewTestAttempt(testChatID, testUserID)
	attempt.AttemptCount = 1

	attempts.On("RecordAnswer", testChatID, testUserID, "8").
		Return(repository.AnswerIncorrect, attempt, nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleAnswer(AnswerEvent{ChatID: testChatID, UserID: testUserID, Text: "8"})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeRetry, outcome.Kind)
	assert.Equal(t, 2, outcome.AttemptsLeft)
	assert.Equal(t, attempt.Question, outcome.Question)

	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
	enforcer.AssertNotCalled(t, "ExpelMember", mock.Anything, mock.Anything)
}

func TestVerificationService_HandleAnswer_WrongAtLimit(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	attempt := testutil.NewTestAttempt(testChatID, testUserID)
	attempt.AttemptCount = 3
	attempt.MessageRef = domain.MessageRef("456")

	attempts.On("RecordAnswer", testChatID, testUserID, "8").
		Return(repository.AnswerIncorrect, attempt, nil)
	attempts.On("FinishAttempt", testChatID, testUserID, domain.AttemptBlocked).Return(true, nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserBlocked
	})).Return(nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)
	enforcer.On("DeleteMessage", testChatID, domain.MessageRef("456")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleAnswer(AnswerEvent{ChatID: testChatID, UserID: testUserID, Text: "8"})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeExhausted, outcome.Kind)

	attempts.AssertExpectations(t)
	users.AssertExpectations(t)
	enforcer.AssertExpectations(t)
}

func TestVerificationService_HandleAnswer_LostRaceAtLimit(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	attempt := testutil.NewTestAttempt(testChatID, testUserID)
	attempt.AttemptCount = 3

	attempts.On("RecordAnswer", testChatID, testUserID, "8").
		Return(repository.AnswerIncorrect, attempt, nil)
	attempts.On("FinishAttempt", testChatID, testUserID, domain.AttemptBlocked).Return(false, nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleAnswer(AnswerEvent{ChatID: testChatID, UserID: testUserID, Text: "8"})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome.Kind)

	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
	enforcer.AssertNotCalled(t, "ExpelMember", mock.Anything, mock.Anything)
}

func TestVerificationService_HandleAnswer_NoPendingAttempt(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	attempts.On("RecordAnswer", testChatID, testUserID, "hello").
		Return(repository.AnswerNoAttempt, nil, nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleAnswer(AnswerEvent{ChatID: testChatID, UserID: testUserID, Text: "hello"})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome.Kind)

	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
}

func TestVerificationService_HandleAnswer_ExpiredBelongsToSweeper(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	attempt := testutil.NewTestAttempt(testChatID, testUserID)
	attempt.ExpiresAt = time.Now().Add(-time.Minute)

	attempts.On("RecordAnswer", testChatID, testUserID, "7").
		Return(repository.AnswerExpired, attempt, nil)

	service := newTestVerifier(attempts, users, enforcer)

	outcome, err := service.HandleAnswer(AnswerEvent{ChatID: testChatID, UserID: testUserID, Text: "7"})

	assert.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome.Kind)

	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
	enforcer.AssertNotCalled(t, "ExpelMember", mock.Anything, mock.Anything)
}

func TestVerificationService_ExpireAttempt(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	expired := *testutil.NewTestAttempt(testChatID, testUserID)
	expired.Status = domain.AttemptExpiredUnverified
	expired.MessageRef = domain.MessageRef("456")

	attempts.On("CountExpired", testChatID, testUserID).Return(1, nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserPending
	})).Return(nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)
	enforcer.On("DeleteMessage", testChatID, domain.MessageRef("456")).Return(nil)
	enforcer.On("NotifyAdmins", testChatID, mock.AnythingOfType("string")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	err := service.ExpireAttempt(expired)

	assert.NoError(t, err)
	attempts.AssertExpectations(t)
	users.AssertExpectations(t)
	enforcer.AssertExpectations(t)
}

func TestVerificationService_ExpireAttempt_RepeatedTimeoutsBlock(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	expired := *testutil.NewTestAttempt(testChatID, testUserID)
	expired.Status = domain.AttemptExpiredUnverified

	attempts.On("CountExpired", testChatID, testUserID).Return(3, nil)
	users.On("UpsertUser", mock.MatchedBy(func(u domain.UserRecord) bool {
		return u.Status == domain.UserBlocked
	})).Return(nil)
	enforcer.On("ExpelMember", testChatID, testUserID).Return(nil)
	enforcer.On("NotifyAdmins", testChatID, mock.AnythingOfType("string")).Return(nil)

	service := newTestVerifier(attempts, users, enforcer)

	err := service.ExpireAttempt(expired)

	assert.NoError(t, err)
	users.AssertExpectations(t)
}

func TestVerificationService_HandleLeave_PendingStaysActive(t *testing.T) {
	attempts := new(testutil.MockAttemptRepository)
	users := new(testutil.MockUserRepository)
	enforcer := new(MockEnforcer)

	pending := testutil.NewTestAttempt(testChatID, testUserID)
	attempts.On("PendingAttempt", testChatID, testUserID).Return(pending, nil)

	service := newTestVerifier(attempts, users, enforcer)

	err := service.HandleLeave(LeaveEvent{ChatID: testChatID, UserID: testUserID, DisplayName: "Alice"})

	assert.NoError(t, err)

	// Leaving resolves nothing: the attempt keeps its deadline.
	attempts.AssertNotCalled(t, "FinishAttempt", mock.Anything, mock.Anything, mock.Anything)
	users.AssertNotCalled(t, "UpsertUser", mock.Anything)
}

package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/challenge"
	"gatekeeper/internal/detect"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/repository"
)

// Enforcer executes enforcement intents against the chat platform.
// Every call is best effort: failures are logged and ignored, and never
// roll back store state. The store stays the source of truth.
type Enforcer interface {
	SendChallenge(chatID, userID int64, displayName, question string) (domain.MessageRef, error)
	RestrictMember(chatID, userID int64) error
	LiftRestriction(chatID, userID int64) error
	ExpelMember(chatID, userID int64) error
	DeleteMessage(chatID int64, ref domain.MessageRef) error
	NotifyAdmins(chatID int64, text string) error
}

// JoinEvent is a normalized new-member event.
type JoinEvent struct {
	ChatID      int64
	UserID      int64
	DisplayName string
	Username    string
	IsBot       bool
}

// AnswerEvent is a normalized message from a chat member.
type AnswerEvent struct {
	ChatID int64
	UserID int64
	Text   string
}

// LeaveEvent is a normalized member-left event.
type LeaveEvent struct {
	ChatID      int64
	UserID      int64
	DisplayName string
}

// OutcomeKind tells the delivery layer which chat-facing response, if
// any, a transition calls for.
type OutcomeKind int

const (
	// OutcomeIgnored means the event required no action: stale answer,
	// lost race, or message from a user with nothing pending.
	OutcomeIgnored OutcomeKind = iota
	// OutcomeChallenged means a fresh challenge was issued.
	OutcomeChallenged
	// OutcomeReminded means a challenge was already pending; the stored
	// question should be repeated without starting over.
	OutcomeReminded
	// OutcomeAdmitted means a verified member rejoined and was let in
	// without a new challenge.
	OutcomeAdmitted
	// OutcomeVerified means the member answered correctly.
	OutcomeVerified
	// OutcomeRetry means the answer was wrong but attempts remain.
	OutcomeRetry
	// OutcomeBlocked means detection flagged the account and it was
	// blocked without a challenge.
	OutcomeBlocked
	// OutcomeExhausted means the member spent all answer attempts.
	OutcomeExhausted
	// OutcomeExpelled means a previously blocked account tried to rejoin
	// and was removed on sight.
	OutcomeExpelled
)

// Outcome reports what a transition decided. Question, AttemptsLeft and
// the detection fields are populated where the kind calls for them.
type Outcome struct {
	Kind         OutcomeKind
	DisplayName  string
	Username     string
	Question     string
	AttemptsLeft int
	PatternID    string
	Reason       string
}

// VerificationService drives the admission state machine. All state
// transitions go through the attempt store, which serializes concurrent
// events per (chat, user) key; this service holds no locks of its own.
type VerificationService struct {
	attempts    repository.AttemptRepository
	users       repository.UserRepository
	generator   *challenge.Generator
	classifier  *detect.Classifier
	enforcer    Enforcer
	logger      *zap.Logger
	maxAttempts int
	maxTimeouts int
}

// NewVerificationService creates a new verification service.
// maxAttempts caps wrong answers per challenge; maxTimeouts caps expired
// challenges before a member is blocked instead of merely removed.
func NewVerificationService(
	attempts repository.AttemptRepository,
	users repository.UserRepository,
	generator *challenge.Generator,
	classifier *detect.Classifier,
	enforcer Enforcer,
	logger *zap.Logger,
	maxAttempts, maxTimeouts int,
) *VerificationService {
	return &VerificationService{
		attempts:    attempts,
		users:       users,
		generator:   generator,
		classifier:  classifier,
		enforcer:    enforcer,
		logger:      logger,
		maxAttempts: maxAttempts,
		maxTimeouts: maxTimeouts,
	}
}

// HandleJoin decides what happens to a member who just joined: admit
// returning verified members, expel blocked ones, block suspected bots,
// and challenge everyone else.
func (s *VerificationService) HandleJoin(e JoinEvent) (Outcome, error) {
	record, err := s.users.GetUser(e.ChatID, e.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load user record: %w", err)
	}

	if record != nil {
		switch record.Status {
		case domain.UserVerified:
			s.logger.Info("Verified member rejoined, admitting without challenge",
				zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID))
			return Outcome{Kind: OutcomeAdmitted, DisplayName: e.DisplayName, Username: e.Username}, nil
		case domain.UserBlocked:
			s.logger.Warn("Blocked account tried to rejoin",
				zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID))
			s.enforce(e.ChatID, e.UserID, "expel_member", func() error {
				return s.enforcer.ExpelMember(e.ChatID, e.UserID)
			})
			return Outcome{Kind: OutcomeExpelled, DisplayName: e.DisplayName, Username: e.Username}, nil
		}
	}

	cls := s.classifier.Classify(domain.Profile{
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Username:    e.Username,
		IsBot:       e.IsBot,
	})
	if cls.Suspected() {
		return s.blockSuspected(e, cls)
	}

	return s.challengeMember(e)
}

// challengeMember opens a pending attempt and delivers the challenge.
// The attempt is committed before any platform call, so a crash or send
// failure leaves a pending row the sweeper will resolve.
func (s *VerificationService) challengeMember(e JoinEvent) (Outcome, error) {
	ch := s.generator.Generate()

	created, err := s.attempts.BeginAttempt(domain.Attempt{
		ChatID:      e.ChatID,
		UserID:      e.UserID,
		DisplayName: e.DisplayName,
		Username:    e.Username,
		Question:    ch.Question,
		Answer:      ch.Answer,
		ExpiresAt:   time.Now().Add(ch.TTL),
	})
	if errors.Is(err, repository.ErrAlreadyPending) {
		pending, perr := s.attempts.PendingAttempt(e.ChatID, e.UserID)
		if perr != nil {
			return Outcome{}, fmt.Errorf("failed to load pending attempt: %w", perr)
		}
		if pending == nil {
			// Resolved between the conflict and the read; nothing to do.
			return Outcome{Kind: OutcomeIgnored}, nil
		}
		s.logger.Info("Challenge already pending, repeating the stored question",
			zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID))
		return Outcome{
			Kind:        OutcomeReminded,
			DisplayName: e.DisplayName,
			Username:    e.Username,
			Question:    pending.Question,
		}, nil
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to begin attempt: %w", err)
	}

	if err := s.users.UpsertUser(domain.UserRecord{
		UserID:      e.UserID,
		ChatID:      e.ChatID,
		DisplayName: e.DisplayName,
		Username:    e.Username,
		Status:      domain.UserPending,
	}); err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert pending user: %w", err)
	}

	s.enforce(e.ChatID, e.UserID, "restrict_member", func() error {
		return s.enforcer.RestrictMember(e.ChatID, e.UserID)
	})

	ref, err := s.enforcer.SendChallenge(e.ChatID, e.UserID, e.DisplayName, ch.Question)
	if err != nil {
		// The attempt stays pending; the sweeper picks the member up
		// once the deadline passes.
		s.logger.Warn("Failed to deliver challenge",
			zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID), zap.Error(err))
	} else if ref != "" {
		if err := s.attempts.SetChallengeMessage(created.ID, ref); err != nil {
			s.logger.Warn("Failed to store challenge message ref",
				zap.Int64("attempt_id", created.ID), zap.Error(err))
		}
	}

	s.logger.Info("Challenge issued",
		zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID),
		zap.Time("expires_at", created.ExpiresAt))

	return Outcome{
		Kind:        OutcomeChallenged,
		DisplayName: e.DisplayName,
		Username:    e.Username,
		Question:    ch.Question,
	}, nil
}

// blockSuspected records a blocked attempt and blocks the account
// without issuing a challenge. A pending attempt for the key, if any,
// is finished in place rather than duplicated.
func (s *VerificationService) blockSuspected(e JoinEvent, cls detect.Classification) (Outcome, error) {
	won, err := s.attempts.FinishAttempt(e.ChatID, e.UserID, domain.AttemptBlocked)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to finish attempt: %w", err)
	}
	if !won {
		if err := s.attempts.CreateBlockedAttempt(e.ChatID, e.UserID, e.DisplayName, e.Username); err != nil {
			return Outcome{}, fmt.Errorf("failed to record blocked attempt: %w", err)
		}
	}

	if err := s.users.UpsertUser(domain.UserRecord{
		UserID:      e.UserID,
		ChatID:      e.ChatID,
		DisplayName: e.DisplayName,
		Username:    e.Username,
		Status:      domain.UserBlocked,
	}); err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert blocked user: %w", err)
	}

	s.logger.Warn("Suspected bot blocked on join",
		zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID),
		zap.String("username", e.Username),
		zap.String("pattern", cls.PatternID), zap.String("reason", cls.Reason))

	s.enforce(e.ChatID, e.UserID, "expel_member", func() error {
		return s.enforcer.ExpelMember(e.ChatID, e.UserID)
	})
	s.enforce(e.ChatID, e.UserID, "notify_admins", func() error {
		return s.enforcer.NotifyAdmins(e.ChatID, fmt.Sprintf(
			"Blocked a suspected bot: %s (@%s, id %d). Pattern: %s (%s).",
			e.DisplayName, handleOrPlaceholder(e.Username), e.UserID, cls.PatternID, cls.Reason))
	})

	return Outcome{
		Kind:        OutcomeBlocked,
		DisplayName: e.DisplayName,
		Username:    e.Username,
		PatternID:   cls.PatternID,
		Reason:      cls.Reason,
	}, nil
}

// HandleAnswer matches a member's message against their pending
// challenge. Messages from users with nothing pending are ignored.
func (s *VerificationService) HandleAnswer(e AnswerEvent) (Outcome, error) {
	answer := strings.TrimSpace(e.Text)

	result, attempt, err := s.attempts.RecordAnswer(e.ChatID, e.UserID, answer)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to record answer: %w", err)
	}

	switch result {
	case repository.AnswerCorrect:
		return s.admitVerified(attempt)
	case repository.AnswerIncorrect:
		if attempt.AttemptCount >= s.maxAttempts {
			return s.blockExhausted(attempt)
		}
		s.logger.Info("Wrong answer, attempts remain",
			zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID),
			zap.Int("attempt_count", attempt.AttemptCount))
		return Outcome{
			Kind:         OutcomeRetry,
			DisplayName:  attempt.DisplayName,
			Username:     attempt.Username,
			Question:     attempt.Question,
			AttemptsLeft: s.maxAttempts - attempt.AttemptCount,
		}, nil
	default:
		// No attempt, or the deadline passed and the sweeper owns the row.
		return Outcome{Kind: OutcomeIgnored}, nil
	}
}

func (s *VerificationService) admitVerified(attempt *domain.Attempt) (Outcome, error) {
	if err := s.users.UpsertUser(domain.UserRecord{
		UserID:      attempt.UserID,
		ChatID:      attempt.ChatID,
		DisplayName: attempt.DisplayName,
		Username:    attempt.Username,
		Status:      domain.UserVerified,
	}); err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert verified user: %w", err)
	}

	s.enforce(attempt.ChatID, attempt.UserID, "lift_restriction", func() error {
		return s.enforcer.LiftRestriction(attempt.ChatID, attempt.UserID)
	})
	s.deleteChallengeMessage(attempt)

	s.logger.Info("Member verified",
		zap.Int64("chat_id", attempt.ChatID), zap.Int64("user_id", attempt.UserID),
		zap.Int("wrong_answers", attempt.AttemptCount))

	return Outcome{Kind: OutcomeVerified, DisplayName: attempt.DisplayName, Username: attempt.Username}, nil
}

func (s *VerificationService) blockExhausted(attempt *domain.Attempt) (Outcome, error) {
	won, err := s.attempts.FinishAttempt(attempt.ChatID, attempt.UserID, domain.AttemptBlocked)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to finish attempt: %w", err)
	}
	if !won {
		// A concurrent event resolved the attempt first.
		return Outcome{Kind: OutcomeIgnored}, nil
	}

	if err := s.users.UpsertUser(domain.UserRecord{
		UserID:      attempt.UserID,
		ChatID:      attempt.ChatID,
		DisplayName: attempt.DisplayName,
		Username:    attempt.Username,
		Status:      domain.UserBlocked,
	}); err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert blocked user: %w", err)
	}

	s.logger.Warn("Member blocked after spending all attempts",
		zap.Int64("chat_id", attempt.ChatID), zap.Int64("user_id", attempt.UserID),
		zap.Int("attempt_count", attempt.AttemptCount))

	s.enforce(attempt.ChatID, attempt.UserID, "expel_member", func() error {
		return s.enforcer.ExpelMember(attempt.ChatID, attempt.UserID)
	})
	s.deleteChallengeMessage(attempt)

	return Outcome{Kind: OutcomeExhausted, DisplayName: attempt.DisplayName, Username: attempt.Username}, nil
}

// ExpireAttempt finishes one attempt the sweeper claimed: the member is
// removed, and blocked outright after enough expired challenges.
func (s *VerificationService) ExpireAttempt(a domain.Attempt) error {
	expiries, err := s.attempts.CountExpired(a.ChatID, a.UserID)
	if err != nil {
		return fmt.Errorf("failed to count expired attempts: %w", err)
	}

	status := domain.UserPending
	if s.maxTimeouts > 0 && expiries >= s.maxTimeouts {
		status = domain.UserBlocked
	}

	if err := s.users.UpsertUser(domain.UserRecord{
		UserID:      a.UserID,
		ChatID:      a.ChatID,
		DisplayName: a.DisplayName,
		Username:    a.Username,
		Status:      status,
	}); err != nil {
		return fmt.Errorf("failed to upsert user after expiry: %w", err)
	}

	s.enforce(a.ChatID, a.UserID, "expel_member", func() error {
		return s.enforcer.ExpelMember(a.ChatID, a.UserID)
	})
	s.deleteChallengeMessage(&a)
	s.enforce(a.ChatID, a.UserID, "notify_admins", func() error {
		return s.enforcer.NotifyAdmins(a.ChatID, fmt.Sprintf(
			"Removed %s (@%s, id %d): challenge expired unanswered (%d expired so far).",
			a.DisplayName, handleOrPlaceholder(a.Username), a.UserID, expiries))
	})

	s.logger.Info("Attempt expired unverified",
		zap.Int64("chat_id", a.ChatID), zap.Int64("user_id", a.UserID),
		zap.Int("expiries", expiries), zap.String("user_status", string(status)))

	return nil
}

// HandleLeave records a departure. Leaving does not resolve a pending
// attempt: the deadline keeps running and the sweeper settles it.
func (s *VerificationService) HandleLeave(e LeaveEvent) error {
	pending, err := s.attempts.PendingAttempt(e.ChatID, e.UserID)
	if err != nil {
		return fmt.Errorf("failed to load pending attempt: %w", err)
	}

	if pending != nil {
		s.logger.Info("Member left with a challenge still pending",
			zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID),
			zap.Time("expires_at", pending.ExpiresAt))
		return nil
	}

	s.logger.Info("Member left",
		zap.Int64("chat_id", e.ChatID), zap.Int64("user_id", e.UserID))
	return nil
}

func (s *VerificationService) deleteChallengeMessage(a *domain.Attempt) {
	if a.MessageRef == "" {
		return
	}
	s.enforce(a.ChatID, a.UserID, "delete_message", func() error {
		return s.enforcer.DeleteMessage(a.ChatID, a.MessageRef)
	})
}

// enforce runs one enforcement intent and logs failure. Intents never
// fail a transition: the store state has already been committed.
func (s *VerificationService) enforce(chatID, userID int64, intent string, fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warn("Enforcement intent failed",
			zap.String("intent", intent),
			zap.Int64("chat_id", chatID), zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

func handleOrPlaceholder(username string) string {
	if username == "" {
		return "no_username"
	}
	return username
}

package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/repository"
)

// AttemptExpirer settles a single claimed expired attempt.
type AttemptExpirer interface {
	ExpireAttempt(a domain.Attempt) error
}

const defaultSweepBatch = 100

// SweepService claims overdue pending attempts in batches and routes
// each through the expiry path. Claiming happens in the store, so any
// number of sweepers can run without double-processing an attempt.
type SweepService struct {
	attempts  repository.AttemptRepository
	expirer   AttemptExpirer
	logger    *zap.Logger
	batchSize int
}

// NewSweepService creates a new sweep service.
func NewSweepService(attempts repository.AttemptRepository, expirer AttemptExpirer, logger *zap.Logger) *SweepService {
	return &SweepService{
		attempts:  attempts,
		expirer:   expirer,
		logger:    logger,
		batchSize: defaultSweepBatch,
	}
}

// RunOnce drains every attempt expired at now and returns how many were
// settled. A failure settling one attempt is logged and skipped; the
// attempt is already claimed, so the store stays consistent and only
// best-effort enforcement is lost.
func (s *SweepService) RunOnce(now time.Time) (int, error) {
	total := 0
	for {
		batch, err := s.attempts.ClaimExpired(now, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to claim expired attempts: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		for _, attempt := range batch {
			if err := s.expirer.ExpireAttempt(attempt); err != nil {
				s.logger.Error("Failed to settle expired attempt",
					zap.Int64("chat_id", attempt.ChatID),
					zap.Int64("user_id", attempt.UserID),
					zap.Error(err))
			}
			total++
		}
	}
}

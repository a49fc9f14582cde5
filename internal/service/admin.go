package service

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"gatekeeper/internal/detect"
	"gatekeeper/internal/domain"
	"gatekeeper/internal/repository"
)

// FlaggedUser is one stored member caught by a batch re-scan.
type FlaggedUser struct {
	UserID      int64
	ChatID      int64
	DisplayName string
	Username    string
	PatternID   string
	Reason      string
}

// ScanReport summarizes a batch re-scan over stored user records.
type ScanReport struct {
	Scanned int
	Flagged []FlaggedUser
	Errors  int
}

const defaultScanPage = 200

// AdminService backs the administrative entry points: batch re-scans,
// the blocked roster and explicit unblocking.
type AdminService struct {
	users      repository.UserRepository
	classifier *detect.Classifier
	logger     *zap.Logger
	pageSize   int
}

// NewAdminService creates a new admin service.
func NewAdminService(users repository.UserRepository, classifier *detect.Classifier, logger *zap.Logger) *AdminService {
	return &AdminService{
		users:      users,
		classifier: classifier,
		logger:     logger,
		pageSize:   defaultScanPage,
	}
}

// Scan re-runs pattern detection over every stored non-blocked record
// and blocks the ones that match. Pages are keyed by (chat_id, user_id),
// so the scan is restartable and tolerates concurrent writes. No members
// are contacted or expelled here; the block takes effect on their next
// join.
func (s *AdminService) Scan() (*ScanReport, error) {
	report := &ScanReport{}
	afterChat, afterUser := int64(math.MinInt64), int64(math.MinInt64)

	for {
		page, err := s.users.ListUsersPage(afterChat, afterUser, s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		if len(page) == 0 {
			s.logger.Info("Scan finished",
				zap.Int("scanned", report.Scanned),
				zap.Int("flagged", len(report.Flagged)),
				zap.Int("errors", report.Errors))
			return report, nil
		}

		for _, record := range page {
			report.Scanned++

			cls := s.classifier.ClassifyPatterns(domain.Profile{
				UserID:      record.UserID,
				DisplayName: record.DisplayName,
				Username:    record.Username,
			})
			if !cls.Suspected() {
				continue
			}

			record.Status = domain.UserBlocked
			if err := s.users.UpsertUser(record); err != nil {
				s.logger.Error("Failed to block flagged user",
					zap.Int64("chat_id", record.ChatID),
					zap.Int64("user_id", record.UserID),
					zap.Error(err))
				report.Errors++
				continue
			}

			s.logger.Warn("Stored member flagged as bot",
				zap.Int64("chat_id", record.ChatID),
				zap.Int64("user_id", record.UserID),
				zap.String("username", record.Username),
				zap.String("pattern", cls.PatternID))

			report.Flagged = append(report.Flagged, FlaggedUser{
				UserID:      record.UserID,
				ChatID:      record.ChatID,
				DisplayName: record.DisplayName,
				Username:    record.Username,
				PatternID:   cls.PatternID,
				Reason:      cls.Reason,
			})
		}

		last := page[len(page)-1]
		afterChat, afterUser = last.ChatID, last.UserID
	}
}

// ListBlocked returns the blocked roster for a chat.
func (s *AdminService) ListBlocked(chatID int64) ([]domain.UserRecord, error) {
	return s.users.ListBlocked(chatID)
}

// Unblock clears a blocked record so the member is challenged again on
// their next join. It reports false when the user was not blocked.
func (s *AdminService) Unblock(chatID, userID int64) (bool, error) {
	cleared, err := s.users.Unblock(chatID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to unblock user: %w", err)
	}
	if cleared {
		s.logger.Info("User unblocked",
			zap.Int64("chat_id", chatID), zap.Int64("user_id", userID))
	}
	return cleared, nil
}

// CountByStatus reports how many records sit in each status, used for
// the startup summary.
func (s *AdminService) CountByStatus() (map[domain.UserStatus]int, error) {
	return s.users.CountByStatus()
}

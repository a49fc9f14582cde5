package postgres

import (
	"database/sql"
	"time"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/repository"
)

// AttemptRepo implements repository.AttemptRepository
type AttemptRepo struct {
	db *sql.DB
}

// NewAttemptRepo creates a new attempt repository
func NewAttemptRepo(db *sql.DB) *AttemptRepo {
	return &AttemptRepo{db: db}
}

const attemptColumns = `id, chat_id, user_id, display_name, username, status, question, answer, created_at, expires_at, attempt_count, message_ref`

// BeginAttempt creates a pending attempt for the key. The partial unique
// index on pending rows turns a concurrent begin into a silent conflict,
// which is reported as repository.ErrAlreadyPending.
func (r *AttemptRepo) BeginAttempt(a domain.Attempt) (*domain.Attempt, error) {
	query := `
		INSERT INTO attempts (chat_id, user_id, display_name, username, status, question, answer, expires_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)
		ON CONFLICT (chat_id, user_id) WHERE status = 'pending' DO NOTHING
		RETURNING id, created_at
	`
	err := r.db.QueryRow(query, a.ChatID, a.UserID, a.DisplayName, a.Username, a.Question, a.Answer, a.ExpiresAt).
		Scan(&a.ID, &a.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, repository.ErrAlreadyPending
	}
	if err != nil {
		return nil, err
	}

	a.Status = domain.AttemptPending
	return &a, nil
}

// PendingAttempt returns the active attempt for a key, or nil
func (r *AttemptRepo) PendingAttempt(chatID, userID int64) (*domain.Attempt, error) {
	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE chat_id = $1 AND user_id = $2 AND status = 'pending'
	`
	a, err := scanAttempt(r.db.QueryRow(query, chatID, userID))

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return a, nil
}

// RecordAnswer locks the pending row for the key and applies the answer
// verdict in one transaction, so racing answers cannot both win.
func (r *AttemptRepo) RecordAnswer(chatID, userID int64, answer string) (repository.AnswerResult, *domain.Attempt, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return repository.AnswerNoAttempt, nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT ` + attemptColumns + `
		FROM attempts
		WHERE chat_id = $1 AND user_id = $2 AND status = 'pending'
		FOR UPDATE
	`
	a, err := scanAttempt(tx.QueryRow(query, chatID, userID))

	if err == sql.ErrNoRows {
		return repository.AnswerNoAttempt, nil, nil
	}
	if err != nil {
		return repository.AnswerNoAttempt, nil, err
	}

	// Past-deadline rows belong to the sweeper; leave them untouched.
	if a.Expired(time.Now()) {
		return repository.AnswerExpired, a, nil
	}

	if a.Answer == answer {
		update := `UPDATE attempts SET status = 'verified' WHERE id = $1`
		if _, err := tx.Exec(update, a.ID); err != nil {
			return repository.AnswerNoAttempt, nil, err
		}
		if err := tx.Commit(); err != nil {
			return repository.AnswerNoAttempt, nil, err
		}
		a.Status = domain.AttemptVerified
		return repository.AnswerCorrect, a, nil
	}

	update := `UPDATE attempts SET attempt_count = attempt_count + 1 WHERE id = $1`
	if _, err := tx.Exec(update, a.ID); err != nil {
		return repository.AnswerNoAttempt, nil, err
	}
	if err := tx.Commit(); err != nil {
		return repository.AnswerNoAttempt, nil, err
	}
	a.AttemptCount++
	return repository.AnswerIncorrect, a, nil
}

// FinishAttempt moves the pending attempt into a terminal status. The
// status guard makes it a compare-and-set: only one caller wins.
func (r *AttemptRepo) FinishAttempt(chatID, userID int64, status domain.AttemptStatus) (bool, error) {
	query := `
		UPDATE attempts
		SET status = $3
		WHERE chat_id = $1 AND user_id = $2 AND status = 'pending'
	`
	res, err := r.db.Exec(query, chatID, userID, status)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// CreateBlockedAttempt records an attempt blocked at join time, before
// any challenge was issued
func (r *AttemptRepo) CreateBlockedAttempt(chatID, userID int64, displayName, username string) error {
	query := `
		INSERT INTO attempts (chat_id, user_id, display_name, username, status, question, answer, expires_at)
		VALUES ($1, $2, $3, $4, 'blocked', '', '', NOW())
	`
	_, err := r.db.Exec(query, chatID, userID, displayName, username)
	return err
}

// SetChallengeMessage stores the delivered challenge message handle
func (r *AttemptRepo) SetChallengeMessage(attemptID int64, ref domain.MessageRef) error {
	query := `UPDATE attempts SET message_ref = $2 WHERE id = $1`
	_, err := r.db.Exec(query, attemptID, ref)
	return err
}

// ClaimExpired moves up to limit overdue pending attempts into
// expired_unverified and returns them. SKIP LOCKED keeps concurrent
// sweepers from claiming the same rows, so each attempt is handed out
// exactly once.
func (r *AttemptRepo) ClaimExpired(now time.Time, limit int) ([]domain.Attempt, error) {
	query := `
		UPDATE attempts
		SET status = 'expired_unverified'
		WHERE id IN (
			SELECT id FROM attempts
			WHERE status = 'pending' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + attemptColumns + `
	`
	rows, err := r.db.Query(query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []domain.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, *a)
	}

	return attempts, rows.Err()
}

// CountExpired counts expired attempts accumulated by a key
func (r *AttemptRepo) CountExpired(chatID, userID int64) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM attempts
		WHERE chat_id = $1 AND user_id = $2 AND status = 'expired_unverified'
	`
	var count int
	err := r.db.QueryRow(query, chatID, userID).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*domain.Attempt, error) {
	var a domain.Attempt
	var ref sql.NullString
	err := row.Scan(
		&a.ID, &a.ChatID, &a.UserID, &a.DisplayName, &a.Username, &a.Status,
		&a.Question, &a.Answer, &a.CreatedAt, &a.ExpiresAt, &a.AttemptCount, &ref,
	)
	if err != nil {
		return nil, err
	}
	if ref.Valid {
		a.MessageRef = domain.MessageRef(ref.String)
	}
	return &a, nil
}

package postgres

import (
	"database/sql"

	"gatekeeper/internal/domain"
)

// UserRepo implements repository.UserRepository
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new user repository
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `user_id, chat_id, display_name, username, status, created_at, updated_at`

// UpsertUser writes the verification summary for a (user, chat) pair.
// The CASE keeps a stored blocked status sticky: routine upserts from
// later verification flows can never quietly unblock a member.
func (r *UserRepo) UpsertUser(u domain.UserRecord) error {
	query := `
		INSERT INTO users (user_id, chat_id, display_name, username, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, chat_id)
		DO UPDATE SET
			display_name = EXCLUDED.display_name,
			username = EXCLUDED.username,
			status = CASE WHEN users.status = 'blocked' THEN users.status ELSE EXCLUDED.status END
	`
	_, err := r.db.Exec(query, u.UserID, u.ChatID, u.DisplayName, u.Username, u.Status)
	return err
}

// Unblock clears a blocked record back to pending so the member is
// challenged again on their next join
func (r *UserRepo) Unblock(chatID, userID int64) (bool, error) {
	query := `
		UPDATE users
		SET status = 'pending'
		WHERE user_id = $1 AND chat_id = $2 AND status = 'blocked'
	`
	res, err := r.db.Exec(query, userID, chatID)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// GetUser returns the record for a (user, chat) pair, or nil
func (r *UserRepo) GetUser(chatID, userID int64) (*domain.UserRecord, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE user_id = $1 AND chat_id = $2
	`
	var u domain.UserRecord
	err := r.db.QueryRow(query, userID, chatID).Scan(
		&u.UserID, &u.ChatID, &u.DisplayName, &u.Username, &u.Status, &u.CreatedAt, &u.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// ListBlocked returns blocked records for a chat, most recently updated
// first
func (r *UserRepo) ListBlocked(chatID int64) ([]domain.UserRecord, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE chat_id = $1 AND status = 'blocked'
		ORDER BY updated_at DESC
	`
	rows, err := r.db.Query(query, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

// ListUsersPage returns a keyset page of non-blocked records ordered by
// (chat_id, user_id). Keyset paging keeps batch scans restartable
// without offsets drifting under concurrent writes.
func (r *UserRepo) ListUsersPage(afterChatID, afterUserID int64, limit int) ([]domain.UserRecord, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE status != 'blocked' AND (chat_id, user_id) > ($1, $2)
		ORDER BY chat_id, user_id
		LIMIT $3
	`
	rows, err := r.db.Query(query, afterChatID, afterUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

// CountByStatus tallies stored records per status
func (r *UserRepo) CountByStatus() (map[domain.UserStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM users
		GROUP BY status
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.UserStatus]int)
	for rows.Next() {
		var status domain.UserStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

func collectUsers(rows *sql.Rows) ([]domain.UserRecord, error) {
	var users []domain.UserRecord
	for rows.Next() {
		var u domain.UserRecord
		if err := rows.Scan(&u.UserID, &u.ChatID, &u.DisplayName, &u.Username, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

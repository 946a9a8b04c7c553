package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/identca/identca/internal/models"
)

// RequestRepository handles account-request data access
type RequestRepository struct {
	db *sql.DB
}

// NewRequestRepository creates a new request repository
func NewRequestRepository(db *sql.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, username, display_name, email, status, challenge_hash, challenge_expires_at, created_at, last_modified_at`

// Create inserts a new account request. The partial unique indexes on
// username/email for non-terminal statuses make concurrent duplicate
// registrations lose with ErrConflict.
func (r *RequestRepository) Create(req *models.AccountRequest) error {
	query := `
		INSERT INTO requests (id, username, display_name, email, status, challenge_hash, challenge_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		req.ID,
		req.Username,
		req.DisplayName,
		req.Email,
		req.Status,
		nullString(req.ChallengeHash),
		nullTime(req.ChallengeExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create request: %w", err)
	}

	now := time.Now()
	req.CreatedAt = now
	req.LastModifiedAt = now

	return nil
}

// GetByID retrieves a request by ID
func (r *RequestRepository) GetByID(id string) (*models.AccountRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByChallengeHash retrieves a request by the hash of its challenge token.
// Consumed challenges are cleared, so a replayed token simply finds nothing.
func (r *RequestRepository) GetByChallengeHash(hash string) (*models.AccountRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE challenge_hash = ?`
	return r.scanOne(r.db.QueryRow(query, hash))
}

// HasOpenForIdentity reports whether a non-terminal request exists for the
// username or email. This is a fast-path check only; Create is the guard.
func (r *RequestRepository) HasOpenForIdentity(username, email string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM requests
		WHERE (username = ? OR email = ?) AND status IN ('pending', 'revalidating')
	`

	var count int
	if err := r.db.QueryRow(query, username, email).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check open requests: %w", err)
	}

	return count > 0, nil
}

// MarkCompleted transitions a redeemable request to completed and clears its
// challenge so the token cannot be replayed. The challenge hash guards the
// update: a concurrent redemption that already consumed the token makes this
// a no-op, surfaced as ErrNotFound.
func (r *RequestRepository) MarkCompleted(id, challengeHash string) error {
	query := `
		UPDATE requests
		SET status = 'completed', challenge_hash = NULL, challenge_expires_at = NULL,
		    last_modified_at = CURRENT_TIMESTAMP
		WHERE id = ? AND challenge_hash = ? AND status IN ('pending', 'revalidating')
	`

	result, err := r.db.Exec(query, id, challengeHash)
	if err != nil {
		return fmt.Errorf("failed to complete request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkRejected transitions a non-terminal request to rejected.
func (r *RequestRepository) MarkRejected(id string) error {
	query := `
		UPDATE requests
		SET status = 'rejected', challenge_hash = NULL, challenge_expires_at = NULL,
		    last_modified_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status NOT IN ('completed', 'rejected')
	`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return fmt.Errorf("failed to reject request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// StartRevalidation moves a completed request back to revalidating with a
// fresh challenge.
func (r *RequestRepository) StartRevalidation(id, challengeHash string, expiresAt time.Time) error {
	query := `
		UPDATE requests
		SET status = 'revalidating', challenge_hash = ?, challenge_expires_at = ?,
		    last_modified_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'completed'
	`

	result, err := r.db.Exec(query, challengeHash, expiresAt, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to start revalidation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// List lists requests, optionally filtered by status, most recent first.
func (r *RequestRepository) List(status string, limit int) ([]*models.AccountRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.AccountRequest

	for rows.Next() {
		req, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}

	return requests, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *RequestRepository) scanOne(row *sql.Row) (*models.AccountRequest, error) {
	req, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (r *RequestRepository) scanRow(row rowScanner) (*models.AccountRequest, error) {
	req := &models.AccountRequest{}
	var challengeHash sql.NullString
	var challengeExpiresAt sql.NullTime

	err := row.Scan(
		&req.ID,
		&req.Username,
		&req.DisplayName,
		&req.Email,
		&req.Status,
		&challengeHash,
		&challengeExpiresAt,
		&req.CreatedAt,
		&req.LastModifiedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	if challengeHash.Valid {
		req.ChallengeHash = challengeHash.String
	}
	if challengeExpiresAt.Valid {
		req.ChallengeExpiresAt = &challengeExpiresAt.Time
	}

	return req, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

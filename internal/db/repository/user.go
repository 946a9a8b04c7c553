package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/identca/identca/internal/models"
)

// UserRepository handles user directory data access
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, display_name, email, status, responsible_party, created_at, updated_at`

// CreateFromRequest inserts a user sourced from its originating account
// request. The INSERT..SELECT enforces at the store that a matching,
// redeemable request with the same id and username exists; without one, no
// row is inserted and ErrNotFound is returned. This is the defense-in-depth
// side of the single user-creation gate.
func (r *UserRepository) CreateFromRequest(user *models.User, requestID string) error {
	query := `
		INSERT INTO users (id, username, display_name, email, status, responsible_party)
		SELECT r.id, r.username, r.display_name, r.email, ?, ?
		FROM requests r
		WHERE r.id = ? AND r.username = ? AND r.status IN ('pending', 'revalidating')
	`

	result, err := r.db.Exec(query,
		models.UserStatusActive,
		nullString(user.ResponsibleParty),
		requestID,
		user.Username,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	user.ID = requestID
	user.Status = models.UserStatusActive
	user.CreatedAt = time.Now()
	user.UpdatedAt = time.Now()

	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	return r.scanOne(r.db.QueryRow(query, username))
}

// ExistsForIdentity reports whether a user already holds the username or
// email. Fast-path check for request creation.
func (r *UserRepository) ExistsForIdentity(username, email string) (bool, error) {
	query := `SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`

	var count int
	if err := r.db.QueryRow(query, username, email).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check users: %w", err)
	}

	return count > 0, nil
}

// UpdateStatus updates a user's status
func (r *UserRepository) UpdateStatus(id, status string) error {
	query := `
		UPDATE users
		SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := r.db.Exec(query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
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

// List lists all users, most recent first
func (r *UserRepository) List(limit int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User

	for rows.Next() {
		user, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	user, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *UserRepository) scanRow(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var responsibleParty sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.DisplayName,
		&user.Email,
		&user.Status,
		&responsibleParty,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if responsibleParty.Valid {
		user.ResponsibleParty = responsibleParty.String
	}

	return user, nil
}

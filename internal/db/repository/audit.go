package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/identca/identca/internal/models"
)

// AuditRepository handles audit log data access
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create creates a new audit log entry
func (r *AuditRepository) Create(log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (action, username, client_ip, user_agent, success, error_msg, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	success := 0
	if log.Success {
		success = 1
	}

	result, err := r.db.Exec(query,
		log.Action,
		log.Username,
		log.ClientIP,
		log.UserAgent,
		success,
		log.ErrorMsg,
		log.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	log.ID = id
	log.Timestamp = time.Now()

	return nil
}

// List lists audit logs with optional filters
func (r *AuditRepository) List(username string, action string, limit int) ([]*models.AuditLog, error) {
	query := `
		SELECT id, timestamp, action, username, client_ip, user_agent, success, error_msg, details
		FROM audit_logs
		WHERE 1=1
	`
	args := []interface{}{}

	if username != "" {
		query += " AND username = ?"
		args = append(args, username)
	}

	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}

	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog

	for rows.Next() {
		entry := &models.AuditLog{}
		var username, userAgent, errorMsg, details sql.NullString
		var success int

		err := rows.Scan(
			&entry.ID,
			&entry.Timestamp,
			&entry.Action,
			&username,
			&entry.ClientIP,
			&userAgent,
			&success,
			&errorMsg,
			&details,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		entry.Username = username.String
		entry.UserAgent = userAgent.String
		entry.ErrorMsg = errorMsg.String
		entry.Details = details.String
		entry.Success = success == 1

		logs = append(logs, entry)
	}

	return logs, rows.Err()
}

package db

import (
	"database/sql"
	"fmt"
)

// RunMigrations executes all database migrations
func RunMigrations(db *DB) error {
	// Check if schema_version table exists
	var tableExists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("failed to check schema_version table: %w", err)
	}

	if !tableExists {
		// First time initialization
		if err := initializeSchema(db); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
		return nil
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow(`
		SELECT version FROM schema_version
		ORDER BY applied_at DESC LIMIT 1
	`).Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	// Apply migrations if needed
	// Currently only version 1 exists
	if currentVersion < 1 {
		return fmt.Errorf("invalid schema version: %d", currentVersion)
	}

	return nil
}

// initializeSchema creates all tables for a new database
func initializeSchema(db *DB) error {
	tx, err := db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Schema version table
	if err := execSQL(tx, schemaVersionTable); err != nil {
		return err
	}

	// Account requests table
	if err := execSQL(tx, requestsTable); err != nil {
		return err
	}
	if err := execSQL(tx, requestsIndexes); err != nil {
		return err
	}

	// Users table
	if err := execSQL(tx, usersTable); err != nil {
		return err
	}
	if err := execSQL(tx, usersIndexes); err != nil {
		return err
	}

	// Certificates table
	if err := execSQL(tx, certificatesTable); err != nil {
		return err
	}
	if err := execSQL(tx, certificatesIndexes); err != nil {
		return err
	}

	// Audit logs table
	if err := execSQL(tx, auditLogsTable); err != nil {
		return err
	}
	if err := execSQL(tx, auditLogsIndexes); err != nil {
		return err
	}

	// Insert initial schema version
	if err := execSQL(tx, `INSERT INTO schema_version (version) VALUES (1)`); err != nil {
		return err
	}

	return tx.Commit()
}

// execSQL executes a SQL statement
func execSQL(tx *sql.Tx, query string) error {
	_, err := tx.Exec(query)
	return err
}

// Schema definitions.
//
// The partial unique indexes are the authoritative guard for the identity
// invariants: at most one non-terminal request and one blocking certificate
// per username/email, and at most one row holding a given active challenge.
// Application-level pre-checks exist only as fast paths.
const (
	schemaVersionTable = `
CREATE TABLE schema_version (
    version INTEGER NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	requestsTable = `
CREATE TABLE requests (
    id                   TEXT PRIMARY KEY,
    username             TEXT NOT NULL,
    display_name         TEXT NOT NULL,
    email                TEXT NOT NULL,
    status               TEXT NOT NULL DEFAULT 'pending',
    challenge_hash       TEXT,
    challenge_expires_at DATETIME,
    created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_modified_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	requestsIndexes = `
CREATE UNIQUE INDEX idx_requests_challenge ON requests(challenge_hash) WHERE challenge_hash IS NOT NULL;
CREATE UNIQUE INDEX idx_requests_open_username ON requests(username) WHERE status IN ('pending', 'revalidating');
CREATE UNIQUE INDEX idx_requests_open_email ON requests(email) WHERE status IN ('pending', 'revalidating');
CREATE INDEX idx_requests_status ON requests(status);
CREATE INDEX idx_requests_created_at ON requests(created_at)`

	usersTable = `
CREATE TABLE users (
    id                TEXT PRIMARY KEY,
    username          TEXT NOT NULL UNIQUE,
    display_name      TEXT NOT NULL,
    email             TEXT NOT NULL,
    status            TEXT NOT NULL DEFAULT 'active',
    responsible_party TEXT,
    created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

	usersIndexes = `
CREATE INDEX idx_users_email ON users(email);
CREATE INDEX idx_users_status ON users(status)`

	certificatesTable = `
CREATE TABLE certificates (
    serial_number        TEXT PRIMARY KEY,
    user_id              TEXT NOT NULL,
    username             TEXT NOT NULL,
    email                TEXT NOT NULL,
    fingerprint          TEXT,
    status               TEXT NOT NULL DEFAULT 'reserved',
    not_before           DATETIME,
    not_after            DATETIME,
    revoked_at           DATETIME,
    revocation_reason    TEXT,
    is_first             INTEGER NOT NULL DEFAULT 0,
    issuer_code_version  TEXT,
    challenge_hash       TEXT,
    challenge_expires_at DATETIME,
    email_verified       INTEGER NOT NULL DEFAULT 0,
    created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,

    FOREIGN KEY (user_id) REFERENCES users(id)
)`

	certificatesIndexes = `
CREATE UNIQUE INDEX idx_certs_live_username ON certificates(username) WHERE status IN ('reserved', 'active');
CREATE UNIQUE INDEX idx_certs_live_email ON certificates(email) WHERE status IN ('reserved', 'active');
CREATE UNIQUE INDEX idx_certs_fingerprint ON certificates(fingerprint) WHERE fingerprint IS NOT NULL;
CREATE INDEX idx_certs_username ON certificates(username);
CREATE INDEX idx_certs_email ON certificates(email);
CREATE INDEX idx_certs_status ON certificates(status);
CREATE INDEX idx_certs_created_at ON certificates(created_at)`

	auditLogsTable = `
CREATE TABLE audit_logs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    action      TEXT NOT NULL,
    username    TEXT,
    client_ip   TEXT NOT NULL,
    user_agent  TEXT,
    success     INTEGER NOT NULL,
    error_msg   TEXT,
    details     TEXT
)`

	auditLogsIndexes = `
CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp);
CREATE INDEX idx_audit_action ON audit_logs(action);
CREATE INDEX idx_audit_username ON audit_logs(username);
CREATE INDEX idx_audit_success ON audit_logs(success)`
)

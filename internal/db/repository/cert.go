package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/identca/identca/internal/models"
)

// CertRepository handles certificate record data access
type CertRepository struct {
	db *sql.DB
}

// NewCertRepository creates a new certificate repository
func NewCertRepository(db *sql.DB) *CertRepository {
	return &CertRepository{db: db}
}

const certColumns = `serial_number, user_id, username, email, fingerprint, status,
       not_before, not_after, revoked_at, revocation_reason, is_first,
       issuer_code_version, challenge_hash, challenge_expires_at, email_verified, created_at`

// Reserve inserts an incomplete record for a serial that has just been
// allocated. The partial unique indexes on username/email over
// reserved+active rows make a second reservation for a live identity fail
// with ErrConflict, which is the authoritative duplicate check.
func (r *CertRepository) Reserve(rec *models.CertificateRecord) error {
	query := `
		INSERT INTO certificates (serial_number, user_id, username, email, status, is_first, issuer_code_version)
		VALUES (?, ?, ?, ?, 'reserved', ?, ?)
	`

	_, err := r.db.Exec(query,
		rec.SerialNumber,
		rec.UserID,
		rec.Username,
		rec.Email,
		rec.IsFirstCertificate,
		nullString(rec.IssuerCodeVersion),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to reserve certificate record: %w", err)
	}

	rec.Status = models.CertStatusReserved
	rec.CreatedAt = time.Now()

	return nil
}

// Finalize binds the fingerprint of the signed certificate to its reserved
// record and activates it. Calling it again with the same fingerprint is a
// no-op; a different fingerprint for an already-finalized serial is an error.
func (r *CertRepository) Finalize(serial, fingerprint string, notBefore, notAfter time.Time) error {
	existing, err := r.GetBySerial(serial)
	if err != nil {
		return err
	}

	if existing.Fingerprint != "" {
		if existing.Fingerprint == fingerprint {
			return nil
		}
		return ErrFingerprintMismatch
	}

	query := `
		UPDATE certificates
		SET fingerprint = ?, status = 'active', not_before = ?, not_after = ?
		WHERE serial_number = ? AND status = 'reserved'
	`

	result, err := r.db.Exec(query, fingerprint, notBefore, notAfter, serial)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to finalize certificate record: %w", err)
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

// Revoke marks a certificate revoked. The transition is one-way; revoking an
// already-revoked certificate is a no-op. Revoked rows remain queryable but
// stop blocking new issuance for the identity.
func (r *CertRepository) Revoke(serial, reason string) error {
	query := `
		UPDATE certificates
		SET status = 'revoked', revoked_at = CURRENT_TIMESTAMP, revocation_reason = ?
		WHERE serial_number = ? AND status != 'revoked'
	`

	result, err := r.db.Exec(query, reason, serial)
	if err != nil {
		return fmt.Errorf("failed to revoke certificate: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Distinguish "unknown serial" from "already revoked"
		if _, err := r.GetBySerial(serial); err != nil {
			return err
		}
	}

	return nil
}

// GetBySerial retrieves a certificate record by serial number
func (r *CertRepository) GetBySerial(serial string) (*models.CertificateRecord, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE serial_number = ?`
	return r.scanOne(r.db.QueryRow(query, serial))
}

// GetActiveByUsername retrieves the blocking (reserved or active) record for
// a username, if any. Fast-path duplicate check for issuance.
func (r *CertRepository) GetActiveByUsername(username string) (*models.CertificateRecord, error) {
	query := `
		SELECT ` + certColumns + `
		FROM certificates
		WHERE username = ? AND status IN ('reserved', 'active')
	`
	return r.scanOne(r.db.QueryRow(query, username))
}

// ListByUsername lists all records for a username, most recent first
func (r *CertRepository) ListByUsername(username string, limit int) ([]*models.CertificateRecord, error) {
	query := `
		SELECT ` + certColumns + `
		FROM certificates
		WHERE username = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	return r.scanMany(query, username, limit)
}

// ListByEmail lists all records for an email, most recent first
func (r *CertRepository) ListByEmail(email string, limit int) ([]*models.CertificateRecord, error) {
	query := `
		SELECT ` + certColumns + `
		FROM certificates
		WHERE email = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	return r.scanMany(query, email, limit)
}

// List lists records, optionally filtered by status, most recent first
func (r *CertRepository) List(status string, limit int) ([]*models.CertificateRecord, error) {
	query := `SELECT ` + certColumns + ` FROM certificates WHERE 1=1`
	args := []interface{}{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	return r.scanMany(query, args...)
}

// CountByStatus returns the number of records in the given status
func (r *CertRepository) CountByStatus(status string) (int, error) {
	query := `SELECT COUNT(*) FROM certificates WHERE status = ?`

	var count int
	if err := r.db.QueryRow(query, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count certificates: %w", err)
	}

	return count, nil
}

// ListStaleReservations lists reserved records older than the grace period.
// These are issuances that never finalized (caller disconnected, storage
// failed after signing) and need administrative cleanup or re-issuance.
func (r *CertRepository) ListStaleReservations(grace time.Duration) ([]*models.CertificateRecord, error) {
	query := `
		SELECT ` + certColumns + `
		FROM certificates
		WHERE status = 'reserved' AND created_at < ?
		ORDER BY created_at ASC
	`
	// created_at rows come from CURRENT_TIMESTAMP, which is UTC
	return r.scanMany(query, time.Now().Add(-grace).UTC())
}

// SweepAbandoned marks reserved records older than the grace period as
// abandoned, freeing the identity for re-issuance. Returns the number of
// records swept.
func (r *CertRepository) SweepAbandoned(grace time.Duration) (int64, error) {
	query := `
		UPDATE certificates
		SET status = 'abandoned'
		WHERE status = 'reserved' AND created_at < ?
	`

	result, err := r.db.Exec(query, time.Now().Add(-grace).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep abandoned reservations: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return count, nil
}

// SetEmailChallenge stores the hash and expiry of an email-ownership
// challenge on the certificate record.
func (r *CertRepository) SetEmailChallenge(serial, challengeHash string, expiresAt time.Time) error {
	query := `
		UPDATE certificates
		SET challenge_hash = ?, challenge_expires_at = ?, email_verified = 0
		WHERE serial_number = ?
	`

	result, err := r.db.Exec(query, challengeHash, expiresAt, serial)
	if err != nil {
		return fmt.Errorf("failed to set email challenge: %w", err)
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

// ConsumeEmailChallenge marks the email verified and clears the challenge so
// it cannot be replayed. The hash and expiry guard the update; a stale or
// already-consumed token affects no rows and returns ErrNotFound.
func (r *CertRepository) ConsumeEmailChallenge(serial, challengeHash string) error {
	query := `
		UPDATE certificates
		SET email_verified = 1, challenge_hash = NULL, challenge_expires_at = NULL
		WHERE serial_number = ? AND challenge_hash = ? AND challenge_expires_at > ?
	`

	result, err := r.db.Exec(query, serial, challengeHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to consume email challenge: %w", err)
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

func (r *CertRepository) scanMany(query string, args ...interface{}) ([]*models.CertificateRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	var certs []*models.CertificateRecord

	for rows.Next() {
		cert, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}

	return certs, rows.Err()
}

func (r *CertRepository) scanOne(row *sql.Row) (*models.CertificateRecord, error) {
	cert, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cert, nil
}

func (r *CertRepository) scanRow(row rowScanner) (*models.CertificateRecord, error) {
	cert := &models.CertificateRecord{}
	var fingerprint, revocationReason, issuerCodeVersion, challengeHash sql.NullString
	var notBefore, notAfter, revokedAt, challengeExpiresAt sql.NullTime
	var isFirst, emailVerified int

	err := row.Scan(
		&cert.SerialNumber,
		&cert.UserID,
		&cert.Username,
		&cert.Email,
		&fingerprint,
		&cert.Status,
		&notBefore,
		&notAfter,
		&revokedAt,
		&revocationReason,
		&isFirst,
		&issuerCodeVersion,
		&challengeHash,
		&challengeExpiresAt,
		&emailVerified,
		&cert.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan certificate: %w", err)
	}

	cert.Fingerprint = fingerprint.String
	cert.RevocationReason = revocationReason.String
	cert.IssuerCodeVersion = issuerCodeVersion.String
	cert.ChallengeHash = challengeHash.String
	cert.IsFirstCertificate = isFirst == 1
	cert.EmailVerified = emailVerified == 1

	if notBefore.Valid {
		cert.NotBefore = &notBefore.Time
	}
	if notAfter.Valid {
		cert.NotAfter = &notAfter.Time
	}
	if revokedAt.Valid {
		cert.RevokedAt = &revokedAt.Time
	}
	if challengeExpiresAt.Valid {
		cert.ChallengeExpiresAt = &challengeExpiresAt.Time
	}

	return cert, nil
}

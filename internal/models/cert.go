package models

import "time"

// CertificateRecord represents a certificate issuance record keyed by serial
// number. A record is created in status "reserved" before signing and only
// becomes "active" once the fingerprint of the signed certificate has been
// recorded. A reserved record with no fingerprint is an issuance in progress
// (or abandoned mid-flight) and must never be treated as a usable certificate.
type CertificateRecord struct {
	SerialNumber       string     `json:"serial_number"`
	UserID             string     `json:"user_id"`
	Username           string     `json:"username"`
	Email              string     `json:"email"`
	Fingerprint        string     `json:"fingerprint,omitempty"`
	Status             string     `json:"status"`
	NotBefore          *time.Time `json:"not_before,omitempty"`
	NotAfter           *time.Time `json:"not_after,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	RevocationReason   string     `json:"revocation_reason,omitempty"`
	IsFirstCertificate bool       `json:"is_first_certificate"`
	IssuerCodeVersion  string     `json:"issuer_code_version,omitempty"`
	ChallengeHash      string     `json:"-"` // Email-ownership proof, never exposed
	ChallengeExpiresAt *time.Time `json:"-"`
	EmailVerified      bool       `json:"email_verified"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Certificate status constants
const (
	CertStatusReserved  = "reserved"
	CertStatusActive    = "active"
	CertStatusRevoked   = "revoked"
	CertStatusAbandoned = "abandoned"
)

// IsUsable reports whether the record describes a finalized, non-revoked
// certificate.
func (c *CertificateRecord) IsUsable() bool {
	return c.Status == CertStatusActive && c.Fingerprint != ""
}

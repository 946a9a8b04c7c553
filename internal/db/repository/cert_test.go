package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identca/identca/internal/models"
)

func reservation(serial string, user *models.User) *models.CertificateRecord {
	return &models.CertificateRecord{
		SerialNumber: serial,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
	}
}

func TestReserveBlocksLiveIdentity(t *testing.T) {
	database := openTestDB(t)
	certs := NewCertRepository(database.DB)

	alice := seedUser(t, database, "alice", "alice@example.com")
	require.NoError(t, certs.Reserve(reservation("serial-1", alice)))

	// A second reservation for a live identity loses, whatever the serial
	assert.ErrorIs(t, certs.Reserve(reservation("serial-2", alice)), ErrConflict)

	// Serial numbers are globally unique
	bob := seedUser(t, database, "bob", "bob@example.com")
	assert.ErrorIs(t, certs.Reserve(reservation("serial-1", bob)), ErrConflict)
}

func TestFinalizeIdempotency(t *testing.T) {
	database := openTestDB(t)
	certs := NewCertRepository(database.DB)

	alice := seedUser(t, database, "alice", "alice@example.com")
	require.NoError(t, certs.Reserve(reservation("serial-1", alice)))

	notBefore := time.Now()
	notAfter := notBefore.Add(24 * time.Hour)

	require.NoError(t, certs.Finalize("serial-1", "SHA256:abc", notBefore, notAfter))

	got, err := certs.GetBySerial("serial-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusActive, got.Status)
	assert.Equal(t, "SHA256:abc", got.Fingerprint)
	assert.True(t, got.IsUsable())

	// Repeating with the same fingerprint is a no-op
	require.NoError(t, certs.Finalize("serial-1", "SHA256:abc", notBefore, notAfter))

	// A different fingerprint for the same serial is refused
	err = certs.Finalize("serial-1", "SHA256:other", notBefore, notAfter)
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	assert.ErrorIs(t, certs.Finalize("missing", "SHA256:abc", notBefore, notAfter), ErrNotFound)
}

func TestRevokeFreesIdentity(t *testing.T) {
	database := openTestDB(t)
	certs := NewCertRepository(database.DB)

	alice := seedUser(t, database, "alice", "alice@example.com")
	require.NoError(t, certs.Reserve(reservation("serial-1", alice)))
	require.NoError(t, certs.Finalize("serial-1", "SHA256:abc", time.Now(), time.Now().Add(time.Hour)))

	require.NoError(t, certs.Revoke("serial-1", "key compromise"))

	got, err := certs.GetBySerial("serial-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusRevoked, got.Status)
	assert.Equal(t, "key compromise", got.RevocationReason)
	assert.NotNil(t, got.RevokedAt)
	assert.False(t, got.IsUsable())

	// One-way and repeatable; the reason of the first revocation stands
	require.NoError(t, certs.Revoke("serial-1", "different reason"))
	got, err = certs.GetBySerial("serial-1")
	require.NoError(t, err)
	assert.Equal(t, "key compromise", got.RevocationReason)

	assert.ErrorIs(t, certs.Revoke("missing", "whatever"), ErrNotFound)

	// A revoked record no longer blocks issuance for the identity
	require.NoError(t, certs.Reserve(reservation("serial-2", alice)))
}

func TestSweepAbandonedReservations(t *testing.T) {
	database := openTestDB(t)
	certs := NewCertRepository(database.DB)

	alice := seedUser(t, database, "alice", "alice@example.com")
	require.NoError(t, certs.Reserve(reservation("serial-1", alice)))

	// Inside the grace period nothing is stale
	stale, err := certs.ListStaleReservations(time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)

	// With a zero grace period the fresh reservation is already stale
	stale, err = certs.ListStaleReservations(0)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "serial-1", stale[0].SerialNumber)

	swept, err := certs.SweepAbandoned(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	got, err := certs.GetBySerial("serial-1")
	require.NoError(t, err)
	assert.Equal(t, models.CertStatusAbandoned, got.Status)

	// Abandoned rows stop blocking the identity
	require.NoError(t, certs.Reserve(reservation("serial-2", alice)))

	// Finalized records are never swept
	require.NoError(t, certs.Finalize("serial-2", "SHA256:abc", time.Now(), time.Now().Add(time.Hour)))
	swept, err = certs.SweepAbandoned(0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), swept)
}

func TestEmailChallengeLifecycle(t *testing.T) {
	database := openTestDB(t)
	certs := NewCertRepository(database.DB)

	alice := seedUser(t, database, "alice", "alice@example.com")
	require.NoError(t, certs.Reserve(reservation("serial-1", alice)))
	require.NoError(t, certs.Finalize("serial-1", "SHA256:abc", time.Now(), time.Now().Add(time.Hour)))

	require.NoError(t, certs.SetEmailChallenge("serial-1", "challenge-hash", time.Now().Add(30*time.Minute)))

	// Wrong hash never consumes
	assert.ErrorIs(t, certs.ConsumeEmailChallenge("serial-1", "wrong"), ErrNotFound)

	require.NoError(t, certs.ConsumeEmailChallenge("serial-1", "challenge-hash"))

	got, err := certs.GetBySerial("serial-1")
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
	assert.Empty(t, got.ChallengeHash)

	// Single use
	assert.ErrorIs(t, certs.ConsumeEmailChallenge("serial-1", "challenge-hash"), ErrNotFound)

	// Expired challenges never consume
	require.NoError(t, certs.SetEmailChallenge("serial-1", "late-hash", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, certs.ConsumeEmailChallenge("serial-1", "late-hash"), ErrNotFound)
}

func TestCertListing(t *testing.T) {
	database := openTestDB(t)
	certs := NewCertRepository(database.DB)

	alice := seedUser(t, database, "alice", "alice@example.com")
	bob := seedUser(t, database, "bob", "bob@example.com")

	require.NoError(t, certs.Reserve(reservation("serial-1", alice)))
	require.NoError(t, certs.Finalize("serial-1", "SHA256:a1", time.Now(), time.Now().Add(time.Hour)))
	require.NoError(t, certs.Reserve(reservation("serial-2", bob)))

	byUser, err := certs.ListByUsername("alice", 10)
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "serial-1", byUser[0].SerialNumber)

	byEmail, err := certs.ListByEmail("bob@example.com", 10)
	require.NoError(t, err)
	require.Len(t, byEmail, 1)
	assert.Equal(t, "serial-2", byEmail[0].SerialNumber)

	reserved, err := certs.List(models.CertStatusReserved, 10)
	require.NoError(t, err)
	require.Len(t, reserved, 1)
	assert.Equal(t, "serial-2", reserved[0].SerialNumber)

	all, err := certs.List("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	count, err := certs.CountByStatus(models.CertStatusActive)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	active, err := certs.GetActiveByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, "serial-1", active.SerialNumber)

	_, err = certs.GetActiveByUsername("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

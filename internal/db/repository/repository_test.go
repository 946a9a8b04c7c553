package repository

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identca/identca/internal/db"
	"github.com/identca/identca/internal/models"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.RunMigrations(database))
	return database
}

func newPendingRequest(username, email, challengeHash string) *models.AccountRequest {
	expiresAt := time.Now().Add(time.Hour)
	return &models.AccountRequest{
		ID:                 uuid.NewString(),
		Username:           username,
		DisplayName:        "Test " + username,
		Email:              email,
		Status:             models.RequestStatusPending,
		ChallengeHash:      challengeHash,
		ChallengeExpiresAt: &expiresAt,
	}
}

// seedUser creates a request and redeems it into a user, the only creation
// path the store allows.
func seedUser(t *testing.T, database *db.DB, username, email string) *models.User {
	t.Helper()

	requests := NewRequestRepository(database.DB)
	users := NewUserRepository(database.DB)

	req := newPendingRequest(username, email, "hash-"+username)
	require.NoError(t, requests.Create(req))

	user := &models.User{Username: username, DisplayName: req.DisplayName, Email: email}
	require.NoError(t, users.CreateFromRequest(user, req.ID))
	require.NoError(t, requests.MarkCompleted(req.ID, req.ChallengeHash))

	return user
}

func TestRequestCreateAndGet(t *testing.T) {
	database := openTestDB(t)
	repo := NewRequestRepository(database.DB)

	req := newPendingRequest("alice", "alice@example.com", "hash-1")
	require.NoError(t, repo.Create(req))

	got, err := repo.GetByID(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, models.RequestStatusPending, got.Status)
	assert.NotNil(t, got.ChallengeExpiresAt)

	byHash, err := repo.GetByChallengeHash("hash-1")
	require.NoError(t, err)
	assert.Equal(t, req.ID, byHash.ID)

	_, err = repo.GetByID("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestOpenIdentityUnique(t *testing.T) {
	database := openTestDB(t)
	repo := NewRequestRepository(database.DB)

	require.NoError(t, repo.Create(newPendingRequest("alice", "alice@example.com", "hash-1")))

	// Same username, different email
	err := repo.Create(newPendingRequest("alice", "other@example.com", "hash-2"))
	assert.ErrorIs(t, err, ErrConflict)

	// Same email, different username
	err = repo.Create(newPendingRequest("bob", "alice@example.com", "hash-3"))
	assert.ErrorIs(t, err, ErrConflict)

	open, err := repo.HasOpenForIdentity("alice", "nobody@example.com")
	require.NoError(t, err)
	assert.True(t, open)
}

func TestRequestMarkCompletedConsumesChallenge(t *testing.T) {
	database := openTestDB(t)
	repo := NewRequestRepository(database.DB)

	req := newPendingRequest("alice", "alice@example.com", "hash-1")
	require.NoError(t, repo.Create(req))

	// The challenge hash guards the transition
	assert.ErrorIs(t, repo.MarkCompleted(req.ID, "wrong-hash"), ErrNotFound)

	require.NoError(t, repo.MarkCompleted(req.ID, "hash-1"))

	got, err := repo.GetByID(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, got.Status)
	assert.Empty(t, got.ChallengeHash)

	// Consumed challenges find nothing, and the transition cannot repeat
	_, err = repo.GetByChallengeHash("hash-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, repo.MarkCompleted(req.ID, "hash-1"), ErrNotFound)

	// A terminal request frees the identity for a new registration
	require.NoError(t, repo.Create(newPendingRequest("alice", "alice@example.com", "hash-2")))
}

func TestRequestMarkRejected(t *testing.T) {
	database := openTestDB(t)
	repo := NewRequestRepository(database.DB)

	req := newPendingRequest("alice", "alice@example.com", "hash-1")
	require.NoError(t, repo.Create(req))

	require.NoError(t, repo.MarkRejected(req.ID))

	got, err := repo.GetByID(req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, got.Status)

	// Terminal statuses cannot be rejected again
	assert.ErrorIs(t, repo.MarkRejected(req.ID), ErrNotFound)
	assert.ErrorIs(t, repo.MarkRejected("missing"), ErrNotFound)
}

func TestRequestStartRevalidation(t *testing.T) {
	database := openTestDB(t)
	repo := NewRequestRepository(database.DB)

	req := newPendingRequest("alice", "alice@example.com", "hash-1")
	require.NoError(t, repo.Create(req))

	// Only completed requests can revalidate
	err := repo.StartRevalidation(req.ID, "hash-2", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.MarkCompleted(req.ID, "hash-1"))
	require.NoError(t, repo.StartRevalidation(req.ID, "hash-2", time.Now().Add(time.Hour)))

	got, err := repo.GetByChallengeHash("hash-2")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRevalidating, got.Status)
	assert.True(t, got.IsRedeemable())
}

func TestUserCreateFromRequest(t *testing.T) {
	database := openTestDB(t)
	requests := NewRequestRepository(database.DB)
	users := NewUserRepository(database.DB)

	// Without a matching redeemable request the store inserts nothing
	err := users.CreateFromRequest(&models.User{Username: "alice"}, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	req := newPendingRequest("alice", "alice@example.com", "hash-1")
	require.NoError(t, requests.Create(req))

	// Username must match the request row
	err = users.CreateFromRequest(&models.User{Username: "mallory"}, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	user := &models.User{Username: "alice", DisplayName: "Test alice", Email: "alice@example.com"}
	require.NoError(t, users.CreateFromRequest(user, req.ID))
	assert.Equal(t, req.ID, user.ID)
	assert.Equal(t, models.UserStatusActive, user.Status)

	got, err := users.GetByUsername("alice")
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "alice@example.com", got.Email)

	exists, err := users.ExistsForIdentity("alice", "nobody@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = users.ExistsForIdentity("nobody", "alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUserCreateFromRequestDuplicateUsername(t *testing.T) {
	database := openTestDB(t)
	requests := NewRequestRepository(database.DB)
	users := NewUserRepository(database.DB)

	seedUser(t, database, "alice", "alice@example.com")

	// A later request for the same username loses to the users unique index
	req := newPendingRequest("alice", "alice-two@example.com", "hash-2")
	require.NoError(t, requests.Create(req))

	err := users.CreateFromRequest(&models.User{Username: "alice"}, req.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestUserUpdateStatus(t *testing.T) {
	database := openTestDB(t)
	users := NewUserRepository(database.DB)

	user := seedUser(t, database, "alice", "alice@example.com")

	require.NoError(t, users.UpdateStatus(user.ID, models.UserStatusDisabled))

	got, err := users.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusDisabled, got.Status)

	assert.ErrorIs(t, users.UpdateStatus("missing", models.UserStatusActive), ErrNotFound)
}

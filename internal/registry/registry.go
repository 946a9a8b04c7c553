// Package registry owns the account-request lifecycle state machine:
// pending → completed on redemption within the validation window, pending →
// rejected on timeout or administrative action, and completed →
// revalidating → completed for re-validation. Redeeming a challenge is the
// single authorization gate for user creation; no other code path creates
// users.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/identca/identca/internal/auth"
	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/mail"
	"github.com/identca/identca/internal/models"
)

// Registry errors. IdentityTaken is a conflict; the rest are client-input
// failures on redemption.
var (
	ErrIdentityTaken     = errors.New("username or email already has an open request or user")
	ErrChallengeNotFound = errors.New("challenge not found or already processed")
	ErrChallengeExpired  = errors.New("challenge has expired")
	ErrNotRedeemable     = errors.New("request is not in a redeemable status")
)

// Registry drives the account-request state machine.
type Registry struct {
	requests *repository.RequestRepository
	users    *repository.UserRepository
	mailer   mail.Sender
	window   time.Duration
	logger   *zap.Logger
}

// New creates a registry with the given validation window
func New(
	requests *repository.RequestRepository,
	users *repository.UserRepository,
	mailer mail.Sender,
	window time.Duration,
	logger *zap.Logger,
) *Registry {
	return &Registry{
		requests: requests,
		users:    users,
		mailer:   mailer,
		window:   window,
		logger:   logger,
	}
}

// CreateRequest registers a new identity request in status pending and
// returns it together with the raw challenge token. Only the hash of the
// token is stored; the returned value is the single copy. The duplicate
// checks against open requests and existing users are fast paths — the
// unique indexes behind RequestRepository.Create decide races.
func (r *Registry) CreateRequest(username, displayName, email string) (*models.AccountRequest, string, error) {
	if open, err := r.requests.HasOpenForIdentity(username, email); err != nil {
		return nil, "", err
	} else if open {
		return nil, "", ErrIdentityTaken
	}

	if exists, err := r.users.ExistsForIdentity(username, email); err != nil {
		return nil, "", err
	} else if exists {
		return nil, "", ErrIdentityTaken
	}

	token, err := auth.GenerateChallenge()
	if err != nil {
		return nil, "", err
	}

	expiresAt := time.Now().Add(r.window)
	req := &models.AccountRequest{
		ID:                 uuid.NewString(),
		Username:           username,
		DisplayName:        displayName,
		Email:              email,
		Status:             models.RequestStatusPending,
		ChallengeHash:      auth.HashChallenge(token),
		ChallengeExpiresAt: &expiresAt,
	}

	if err := r.requests.Create(req); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, "", ErrIdentityTaken
		}
		return nil, "", err
	}

	r.sendValidationMail(req, token)

	return req, token, nil
}

// FindByChallenge looks up the request holding the presented token.
func (r *Registry) FindByChallenge(token string) (*models.AccountRequest, error) {
	req, err := r.requests.GetByChallengeHash(auth.HashChallenge(token))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrChallengeNotFound
	}
	return req, err
}

// CompleteFromChallenge redeems a challenge token: it validates status and
// expiry, creates the user (first redemption only), and transitions the
// request to completed, consuming the challenge. A token redeemed twice
// fails with ErrChallengeNotFound on the second attempt; no second user is
// ever created.
func (r *Registry) CompleteFromChallenge(token string) (*models.User, error) {
	req, err := r.FindByChallenge(token)
	if err != nil {
		return nil, err
	}

	if !req.IsRedeemable() {
		return nil, ErrNotRedeemable
	}

	if req.ChallengeExpiresAt == nil || time.Now().After(*req.ChallengeExpiresAt) {
		return nil, ErrChallengeExpired
	}

	var user *models.User

	switch req.Status {
	case models.RequestStatusPending:
		user = &models.User{
			Username:    req.Username,
			DisplayName: req.DisplayName,
			Email:       req.Email,
		}
		if err := r.users.CreateFromRequest(user, req.ID); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, ErrIdentityTaken
			}
			if errors.Is(err, repository.ErrNotFound) {
				// The backing request changed under us; treat as consumed.
				return nil, ErrChallengeNotFound
			}
			return nil, err
		}

	case models.RequestStatusRevalidating:
		// Revalidation re-proves email ownership for an existing user.
		user, err = r.users.GetByID(req.ID)
		if err != nil {
			return nil, fmt.Errorf("revalidating request %s has no user: %w", req.ID, err)
		}
	}

	if err := r.requests.MarkCompleted(req.ID, req.ChallengeHash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		// The user exists but the transition failed; the challenge guard on
		// MarkCompleted plus the username uniqueness on users keep a retry
		// from creating a second user.
		r.logger.Error("request completed but status transition failed",
			zap.String("request_id", req.ID), zap.Error(err))
		return nil, err
	}

	r.logger.Info("request completed",
		zap.String("request_id", req.ID),
		zap.String("username", req.Username),
	)

	return user, nil
}

// Reject administratively rejects a non-terminal request.
func (r *Registry) Reject(id string) error {
	return r.requests.MarkRejected(id)
}

// RequestRevalidation moves a completed request to revalidating with a fresh
// challenge and returns the raw token.
func (r *Registry) RequestRevalidation(id string) (*models.AccountRequest, string, error) {
	token, err := auth.GenerateChallenge()
	if err != nil {
		return nil, "", err
	}

	expiresAt := time.Now().Add(r.window)
	if err := r.requests.StartRevalidation(id, auth.HashChallenge(token), expiresAt); err != nil {
		return nil, "", err
	}

	req, err := r.requests.GetByID(id)
	if err != nil {
		return nil, "", err
	}

	r.sendValidationMail(req, token)

	return req, token, nil
}

// GetRequest retrieves a request by ID.
func (r *Registry) GetRequest(id string) (*models.AccountRequest, error) {
	return r.requests.GetByID(id)
}

// ListRequests lists requests for administrative use.
func (r *Registry) ListRequests(status string, limit int) ([]*models.AccountRequest, error) {
	return r.requests.List(status, limit)
}

// sendValidationMail dispatches the challenge link best-effort. Delivery
// failures are logged and ignored; they never fail the request.
func (r *Registry) sendValidationMail(req *models.AccountRequest, token string) {
	msg := mail.Message{
		To:      req.Email,
		Subject: "Validate your account request",
		Body: fmt.Sprintf("Hello %s,\n\nUse this token to validate your account request:\n\n%s\n\nThe token expires in %s.\n",
			req.DisplayName, token, r.window),
	}
	if err := r.mailer.Send(msg); err != nil {
		r.logger.Warn("validation mail delivery failed",
			zap.String("request_id", req.ID), zap.Error(err))
	}
}

package models

import "time"

// AccountRequest represents an identity request in the onboarding flow
type AccountRequest struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	DisplayName        string     `json:"display_name"`
	Email              string     `json:"email"`
	Status             string     `json:"status"`
	ChallengeHash      string     `json:"-"` // Never expose challenge hash
	ChallengeExpiresAt *time.Time `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	LastModifiedAt     time.Time  `json:"last_modified_at"`
}

// Request status constants
const (
	RequestStatusPending      = "pending"
	RequestStatusValidated    = "validated"
	RequestStatusRevalidating = "revalidating"
	RequestStatusCompleted    = "completed"
	RequestStatusRejected     = "rejected"
)

// IsRedeemable reports whether the request may still be completed from its
// challenge token.
func (r *AccountRequest) IsRedeemable() bool {
	return r.Status == RequestStatusPending || r.Status == RequestStatusRevalidating
}

// IsTerminal reports whether the request has reached a terminal status.
func (r *AccountRequest) IsTerminal() bool {
	return r.Status == RequestStatusCompleted || r.Status == RequestStatusRejected
}

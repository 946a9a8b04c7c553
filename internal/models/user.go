package models

import "time"

// User represents a directory entry. Users are only ever created as the
// terminal effect of a validated account request; the ID is the originating
// request's ID.
type User struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	DisplayName      string    `json:"display_name"`
	Email            string    `json:"email"`
	Status           string    `json:"status"`
	ResponsibleParty string    `json:"responsible_party,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// User status constants
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

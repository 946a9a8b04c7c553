package policy

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/models"
)

// Validator validates certificate signing requests against issuance policy:
// the claimed identity must match an active directory user, and the CSR
// subject must not claim anything the user does not own.
type Validator struct {
	userRepo *repository.UserRepository
	certRepo *repository.CertRepository
}

// NewValidator creates a new policy validator
func NewValidator(userRepo *repository.UserRepository, certRepo *repository.CertRepository) *Validator {
	return &Validator{
		userRepo: userRepo,
		certRepo: certRepo,
	}
}

// ValidateIssueRequest checks the claimed identity against the directory and
// the CSR subject. It returns the resolved user on success.
func (v *Validator) ValidateIssueRequest(userID, username, email string, csr *x509.CertificateRequest) (*models.User, error) {
	user, err := v.userRepo.GetByUsername(username)
	if err != nil {
		return nil, fmt.Errorf("unknown user %s: %w", username, err)
	}

	if user.ID != userID {
		return nil, fmt.Errorf("user id does not match username %s", username)
	}

	if user.Status != models.UserStatusActive {
		return nil, fmt.Errorf("user account is not active")
	}

	if email != "" && user.Email != email {
		return nil, fmt.Errorf("email does not match directory entry for %s", username)
	}

	if cn := csr.Subject.CommonName; cn != username {
		return nil, fmt.Errorf("CSR common name must match username (got %s, expected %s)", cn, username)
	}

	return user, nil
}

// HasBlockingCertificate reports whether a reserved or active certificate
// already exists for the username. This is a fast-path check; the store's
// uniqueness constraint on reservation is the real arbiter under
// concurrency.
func (v *Validator) HasBlockingCertificate(username string) (bool, error) {
	_, err := v.certRepo.GetActiveByUsername(username)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/identca/identca/internal/auth"
	"github.com/identca/identca/internal/ca"
	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/mail"
	"github.com/identca/identca/internal/models"
	"github.com/identca/identca/internal/policy"
)

// CertHandler handles certificate issuance, verification and queries
type CertHandler struct {
	keyPair     *ca.KeyPair
	signer      *ca.Signer
	serials     ca.SerialSource
	certRepo    *repository.CertRepository
	auditRepo   *repository.AuditRepository
	validator   *policy.Validator
	mailer      mail.Sender
	emailWindow time.Duration
	codeVersion string
	logger      *zap.Logger
}

// NewCertHandler creates a new certificate handler
func NewCertHandler(
	keyPair *ca.KeyPair,
	signer *ca.Signer,
	serials ca.SerialSource,
	certRepo *repository.CertRepository,
	auditRepo *repository.AuditRepository,
	validator *policy.Validator,
	mailer mail.Sender,
	emailWindow time.Duration,
	codeVersion string,
	logger *zap.Logger,
) *CertHandler {
	return &CertHandler{
		keyPair:     keyPair,
		signer:      signer,
		serials:     serials,
		certRepo:    certRepo,
		auditRepo:   auditRepo,
		validator:   validator,
		mailer:      mailer,
		emailWindow: emailWindow,
		codeVersion: codeVersion,
		logger:      logger,
	}
}

// IssueRequest represents a certificate issue request
type IssueRequest struct {
	CSR      string `json:"csr" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
	Username string `json:"username" binding:"required"`
	Email    string `json:"email"`
}

// IssueResponse represents a certificate issue response
type IssueResponse struct {
	Certificate   string    `json:"certificate"`
	CACertificate string    `json:"ca_certificate"`
	SerialNumber  string    `json:"serial_number"`
	Fingerprint   string    `json:"fingerprint"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
}

// IssueCertificate handles the two-phase issuance: serial reservation, then
// CSR verification, signing and fingerprint finalization.
// POST /v1/certs/issue
func (h *CertHandler) IssueCertificate(c *gin.Context) {
	var req IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")

	// Parse the CSR up front so malformed input fails before any state is
	// created.
	csr, err := ca.ParseCSR([]byte(req.CSR))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidCSRFormat, "CSR could not be parsed")
		return
	}

	// Validate the claimed identity against the directory
	user, err := h.validator.ValidateIssueRequest(req.UserID, req.Username, req.Email, csr)
	if err != nil {
		h.audit(models.ActionCertIssue, req.Username, clientIP, userAgent, false, err.Error())
		RespondError(c, http.StatusForbidden, CodePolicyViolation, err.Error())
		return
	}

	// Fast-path duplicate check; the reservation insert below is the guard
	// that decides races.
	if blocked, err := h.validator.HasBlockingCertificate(req.Username); err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to check existing certificates")
		return
	} else if blocked {
		RespondError(c, http.StatusConflict, CodeConflict, "A certificate already exists for this identity")
		return
	}

	history, err := h.certRepo.ListByUsername(req.Username, 1)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to check certificate history")
		return
	}

	// Phase one: reserve a serial number
	serial, err := h.serials.Next()
	if err != nil {
		h.logger.Error("serial allocation failed", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, CodeInternalError, "Failed to allocate serial number")
		return
	}

	record := &models.CertificateRecord{
		SerialNumber:       serial.String(),
		UserID:             user.ID,
		Username:           user.Username,
		Email:              user.Email,
		IsFirstCertificate: len(history) == 0,
		IssuerCodeVersion:  h.codeVersion,
	}
	if err := h.certRepo.Reserve(record); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			RespondError(c, http.StatusConflict, CodeConflict, "A certificate already exists for this identity")
			return
		}
		h.logger.Error("reservation failed", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to reserve certificate record")
		return
	}

	// Phase two: verify, sign, self-verify
	issued, err := h.signer.Sign(csr, serial)
	if err != nil {
		h.audit(models.ActionCertIssue, req.Username, clientIP, userAgent, false, err.Error())

		switch {
		case errors.Is(err, ca.ErrInvalidCSRSignature):
			RespondError(c, http.StatusBadRequest, CodeInvalidCSRSignature, "CSR signature verification failed")
		case errors.Is(err, ca.ErrInvalidCSRFormat):
			RespondError(c, http.StatusBadRequest, CodeInvalidCSRFormat, "CSR could not be parsed")
		default:
			h.logger.Error("signing failed", zap.String("serial", record.SerialNumber), zap.Error(err))
			RespondError(c, http.StatusInternalServerError, CodeSigningError, "Failed to sign certificate")
		}
		// The reserved record stays behind; the reconciliation sweep picks
		// it up after the grace period.
		return
	}

	// Finalize the reservation with the fingerprint. A failure here is
	// logged and tolerated: the caller still receives the certificate, the
	// record stays incomplete and is flagged by the sweep.
	if err := h.certRepo.Finalize(record.SerialNumber, issued.Fingerprint, issued.NotBefore, issued.NotAfter); err != nil {
		h.logger.Error("finalize failed, record left incomplete",
			zap.String("serial", record.SerialNumber),
			zap.String("fingerprint", issued.Fingerprint),
			zap.Error(err),
		)
	}

	// Email-ownership proof, best effort
	if user.Email != "" {
		h.sendEmailChallenge(record.SerialNumber, user)
	}

	h.audit(models.ActionCertIssue, req.Username, clientIP, userAgent, true,
		fmt.Sprintf("serial=%s", record.SerialNumber))

	RespondSuccess(c, IssueResponse{
		Certificate:   string(issued.CertificatePEM),
		CACertificate: string(h.keyPair.CertificatePEM()),
		SerialNumber:  record.SerialNumber,
		Fingerprint:   issued.Fingerprint,
		NotBefore:     issued.NotBefore,
		NotAfter:      issued.NotAfter,
	})
}

// VerifyEmailRequest represents an email-ownership challenge redemption
type VerifyEmailRequest struct {
	SerialNumber string `json:"serial_number" binding:"required"`
	Challenge    string `json:"challenge" binding:"required"`
}

// VerifyEmail redeems an email-ownership challenge
// POST /v1/certs/verify-email
func (h *CertHandler) VerifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")

	hash := auth.HashChallenge(req.Challenge)
	if err := h.certRepo.ConsumeEmailChallenge(req.SerialNumber, hash); err != nil {
		h.audit(models.ActionEmailVerify, "", clientIP, userAgent, false, "challenge rejected")

		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"verified": false,
				"error":    CodeNotFound,
				"message":  "Unknown serial or invalid/expired challenge",
			})
			return
		}
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to verify challenge")
		return
	}

	h.audit(models.ActionEmailVerify, "", clientIP, userAgent, true, "")

	RespondSuccess(c, gin.H{"verified": true})
}

// GetCertificate fetches a certificate record by serial number
// GET /v1/certs/:serial
func (h *CertHandler) GetCertificate(c *gin.Context) {
	record, err := h.certRepo.GetBySerial(c.Param("serial"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "Certificate not found")
			return
		}
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to fetch certificate")
		return
	}

	RespondSuccess(c, record)
}

// ListCertificates lists certificate records filtered by username, email or
// status, most recent first
// GET /v1/certs
func (h *CertHandler) ListCertificates(c *gin.Context) {
	const limit = 100

	var (
		records []*models.CertificateRecord
		err     error
	)

	switch {
	case c.Query("username") != "":
		records, err = h.certRepo.ListByUsername(c.Query("username"), limit)
	case c.Query("email") != "":
		records, err = h.certRepo.ListByEmail(c.Query("email"), limit)
	default:
		records, err = h.certRepo.List(c.Query("status"), limit)
	}

	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to list certificates")
		return
	}

	RespondSuccess(c, gin.H{"certificates": records, "count": len(records)})
}

// RevokeRequest represents a revocation request
type RevokeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RevokeCertificate revokes a certificate by serial number
// POST /v1/admin/certs/:serial/revoke
func (h *CertHandler) RevokeCertificate(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	serial := c.Param("serial")
	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")

	if err := h.certRepo.Revoke(serial, req.Reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "Certificate not found")
			return
		}
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to revoke certificate")
		return
	}

	h.audit(models.ActionCertRevoke, "", clientIP, userAgent, true, fmt.Sprintf("serial=%s reason=%s", serial, req.Reason))

	RespondSuccess(c, gin.H{"status": "revoked", "serial_number": serial})
}

// sendEmailChallenge stores a fresh ownership challenge on the record and
// mails it out. Both steps are best effort.
func (h *CertHandler) sendEmailChallenge(serial string, user *models.User) {
	token, err := auth.GenerateChallenge()
	if err != nil {
		h.logger.Warn("failed to generate email challenge", zap.Error(err))
		return
	}

	expiresAt := time.Now().Add(h.emailWindow)
	if err := h.certRepo.SetEmailChallenge(serial, auth.HashChallenge(token), expiresAt); err != nil {
		h.logger.Warn("failed to store email challenge", zap.String("serial", serial), zap.Error(err))
		return
	}

	msg := mail.Message{
		To:      user.Email,
		Subject: "Confirm your certificate email address",
		Body: fmt.Sprintf("Hello %s,\n\nA certificate with serial %s was issued for this address.\nConfirm ownership with this token (valid for %s):\n\n%s\n",
			user.DisplayName, serial, h.emailWindow, token),
	}
	if err := h.mailer.Send(msg); err != nil {
		h.logger.Warn("email challenge delivery failed", zap.String("serial", serial), zap.Error(err))
	}
}

func (h *CertHandler) audit(action, username, clientIP, userAgent string, success bool, detail string) {
	entry := &models.AuditLog{
		Action:    action,
		Username:  username,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Success:   success,
	}
	if success {
		entry.Details = detail
	} else {
		entry.ErrorMsg = detail
	}

	if err := h.auditRepo.Create(entry); err != nil {
		h.logger.Warn("failed to write audit log", zap.Error(err))
	}
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/models"
	"github.com/identca/identca/internal/registry"
)

// RequestHandler handles the account-request lifecycle
type RequestHandler struct {
	registry  *registry.Registry
	auditRepo *repository.AuditRepository
	logger    *zap.Logger
}

// NewRequestHandler creates a new request handler
func NewRequestHandler(reg *registry.Registry, auditRepo *repository.AuditRepository, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		registry:  reg,
		auditRepo: auditRepo,
		logger:    logger,
	}
}

// CreateRequestRequest represents an account registration request
type CreateRequestRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
}

// CreateRequestResponse represents an account registration response
type CreateRequestResponse struct {
	ID        string `json:"id"`
	Challenge string `json:"challenge"`
	Status    string `json:"status"`
}

// CreateRequest registers a new account request
// POST /v1/requests
func (h *RequestHandler) CreateRequest(c *gin.Context) {
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")

	record, challenge, err := h.registry.CreateRequest(req.Username, req.DisplayName, req.Email)
	if err != nil {
		if errors.Is(err, registry.ErrIdentityTaken) {
			h.audit(models.ActionRequestCreate, req.Username, clientIP, userAgent, false, "identity taken")
			RespondError(c, http.StatusConflict, CodeConflict, "Username or email already registered")
			return
		}
		h.logger.Error("failed to create request", zap.Error(err))
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to create request")
		return
	}

	h.audit(models.ActionRequestCreate, req.Username, clientIP, userAgent, true, "")

	c.JSON(http.StatusCreated, CreateRequestResponse{
		ID:        record.ID,
		Challenge: challenge,
		Status:    record.Status,
	})
}

// RedeemRequest represents a challenge redemption request
type RedeemRequest struct {
	Challenge string `json:"challenge" binding:"required"`
}

// RedeemChallenge redeems a validation challenge, creating the user
// POST /v1/requests/redeem
func (h *RequestHandler) RedeemChallenge(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, CodeInvalidRequest, "Invalid request body")
		return
	}

	clientIP := GetClientIP(c)
	userAgent := c.GetHeader("User-Agent")

	user, err := h.registry.CompleteFromChallenge(req.Challenge)
	if err != nil {
		h.audit(models.ActionRequestRedeem, "", clientIP, userAgent, false, err.Error())

		switch {
		case errors.Is(err, registry.ErrChallengeNotFound), errors.Is(err, registry.ErrNotRedeemable):
			RespondError(c, http.StatusNotFound, CodeNotFound, "Challenge not found or already processed")
		case errors.Is(err, registry.ErrChallengeExpired):
			RespondError(c, http.StatusGone, CodeChallengeExpired, "Challenge has expired")
		case errors.Is(err, registry.ErrIdentityTaken):
			RespondError(c, http.StatusConflict, CodeConflict, "Identity already exists")
		default:
			h.logger.Error("failed to redeem challenge", zap.Error(err))
			RespondError(c, http.StatusInternalServerError, CodeInternalError, "Failed to redeem challenge")
		}
		return
	}

	h.audit(models.ActionRequestRedeem, user.Username, clientIP, userAgent, true, "")

	RespondSuccess(c, user)
}

// Revalidate issues a fresh challenge for a completed request
// POST /v1/requests/:id/revalidate
func (h *RequestHandler) Revalidate(c *gin.Context) {
	id := c.Param("id")

	record, challenge, err := h.registry.RequestRevalidation(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "No completed request with that id")
			return
		}
		h.logger.Error("failed to start revalidation", zap.String("id", id), zap.Error(err))
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to start revalidation")
		return
	}

	RespondSuccess(c, CreateRequestResponse{
		ID:        record.ID,
		Challenge: challenge,
		Status:    record.Status,
	})
}

// GetRequest fetches a request by id
// GET /v1/requests/:id
func (h *RequestHandler) GetRequest(c *gin.Context) {
	record, err := h.registry.GetRequest(c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "Request not found")
			return
		}
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to fetch request")
		return
	}

	RespondSuccess(c, record)
}

func (h *RequestHandler) audit(action, username, clientIP, userAgent string, success bool, errMsg string) {
	if err := h.auditRepo.Create(&models.AuditLog{
		Action:    action,
		Username:  username,
		ClientIP:  clientIP,
		UserAgent: userAgent,
		Success:   success,
		ErrorMsg:  errMsg,
	}); err != nil {
		h.logger.Warn("failed to write audit log", zap.Error(err))
	}
}

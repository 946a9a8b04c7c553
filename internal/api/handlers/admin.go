package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/models"
	"github.com/identca/identca/internal/registry"
)

// AdminHandler handles administrative operations
type AdminHandler struct {
	registry  *registry.Registry
	certRepo  *repository.CertRepository
	auditRepo *repository.AuditRepository
	grace     time.Duration
	logger    *zap.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	reg *registry.Registry,
	certRepo *repository.CertRepository,
	auditRepo *repository.AuditRepository,
	grace time.Duration,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		registry:  reg,
		certRepo:  certRepo,
		auditRepo: auditRepo,
		grace:     grace,
		logger:    logger,
	}
}

// RejectRequest administratively rejects an account request
// POST /v1/admin/requests/:id/reject
func (h *AdminHandler) RejectRequest(c *gin.Context) {
	id := c.Param("id")

	if err := h.registry.Reject(id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "No open request with that id")
			return
		}
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to reject request")
		return
	}

	if err := h.auditRepo.Create(&models.AuditLog{
		Action:   models.ActionRequestReject,
		ClientIP: GetClientIP(c),
		Success:  true,
		Details:  id,
	}); err != nil {
		h.logger.Warn("failed to write audit log", zap.Error(err))
	}

	RespondSuccess(c, gin.H{"status": "rejected", "id": id})
}

// ListRequests lists account requests
// GET /v1/admin/requests
func (h *AdminHandler) ListRequests(c *gin.Context) {
	limit := queryInt(c, "limit", 100)

	requests, err := h.registry.ListRequests(c.Query("status"), limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to list requests")
		return
	}

	RespondSuccess(c, gin.H{"requests": requests, "count": len(requests)})
}

// StaleReservations lists reserved records older than the grace period
// GET /v1/admin/reservations/stale
func (h *AdminHandler) StaleReservations(c *gin.Context) {
	records, err := h.certRepo.ListStaleReservations(h.grace)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to list stale reservations")
		return
	}

	RespondSuccess(c, gin.H{"reservations": records, "count": len(records)})
}

// SweepReservations marks stale reservations abandoned
// POST /v1/admin/reservations/sweep
func (h *AdminHandler) SweepReservations(c *gin.Context) {
	count, err := h.certRepo.SweepAbandoned(h.grace)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to sweep reservations")
		return
	}

	h.logger.Info("swept abandoned reservations", zap.Int64("count", count))

	RespondSuccess(c, gin.H{"swept": count})
}

// ListAuditLogs lists audit log entries
// GET /v1/admin/audit
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	limit := queryInt(c, "limit", 100)

	logs, err := h.auditRepo.List(c.Query("username"), c.Query("action"), limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, CodeDatabaseError, "Failed to list audit logs")
		return
	}

	RespondSuccess(c, gin.H{"logs": logs, "count": len(logs)})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/identca/identca/internal/ca"
)

// CAHandler handles authority-related requests
type CAHandler struct {
	keyPair *ca.KeyPair
}

// NewCAHandler creates a new CA handler
func NewCAHandler(kp *ca.KeyPair) *CAHandler {
	return &CAHandler{
		keyPair: kp,
	}
}

// GetCACertificate returns the authority certificate in PEM encoding
// GET /v1/ca/certificate
func (h *CAHandler) GetCACertificate(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-pem-file", h.keyPair.CertificatePEM())
}

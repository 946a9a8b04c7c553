package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Machine-readable error codes returned alongside HTTP status codes.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidCSRFormat    = "invalid_csr_format"
	CodeInvalidCSRSignature = "invalid_csr_signature"
	CodePolicyViolation     = "policy_violation"
	CodeConflict            = "conflict"
	CodeNotFound            = "not_found"
	CodeChallengeExpired    = "challenge_expired"
	CodeRateLimited         = "rate_limited"
	CodeSigningError        = "signing_error"
	CodeDatabaseError       = "database_error"
	CodeInternalError       = "internal_error"
)

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RespondError writes a JSON error response
func RespondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// RespondSuccess writes a 200 JSON response
func RespondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// GetClientIP returns the client address for audit records
func GetClientIP(c *gin.Context) string {
	return c.ClientIP()
}

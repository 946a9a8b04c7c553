package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/identca/identca/internal/api/handlers"
	"github.com/identca/identca/internal/api/middleware"
	"github.com/identca/identca/internal/ca"
	"github.com/identca/identca/internal/config"
	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/mail"
	"github.com/identca/identca/internal/policy"
	"github.com/identca/identca/internal/registry"
)

// Server represents the HTTP server
type Server struct {
	router  *gin.Engine
	config  *config.Config
	limiter *middleware.RateLimiter
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	keyPair *ca.KeyPair,
	signer *ca.Signer,
	serials ca.SerialSource,
	reg *registry.Registry,
	certRepo *repository.CertRepository,
	auditRepo *repository.AuditRepository,
	validator *policy.Validator,
	mailer mail.Sender,
	codeVersion string,
	logger *zap.Logger,
) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	// Challenge redemption endpoints are brute-forceable, so they sit behind
	// the sliding-window limiter when it is enabled.
	var limiter *middleware.RateLimiter
	guard := func(c *gin.Context) { c.Next() }
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(
			middleware.NewMemoryCounter(),
			cfg.GetRateLimitWindowDuration(),
			cfg.RateLimit.MaxRequests,
			cfg.GetRateLimitSweepIntervalDuration(),
		)
		guard = limiter.Handler()
	}

	// Create handlers
	caHandler := handlers.NewCAHandler(keyPair)
	requestHandler := handlers.NewRequestHandler(reg, auditRepo, logger)
	certHandler := handlers.NewCertHandler(
		keyPair, signer, serials,
		certRepo, auditRepo, validator,
		mailer, cfg.GetEmailChallengeWindowDuration(),
		codeVersion, logger,
	)
	adminHandler := handlers.NewAdminHandler(reg, certRepo, auditRepo, cfg.GetReservationGraceDuration(), logger)

	// API v1 routes
	v1 := router.Group("/v1")
	{
		// Public endpoints
		caGroup := v1.Group("/ca")
		{
			caGroup.GET("/certificate", caHandler.GetCACertificate)
		}

		// Account request lifecycle
		requests := v1.Group("/requests")
		{
			requests.POST("", requestHandler.CreateRequest)
			requests.POST("/redeem", guard, requestHandler.RedeemChallenge)
			requests.POST("/:id/revalidate", requestHandler.Revalidate)
			requests.GET("/:id", requestHandler.GetRequest)
		}

		// Certificate endpoints
		certs := v1.Group("/certs")
		{
			certs.POST("/issue", certHandler.IssueCertificate)
			certs.POST("/verify-email", guard, certHandler.VerifyEmail)
			certs.GET("/:serial", certHandler.GetCertificate)
			certs.GET("", certHandler.ListCertificates)
		}

		// Admin endpoints (require admin token)
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Admin.Token))
		{
			admin.POST("/certs/:serial/revoke", certHandler.RevokeCertificate)
			admin.POST("/requests/:id/reject", adminHandler.RejectRequest)
			admin.GET("/requests", adminHandler.ListRequests)
			admin.GET("/reservations/stale", adminHandler.StaleReservations)
			admin.POST("/reservations/sweep", adminHandler.SweepReservations)
			admin.GET("/audit", adminHandler.ListAuditLogs)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	return &Server{
		router:  router,
		config:  cfg,
		limiter: limiter,
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	return s.router.Run(s.config.Server.ListenAddr)
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Close releases background resources held by the server
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Close()
	}
}

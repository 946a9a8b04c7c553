package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/identca/identca/internal/api"
	"github.com/identca/identca/internal/ca"
	"github.com/identca/identca/internal/config"
	"github.com/identca/identca/internal/db"
	"github.com/identca/identca/internal/db/repository"
	"github.com/identca/identca/internal/logging"
	"github.com/identca/identca/internal/mail"
	"github.com/identca/identca/internal/policy"
	"github.com/identca/identca/internal/registry"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "/etc/identca/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("identca server\n")
		fmt.Printf("Version:    %s\n", Version)
		fmt.Printf("Commit:     %s\n", Commit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting identca server",
		zap.String("version", Version),
		zap.String("commit", Commit),
	)

	// Initialize database
	logger.Info("connecting to database", zap.String("path", cfg.Database.Path))
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(database); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Load or generate the authority key pair
	logger.Info("loading authority key pair", zap.String("path", cfg.CA.PrivateKeyPath))
	keyPair, err := ca.LoadOrGenerateKeyPair(
		cfg.CA.PrivateKeyPath,
		cfg.CA.CertificatePath,
		cfg.CA.KeyType,
		ca.AuthoritySubject{
			CommonName:   cfg.CA.Subject.CommonName,
			Organization: cfg.CA.Subject.Organization,
			Country:      cfg.CA.Subject.Country,
			Email:        cfg.CA.Subject.Email,
		},
	)
	if err != nil {
		logger.Fatal("failed to load or generate authority key pair", zap.Error(err))
	}
	logger.Info("authority key pair loaded", zap.String("key_type", keyPair.KeyType))

	serials, err := ca.NewSerialSource(cfg.CA.SerialStrategy)
	if err != nil {
		logger.Fatal("failed to initialize serial source", zap.Error(err))
	}
	signer := ca.NewSigner(keyPair, cfg.GetCertValidityDuration())

	// Initialize repositories
	requestRepo := repository.NewRequestRepository(database.DB)
	userRepo := repository.NewUserRepository(database.DB)
	certRepo := repository.NewCertRepository(database.DB)
	auditRepo := repository.NewAuditRepository(database.DB)

	// Outbound mail; logged instead of sent unless SMTP is configured
	var mailer mail.Sender
	if cfg.Mail.Enabled {
		mailer = mail.NewSMTPSender(cfg.Mail.SMTPAddr, cfg.Mail.From)
	} else {
		mailer = mail.NewLogSender(logger)
	}

	reg := registry.New(requestRepo, userRepo, mailer, cfg.GetValidationWindowDuration(), logger)
	validator := policy.NewValidator(userRepo, certRepo)

	// Create HTTP server
	server := api.NewServer(
		cfg,
		keyPair,
		signer,
		serials,
		reg,
		certRepo,
		auditRepo,
		validator,
		mailer,
		Version,
		logger,
	)
	defer server.Close()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.ListenAddr))
		if err := server.Run(); err != nil {
			logger.Fatal("server exited", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	<-quit
	logger.Info("shutting down")
}

package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	CA        CAConfig        `yaml:"ca"`
	Requests  RequestsConfig  `yaml:"requests"`
	Mail      MailConfig      `yaml:"mail"`
	Admin     AdminConfig     `yaml:"admin"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CAConfig contains signing authority configuration
type CAConfig struct {
	PrivateKeyPath  string        `yaml:"private_key_path"`
	CertificatePath string        `yaml:"certificate_path"`
	KeyType         string        `yaml:"key_type"`
	SerialStrategy  string        `yaml:"serial_strategy"`
	CertValidity    string        `yaml:"cert_validity"`
	Subject         SubjectConfig `yaml:"subject"`
}

// SubjectConfig contains the authority's distinguished name
type SubjectConfig struct {
	CommonName   string `yaml:"common_name"`
	Organization string `yaml:"organization"`
	Country      string `yaml:"country"`
	Email        string `yaml:"email"`
}

// RequestsConfig contains account-request lifecycle configuration
type RequestsConfig struct {
	ValidationWindow     string `yaml:"validation_window"`
	EmailChallengeWindow string `yaml:"email_challenge_window"`
	ReservationGrace     string `yaml:"reservation_grace"`
}

// MailConfig contains outbound email configuration
type MailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPAddr string `yaml:"smtp_addr"`
	From     string `yaml:"from"`
}

// AdminConfig contains admin configuration
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig contains challenge-verification rate limiting configuration
type RateLimitConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Window        string `yaml:"window"`
	MaxRequests   int    `yaml:"max_requests"`
	SweepInterval string `yaml:"sweep_interval"`
}

// Serial strategy names accepted by ca.serial_strategy
const (
	SerialStrategyComposite = "composite"
	SerialStrategyUUIDv7    = "uuidv7"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}

	// Database validation
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// CA validation
	if c.CA.PrivateKeyPath == "" {
		return fmt.Errorf("ca.private_key_path is required")
	}
	if c.CA.CertificatePath == "" {
		return fmt.Errorf("ca.certificate_path is required")
	}
	if c.CA.KeyType != "ecdsa" && c.CA.KeyType != "rsa" {
		return fmt.Errorf("ca.key_type must be 'ecdsa' or 'rsa'")
	}
	if c.CA.SerialStrategy != SerialStrategyComposite && c.CA.SerialStrategy != SerialStrategyUUIDv7 {
		return fmt.Errorf("ca.serial_strategy must be '%s' or '%s'", SerialStrategyComposite, SerialStrategyUUIDv7)
	}
	if _, err := time.ParseDuration(c.CA.CertValidity); err != nil {
		return fmt.Errorf("ca.cert_validity is invalid: %w", err)
	}
	if c.CA.Subject.CommonName == "" {
		return fmt.Errorf("ca.subject.common_name is required")
	}

	// Request lifecycle validation
	if _, err := time.ParseDuration(c.Requests.ValidationWindow); err != nil {
		return fmt.Errorf("requests.validation_window is invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Requests.EmailChallengeWindow); err != nil {
		return fmt.Errorf("requests.email_challenge_window is invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Requests.ReservationGrace); err != nil {
		return fmt.Errorf("requests.reservation_grace is invalid: %w", err)
	}

	// Mail validation
	if c.Mail.Enabled {
		if c.Mail.SMTPAddr == "" {
			return fmt.Errorf("mail.smtp_addr is required when mail is enabled")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("mail.from is required when mail is enabled")
		}
	}

	// Admin validation
	if c.Admin.Token == "" {
		return fmt.Errorf("admin.token is required")
	}

	// Logging validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text'")
	}

	// Rate limit validation
	if c.RateLimit.Enabled {
		if _, err := time.ParseDuration(c.RateLimit.Window); err != nil {
			return fmt.Errorf("rate_limit.window is invalid: %w", err)
		}
		if c.RateLimit.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.max_requests must be positive")
		}
		if _, err := time.ParseDuration(c.RateLimit.SweepInterval); err != nil {
			return fmt.Errorf("rate_limit.sweep_interval is invalid: %w", err)
		}
	}

	return nil
}

// GetCertValidityDuration returns the certificate validity as time.Duration
func (c *Config) GetCertValidityDuration() time.Duration {
	d, _ := time.ParseDuration(c.CA.CertValidity)
	return d
}

// GetValidationWindowDuration returns the account-validation window as time.Duration
func (c *Config) GetValidationWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.Requests.ValidationWindow)
	return d
}

// GetEmailChallengeWindowDuration returns the email-ownership proof window as time.Duration
func (c *Config) GetEmailChallengeWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.Requests.EmailChallengeWindow)
	return d
}

// GetReservationGraceDuration returns the grace period after which a reserved
// record without a fingerprint is considered abandoned.
func (c *Config) GetReservationGraceDuration() time.Duration {
	d, _ := time.ParseDuration(c.Requests.ReservationGrace)
	return d
}

// GetRateLimitWindowDuration returns the rate limit window as time.Duration
func (c *Config) GetRateLimitWindowDuration() time.Duration {
	d, _ := time.ParseDuration(c.RateLimit.Window)
	return d
}

// GetRateLimitSweepIntervalDuration returns the sweep interval as time.Duration
func (c *Config) GetRateLimitSweepIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RateLimit.SweepInterval)
	return d
}

// Default returns a configuration with sane development defaults applied for
// every optional field.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{ListenAddr: ":8080"},
		Database: DatabaseConfig{Path: "identca.db"},
		CA: CAConfig{
			PrivateKeyPath:  "ca_key.pem",
			CertificatePath: "ca_cert.pem",
			KeyType:         "ecdsa",
			SerialStrategy:  SerialStrategyComposite,
			CertValidity:    "8760h",
			Subject: SubjectConfig{
				CommonName: "Identca Issuing CA",
			},
		},
		Requests: RequestsConfig{
			ValidationWindow:     "24h",
			EmailChallengeWindow: "30m",
			ReservationGrace:     "1h",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			Window:        "5m",
			MaxRequests:   10,
			SweepInterval: "1m",
		},
	}
}

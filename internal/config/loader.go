package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment variable overrides
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	if dbPath := os.Getenv("IDENTCA_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if privateKey := os.Getenv("IDENTCA_CA_PRIVATE_KEY"); privateKey != "" {
		cfg.CA.PrivateKeyPath = privateKey
	}

	if certPath := os.Getenv("IDENTCA_CA_CERTIFICATE"); certPath != "" {
		cfg.CA.CertificatePath = certPath
	}

	if adminToken := os.Getenv("IDENTCA_ADMIN_TOKEN"); adminToken != "" {
		cfg.Admin.Token = adminToken
	}

	if listenAddr := os.Getenv("IDENTCA_LISTEN_ADDR"); listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if smtpAddr := os.Getenv("IDENTCA_SMTP_ADDR"); smtpAddr != "" {
		cfg.Mail.SMTPAddr = smtpAddr
	}

	// Validate again after env overrides
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}

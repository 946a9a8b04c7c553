package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  listen_addr: ":9000"
database:
  path: /tmp/identca.db
ca:
  key_type: rsa
  serial_strategy: uuidv7
admin:
  token: secret
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	// Explicit values override the defaults, the rest stay
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "rsa", cfg.CA.KeyType)
	assert.Equal(t, SerialStrategyUUIDv7, cfg.CA.SerialStrategy)
	assert.Equal(t, "8760h", cfg.CA.CertValidity)
	assert.Equal(t, 24*time.Hour, cfg.GetValidationWindowDuration())
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  path: /tmp/identca.db
ca:
  key_type: dsa
admin:
  token: secret
`))
	assert.ErrorContains(t, err, "key_type")

	_, err = Load(writeConfig(t, `
database:
  path: /tmp/identca.db
ca:
  serial_strategy: sequential
admin:
  token: secret
`))
	assert.ErrorContains(t, err, "serial_strategy")

	// Admin token is mandatory
	_, err = Load(writeConfig(t, `
database:
  path: /tmp/identca.db
`))
	assert.ErrorContains(t, err, "admin.token")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("IDENTCA_DB_PATH", "/var/lib/identca/override.db")
	t.Setenv("IDENTCA_LISTEN_ADDR", ":7443")
	t.Setenv("IDENTCA_ADMIN_TOKEN", "from-env")

	cfg, err := LoadWithEnv(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/identca/override.db", cfg.Database.Path)
	assert.Equal(t, ":7443", cfg.Server.ListenAddr)
	assert.Equal(t, "from-env", cfg.Admin.Token)
}

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	cfg.Admin.Token = "secret"
	assert.NoError(t, cfg.Validate())
}

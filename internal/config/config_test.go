package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Setenv("TSK_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yml"))
	t.Setenv("TSK_SECURITY_LICENSE_SECRET", "test-secret")
	t.Setenv("TSK_DATABASE_DRIVER", "memory")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Security.ReplayTolerance)
	assert.True(t, cfg.Security.AdminWhitelistEnabled)
	assert.Contains(t, cfg.Security.AdminWhitelist, "127.0.0.1")
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("TSK_SERVER_PORT", "9999")
	t.Setenv("TSK_SECURITY_REPLAY_TOLERANCE", "2m")
	t.Setenv("TSK_SECURITY_ADMIN_WHITELIST", "10.0.0.1,10.0.0.2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Security.ReplayTolerance)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Security.AdminWhitelist)
}

func TestLoadYAMLFileWithEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: 7000
database:
  driver: memory
security:
  license_secret: from-file
`), 0o644))

	t.Setenv("TSK_CONFIG_FILE", file)
	t.Setenv("TSK_SECURITY_LICENSE_SECRET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port, "file value applies")
	assert.Equal(t, "from-env", cfg.Security.LicenseSecret, "env wins over file")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing secret",
			env:  map[string]string{"TSK_SECURITY_LICENSE_SECRET": ""},
		},
		{
			name: "postgres driver without dsn",
			env:  map[string]string{"TSK_DATABASE_DRIVER": "postgres", "TSK_DATABASE_DSN": ""},
		},
		{
			name: "unknown driver",
			env:  map[string]string{"TSK_DATABASE_DRIVER": "sled"},
		},
		{
			name: "bad port",
			env:  map[string]string{"TSK_SERVER_PORT": "70000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

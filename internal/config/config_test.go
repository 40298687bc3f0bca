package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8100", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)

	assert.Equal(t, "localhost:50061", cfg.Installd.Address)
	assert.True(t, cfg.Installd.Enabled)

	assert.Equal(t, "/data/bundle-manager/bundles.db", cfg.Storage.DBPath)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	assert.Equal(t, 100, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 200, cfg.RateLimit.Burst)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("INSTALLD_ADDR", "installd:9999")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Unsetenv("INSTALLD_ADDR")
	defer os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "installd:9999", cfg.Installd.Address)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadProfileMissingFile(t *testing.T) {
	profile, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "builtin", profile.CompatibilityPolicy)
	assert.True(t, profile.SupportsQuickFix)
}

func TestLoadProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.yaml")
	data := []byte("sdk_version: 14\nsystem_capabilities:\n  - SystemCapability.Ability.AbilityRuntime.Core\ncompatibility_policy: external\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	profile, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(14), profile.SDKVersion)
	assert.Equal(t, "external", profile.CompatibilityPolicy)
	assert.True(t, profile.HasCapability("SystemCapability.Ability.AbilityRuntime.Core"))
	assert.False(t, profile.HasCapability("SystemCapability.Missing"))
}

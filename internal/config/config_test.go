package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.AuthSecret)
	assert.Empty(t, cfg.Server.ManagerPIN)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("TERMINAL_BACKEND_URL", "http://backend.local:8080/")
	t.Setenv("TERMINAL_CALL_TIMEOUT_SECONDS", "4")
	t.Setenv("CATALOG_TTL_SECONDS", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address())
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "http://backend.local:8080", cfg.Terminal.BackendURL)
	assert.Equal(t, 4*time.Second, cfg.Terminal.CallTimeout())
	assert.Equal(t, 20*time.Second, cfg.Server.CatalogTTL())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "main-branch", cfg.Terminal.BranchID)
	assert.Equal(t, "WH-MAIN", cfg.Terminal.WarehouseID)
	assert.Equal(t, 5*time.Second, cfg.Terminal.ProbeInterval())
}

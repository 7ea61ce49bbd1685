package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 3, cfg.Duel.CountdownStart)
	assert.Equal(t, time.Second, cfg.Duel.CountdownTick)
	assert.Equal(t, 5*time.Second, cfg.Duel.ActiveWindow)
	assert.Equal(t, 30*time.Second, cfg.Duel.FinishRetention)
	assert.False(t, cfg.Postgres.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9999"
duel:
  countdown_start: 5
  active_window: 10s
settlement:
  house_wallet: EQhousewallet
  stake_ceiling: 77
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Duel.CountdownStart)
	assert.Equal(t, 10*time.Second, cfg.Duel.ActiveWindow)
	assert.Equal(t, "EQhousewallet", cfg.Settlement.HouseWallet)
	assert.Equal(t, uint64(77), cfg.Settlement.StakeCeiling)
	// Untouched fields keep their defaults.
	assert.Equal(t, time.Second, cfg.Duel.CountdownTick)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7777")
	t.Setenv("DUEL_ACTIVE_WINDOW", "8s")
	t.Setenv("POSTGRES_DSN", "postgres://test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, 8*time.Second, cfg.Duel.ActiveWindow)
	assert.True(t, cfg.Postgres.Enabled, "setting a DSN enables the journal")
	assert.Equal(t, "postgres://test", cfg.Postgres.DSN)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

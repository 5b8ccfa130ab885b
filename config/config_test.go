package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Engine.Packages, 4)
	require.Equal(t, 14*24*time.Hour, cfg.Engine.Pools.LeaderInterval())
	require.Equal(t, 7*24*time.Hour, cfg.Engine.Pools.HelpInterval())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, Default().ListenAddress, cfg.ListenAddress)

	// The generated file must load back unchanged.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("ListenAddress = \"127.0.0.1:1\"\nBogusKey = true\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "BogusKey")
}

func TestValidateRejectsOverCommittedRates(t *testing.T) {
	cfg := Default()
	cfg.Engine.Rates.HelpPoolBps = 9000 // pushes the split past 100%
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "distribution rates")
}

func TestValidateRejectsMissingBaseWithdrawalTier(t *testing.T) {
	cfg := Default()
	cfg.Engine.Withdrawal.Tiers = []WithdrawalTier{{MinDirects: 5, PayableBps: 7500}}
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MinDirects=0")
}

func TestValidateRejectsBadPackages(t *testing.T) {
	cfg := Default()
	cfg.Engine.Packages = append(cfg.Engine.Packages, Package{Tier: 1, PriceMinor: 100, CapMultiplier: 4})
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engine.Packages[0].PriceMinor = 0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Engine.Packages = nil
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresSecretWhenAuthEnabled(t *testing.T) {
	cfg := Default()
	cfg.Auth.Enabled = true
	require.Error(t, cfg.Validate())

	cfg.Auth.HMACSecret = "test-secret"
	require.NoError(t, cfg.Validate())
}

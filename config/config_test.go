package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "ammd", cfg.SystemName)
	assert.Equal(t, "1", cfg.Pool.TransferDeposit)
	assert.Equal(t, 1024, cfg.Pool.ReceiptCacheSize)
	assert.Equal(t, time.Duration(0), cfg.Pool.ResyncFrequency)
	assert.Equal(t, "main", cfg.Store.Snapshot)
	assert.Equal(t, 10*time.Second, cfg.Ethereum.Timeout)
	assert.Empty(t, cfg.ConfigPath())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "ammd.yaml", `
system_name: pool_1
log_level: debug
pool:
  owner: "0x1111111111111111111111111111111111111111"
  asset_a: "0x2222222222222222222222222222222222222222"
  resync_frequency: 30s
store:
  dir: /var/lib/ammd
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "pool_1", cfg.SystemName)
	assert.Equal(t, path, cfg.ConfigPath())
	assert.Equal(t, 30*time.Second, cfg.Pool.ResyncFrequency)
	assert.Equal(t, "/var/lib/ammd", cfg.Store.Dir)

	owner, account, assetA, _ := cfg.PoolAddresses()
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), owner)
	assert.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), assetA)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000000a1"), account, "unset keys keep defaults")

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "ammd.toml", `
system_name = "from_file"

[pool]
transfer_deposit = "1"
`)
	t.Setenv("AMMD_SYSTEM_NAME", "from_env")
	t.Setenv("AMMD_POOL_TRANSFER_DEPOSIT", "5")
	t.Setenv("AMMD_STORE_SNAPSHOT", "nightly")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.SystemName)
	assert.Equal(t, "5", cfg.Pool.TransferDeposit)
	assert.Equal(t, "nightly", cfg.Store.Snapshot)
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "Invalid owner", env: map[string]string{"AMMD_POOL_OWNER": "alice"}},
		{name: "Same assets", env: map[string]string{
			"AMMD_POOL_ASSET_A": "0x3333333333333333333333333333333333333333",
			"AMMD_POOL_ASSET_B": "0x3333333333333333333333333333333333333333",
		}},
		{name: "Negative deposit", env: map[string]string{"AMMD_POOL_TRANSFER_DEPOSIT": "-1"}},
		{name: "Unknown log level", env: map[string]string{"AMMD_LOG_LEVEL": "loud"}},
		{name: "Empty system name", content: "system_name: \"\"\n"},
		{name: "System name with dash", env: map[string]string{"AMMD_SYSTEM_NAME": "pool-1"}},
		{name: "Negative cache size", content: "pool:\n  receipt_cache_size: -1\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.content != "" {
				path = writeConfig(t, "ammd.yaml", tc.content)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	t.Run("Missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "does not exist")
	})
}

func TestAMMConfig(t *testing.T) {
	t.Setenv("AMMD_POOL_TRANSFER_DEPOSIT", "3")
	cfg, err := Load("")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	poolCfg, err := cfg.AMMConfig(nil, prometheus.NewRegistry(), func(error) {}, logger)
	require.NoError(t, err)

	owner, account, assetA, assetB := cfg.PoolAddresses()
	assert.Equal(t, "ammd", poolCfg.SystemName)
	assert.Equal(t, owner, poolCfg.Owner)
	assert.Equal(t, account, poolCfg.Account)
	assert.Equal(t, assetA, poolCfg.AssetA)
	assert.Equal(t, assetB, poolCfg.AssetB)
	assert.Equal(t, uint64(3), poolCfg.TransferDeposit.Uint64())
	assert.Equal(t, 1024, poolCfg.ReceiptCacheSize)
}

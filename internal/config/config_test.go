package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("解析完整配置", func(t *testing.T) {
		path := writeConfigFile(t, `
server:
  port: 9090
  mode: test
storage:
  data_root: /tmp/agenthub
quota:
  default_tier: pro
  tiers:
    pro:
      monthly_cost_limit: 100
      monthly_token_limit: 10000000
      storage_limit_bytes: 1073741824
  tenant_tiers:
    tenant-x: pro
pricing:
  models:
    gpt-4o:
      input_per_million: 2.5
      output_per_million: 10.0
tenants:
  entries:
    tenant-x:
      agents: [writer, editor]
`)
		cfg, err := Load("test", path)
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, "/tmp/agenthub", cfg.Storage.DataRoot)
		assert.Equal(t, "pro", cfg.Quota.TenantTiers["tenant-x"])
		assert.Equal(t, float64(100), cfg.Quota.Tiers["pro"].MonthlyCostLimit)
		assert.Equal(t, 2.5, cfg.Pricing.Models["gpt-4o"].InputPerMillion)
		assert.Equal(t, []string{"writer", "editor"}, cfg.Tenants.Entries["tenant-x"].Agents)
	})

	t.Run("缺省值生效", func(t *testing.T) {
		path := writeConfigFile(t, "server:\n  port: 8081\n")
		cfg, err := Load("test", path)
		require.NoError(t, err)

		assert.Equal(t, 30, cfg.Audit.CompressAfterDays)
		assert.Equal(t, 90, cfg.Audit.DeleteAfterDays)
		assert.Equal(t, "free", cfg.Quota.DefaultTier)
		assert.Equal(t, "./data", cfg.Storage.DataRoot)
	})

	t.Run("配置文件缺失报错", func(t *testing.T) {
		_, err := Load("test", filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})
}

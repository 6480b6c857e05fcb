package directory

import (
	"testing"

	"backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDirectory(t *testing.T) {
	dir := NewConfigDirectory(config.TenantsConfig{
		Entries: map[string]config.TenantEntry{
			"tenant-a": {Agents: []string{"writer", "editor"}},
			"tenant-b": {Agents: []string{"writer"}},
		},
	})

	t.Run("返回租户智能体集合", func(t *testing.T) {
		agents, err := dir.Agents("tenant-a")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"writer", "editor"}, agents)
	})

	t.Run("未知租户返回空集合", func(t *testing.T) {
		agents, err := dir.Agents("tenant-x")
		require.NoError(t, err)
		assert.Empty(t, agents)
	})

	t.Run("归属判断区分租户", func(t *testing.T) {
		ok, err := dir.HasAgent("tenant-a", "editor")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = dir.HasAgent("tenant-b", "editor")
		require.NoError(t, err)
		assert.False(t, ok, "同名智能体不跨租户")
	})

	t.Run("Reload整体替换", func(t *testing.T) {
		dir := NewConfigDirectory(config.TenantsConfig{
			Entries: map[string]config.TenantEntry{
				"tenant-a": {Agents: []string{"writer"}},
			},
		})
		dir.Reload(config.TenantsConfig{
			Entries: map[string]config.TenantEntry{
				"tenant-a": {Agents: []string{"reviewer"}},
			},
		})

		ok, err := dir.HasAgent("tenant-a", "writer")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

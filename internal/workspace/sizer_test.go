package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizer_TenantSize(t *testing.T) {
	t.Run("递归累加文件大小", func(t *testing.T) {
		root := t.TempDir()
		dir := filepath.Join(root, "tenant-a", "sub")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "tenant-a", "a.txt"), make([]byte, 100), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), make([]byte, 250), 0o644))

		size, err := NewSizer(root).TenantSize("tenant-a")
		require.NoError(t, err)
		assert.Equal(t, int64(350), size)
	})

	t.Run("目录不存在视为零", func(t *testing.T) {
		size, err := NewSizer(t.TempDir()).TenantSize("tenant-x")
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)
	})

	t.Run("不统计其他租户", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "tenant-b"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "tenant-b", "big.bin"), make([]byte, 4096), 0o644))

		size, err := NewSizer(root).TenantSize("tenant-a")
		require.NoError(t, err)
		assert.Equal(t, int64(0), size)
	})
}

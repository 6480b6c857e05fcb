package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Sizer 租户工作区存储统计。
// 每次调用都重新递归遍历，刻意不做缓存：工作区文件可能被
// 本核心之外的路径修改，统计必须是调用时点的真实值。
type Sizer struct {
	root string
}

// NewSizer 创建工作区统计器
func NewSizer(root string) *Sizer {
	return &Sizer{root: root}
}

// TenantSize 递归累加租户工作区下所有普通文件的字节数。
// 目录不存在视为 0，单个条目的遍历错误跳过不中断。
func (s *Sizer) TenantSize(tenantID string) (int64, error) {
	dir := filepath.Join(s.root, tenantID)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 单条目失败跳过
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return total, err
	}
	return total, nil
}

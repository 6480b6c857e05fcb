package audit

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backend/internal/logger"

	"go.uber.org/zap"
)

// RotatePolicy 日志轮转策略
type RotatePolicy struct {
	CompressAfterDays int // 超过该天数压缩，默认 30
	DeleteAfterDays   int // 超过该天数删除，默认 90
	CompressLevel     int // gzip 压缩级别，默认 BestCompression
}

// applyDefaults 补齐非法或缺省的策略参数
func (p *RotatePolicy) applyDefaults() {
	if p.CompressAfterDays <= 0 {
		p.CompressAfterDays = 30
	}
	if p.DeleteAfterDays <= 0 {
		p.DeleteAfterDays = 90
	}
	if p.CompressLevel <= 0 || p.CompressLevel > 9 {
		p.CompressLevel = gzip.BestCompression
	}
}

// RotateResult 轮转结果统计
type RotateResult struct {
	Compressed int `json:"compressed"`
	Deleted    int `json:"deleted"`
	Errors     int `json:"errors"`
}

// Rotate 扫描全部租户目录执行日志生命周期：
// 明文 -> 压缩 -> 删除。只处理严格早于今天的文件，
// 可与写入方并发执行；单个文件失败计数后继续扫描。
func (s *Store) Rotate() RotateResult {
	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	var result RotateResult
	today := truncateDay(s.now().UTC())

	tenants, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return result // 尚无任何日志
		}
		logger.Error("读取审计根目录失败", zap.Error(err))
		result.Errors++
		return result
	}

	for _, tenant := range tenants {
		if !tenant.IsDir() {
			continue
		}
		s.rotateTenant(tenant.Name(), today, &result)
	}
	return result
}

// rotateTenant 轮转单个租户目录
func (s *Store) rotateTenant(tenantID string, today time.Time, result *RotateResult) {
	dir := filepath.Join(s.root, tenantID)
	files, err := os.ReadDir(dir)
	if err != nil {
		logger.WithTenant(tenantID).Warn("读取租户审计目录失败", zap.Error(err))
		result.Errors++
		return
	}

	compressedBefore, deletedBefore := result.Compressed, result.Deleted

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		day, compressed, ok := parseAuditFilename(f.Name())
		if !ok {
			continue
		}
		fileDate, err := time.ParseInLocation("2006-01-02", day, time.UTC)
		if err != nil {
			continue
		}

		// 只处理严格早于今天的文件，当天文件可能正被追加
		if !fileDate.Before(today) {
			continue
		}
		ageDays := int(today.Sub(fileDate).Hours() / 24)

		path := filepath.Join(dir, f.Name())
		switch {
		case ageDays >= s.policy.DeleteAfterDays:
			if err := os.Remove(path); err != nil {
				logger.WithTenant(tenantID).Warn("删除过期审计日志失败",
					zap.String("file", f.Name()), zap.Error(err))
				result.Errors++
				continue
			}
			result.Deleted++
		case !compressed && ageDays >= s.policy.CompressAfterDays:
			if err := s.compressFile(path); err != nil {
				logger.WithTenant(tenantID).Warn("压缩审计日志失败",
					zap.String("file", f.Name()), zap.Error(err))
				result.Errors++
				continue
			}
			result.Compressed++
		}
	}

	// 有文件被处理时在该租户的当日日志中留下轮转记录
	compressed := result.Compressed - compressedBefore
	deleted := result.Deleted - deletedBefore
	if compressed > 0 || deleted > 0 {
		if err := s.Record(tenantID, SystemAgent, ActionLogRotate, map[string]any{
			"compressed": compressed,
			"deleted":    deleted,
		}); err != nil {
			logger.WithTenant(tenantID).Warn("轮转事件写入审计失败", zap.Error(err))
			result.Errors++
		}
	}
}

// compressFile 就地压缩日志文件，压缩成功后才删除明文
func (s *Store) compressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmp := path + ".gz.tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return err
	}

	gz, err := gzip.NewWriterLevel(dst, s.policy.CompressLevel)
	if err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}

	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(tmp)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path+".gz"); err != nil {
		os.Remove(tmp)
		return err
	}

	// 压缩文件落盘后才移除明文
	return os.Remove(path)
}

// parseAuditFilename 解析 audit-YYYY-MM-DD.jsonl[.gz] 文件名，
// 返回日期字符串与是否已压缩。
func parseAuditFilename(name string) (day string, compressed bool, ok bool) {
	if !strings.HasPrefix(name, "audit-") {
		return "", false, false
	}
	rest := strings.TrimPrefix(name, "audit-")
	switch {
	case strings.HasSuffix(rest, ".jsonl.gz"):
		return strings.TrimSuffix(rest, ".jsonl.gz"), true, true
	case strings.HasSuffix(rest, ".jsonl"):
		return strings.TrimSuffix(rest, ".jsonl"), false, true
	}
	return "", false, false
}

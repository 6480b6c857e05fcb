package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"backend/internal/logger"

	"go.uber.org/zap"
)

// LoadStatus 用量记录加载结果的显式分类。
// "本来就没有" 和 "有但已损坏" 都按全新记录处理，
// 但必须可区分，便于测试与排障。
type LoadStatus int

const (
	// StatusLoaded 正常读取到已有记录
	StatusLoaded LoadStatus = iota
	// StatusAbsent 记录文件不存在（首次访问）
	StatusAbsent
	// StatusCorrupt 记录文件存在但无法解析
	StatusCorrupt
)

// Ledger 租户按月用量账本，文件镜像为
// {root}/{tenant}/usage-{YYYY-MM}.json（整体重写，非追加）。
type Ledger struct {
	root string

	// 读改写锁按 (租户, 月份) 分片，跨租户互不竞争
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewLedger 创建用量账本
func NewLedger(root string) *Ledger {
	return &Ledger{
		root:  root,
		locks: make(map[string]*sync.Mutex),
		now:   time.Now,
	}
}

// CurrentMonth 当前自然月（UTC）
func (l *Ledger) CurrentMonth() string {
	return l.now().UTC().Format("2006-01")
}

// recordLock 获取 (租户, 月份) 级互斥锁
func (l *Ledger) recordLock(tenantID, month string) *sync.Mutex {
	key := tenantID + "|" + month
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// path 用量文件路径
func (l *Ledger) path(tenantID, month string) string {
	return filepath.Join(l.root, tenantID, "usage-"+month+".json")
}

// load 读取记录；缺失或损坏都返回全新零值记录并标注状态
func (l *Ledger) load(tenantID, month string) (*Record, LoadStatus) {
	fresh := &Record{
		TenantID:  tenantID,
		YearMonth: month,
		Agents:    make(map[string]*AgentUsage),
	}

	data, err := os.ReadFile(l.path(tenantID, month))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithTenant(tenantID).Warn("读取用量记录失败，按首次访问处理",
				zap.String("month", month), zap.Error(err))
		}
		return fresh, StatusAbsent
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		logger.WithTenant(tenantID).Warn("用量记录损坏，重建零值记录",
			zap.String("month", month), zap.Error(err))
		return fresh, StatusCorrupt
	}
	if record.Agents == nil {
		record.Agents = make(map[string]*AgentUsage)
	}
	return &record, StatusLoaded
}

// persist 整体重写用量文件（临时文件 + 原子改名）
func (l *Ledger) persist(record *Record) error {
	dir := filepath.Join(l.root, record.TenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create usage dir: %w", err)
	}

	record.UpdatedAt = l.now().UTC()
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}

	path := l.path(record.TenantID, record.YearMonth)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write usage record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace usage record: %w", err)
	}
	return nil
}

// Snapshot 只读快照，month 为空时取当前月
func (l *Ledger) Snapshot(tenantID, month string) (*Record, LoadStatus) {
	if month == "" {
		month = l.CurrentMonth()
	}
	lock := l.recordLock(tenantID, month)
	lock.Lock()
	defer lock.Unlock()
	return l.load(tenantID, month)
}

// Mutate 在 (租户, 月份) 锁内执行读-改-写并持久化
func (l *Ledger) Mutate(tenantID, month string, fn func(*Record) error) (*Record, error) {
	if month == "" {
		month = l.CurrentMonth()
	}
	lock := l.recordLock(tenantID, month)
	lock.Lock()
	defer lock.Unlock()

	record, _ := l.load(tenantID, month)
	if err := fn(record); err != nil {
		return nil, err
	}
	if err := l.persist(record); err != nil {
		return nil, err
	}
	return record, nil
}

package audit

import (
	"bufio"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"backend/internal/logger"

	"go.uber.org/zap"
)

// Entry 单条审计事件，写入后不可变。
// Meta 中只允许存放哈希或派生元数据，禁止存放原始消息内容。
type Entry struct {
	Timestamp int64          `json:"timestamp"` // epoch 秒
	TenantID  string         `json:"tenant_id"`
	AgentID   string         `json:"agent_id"`
	Action    Action         `json:"action"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// SearchQuery 审计日志查询条件
type SearchQuery struct {
	From    time.Time
	To      time.Time
	Action  Action
	AgentID string
	Limit   int
}

// Store 按租户按天分文件的追加式审计日志存储。
// 目录结构: {root}/{tenant}/audit-{YYYY-MM-DD}.jsonl[.gz]
type Store struct {
	root   string
	policy RotatePolicy

	// 追加锁按租户分片，同租户并发写互斥，跨租户互不阻塞
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	rotateMu sync.Mutex

	now func() time.Time // 可注入时钟，便于测试轮转边界
}

// NewStore 创建审计日志存储
func NewStore(root string, policy RotatePolicy) *Store {
	policy.applyDefaults()
	return &Store{
		root:   root,
		policy: policy,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// tenantLock 获取租户级追加锁
func (s *Store) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenantID] = l
	}
	return l
}

// dayFile 返回指定租户某天的明文日志路径
func (s *Store) dayFile(tenantID, day string) string {
	return filepath.Join(s.root, tenantID, "audit-"+day+".jsonl")
}

// Record 追加一条审计事件，仅在不可恢复的存储错误时返回 error。
func (s *Store) Record(tenantID, agentID string, action Action, meta map[string]any) error {
	if tenantID == "" {
		return fmt.Errorf("audit record requires tenant id")
	}
	if agentID == "" {
		agentID = SystemAgent
	}

	entry := Entry{
		Timestamp: s.now().UTC().Unix(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Action:    action,
		Meta:      meta,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(s.root, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create audit dir: %w", err)
	}

	path := s.dayFile(tenantID, s.now().UTC().Format("2006-01-02"))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	// 一条事件一行，换行符收尾，保证并发追加互不穿插
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Fingerprint 计算内容指纹：SHA-256 截断为 16 位十六进制。
// 指纹确定且单向，审计日志中只存指纹，绝不存原文。
func Fingerprint(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// RecordMessageHash 记录消息类事件，结构上保证只落指纹不落原文。
func (s *Store) RecordMessageHash(tenantID, agentID string, action Action, rawContent string, extra map[string]any) error {
	meta := map[string]any{
		"content_hash": Fingerprint(rawContent),
	}
	for k, v := range extra {
		if k == "content" || k == "message" {
			continue // 防御调用方误传原文
		}
		meta[k] = v
	}
	return s.Record(tenantID, agentID, action, meta)
}

// Search 按天升序扫描指定时间范围内的审计日志。
// 缺失或损坏的文件/行直接跳过，单天损坏不中断多天查询。
func (s *Store) Search(tenantID string, q SearchQuery) ([]Entry, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("audit search requires tenant id")
	}

	to := q.To
	if to.IsZero() {
		to = s.now().UTC()
	}
	from := q.From
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var results []Entry
	fromDay := truncateDay(from.UTC())
	toDay := truncateDay(to.UTC())

	for day := fromDay; !day.After(toDay); day = day.AddDate(0, 0, 1) {
		entries, err := s.readDay(tenantID, day.Format("2006-01-02"))
		if err != nil {
			// 单天读取失败降级为跳过，审计查询必须可用
			logger.WithTenant(tenantID).Warn("跳过无法读取的审计日志",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err),
			)
			continue
		}
		for _, e := range entries {
			if e.Timestamp < from.Unix() || e.Timestamp > to.Unix() {
				continue
			}
			if q.Action != "" && e.Action != q.Action {
				continue
			}
			if q.AgentID != "" && e.AgentID != q.AgentID {
				continue
			}
			results = append(results, e)
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// readDay 读取某一天的日志，明文缺失时透明回退到压缩文件
func (s *Store) readDay(tenantID, day string) ([]Entry, error) {
	plain := s.dayFile(tenantID, day)
	if entries, err := readEntries(plain, false); err == nil {
		return entries, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	gz := plain + ".gz"
	entries, err := readEntries(gz, true)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // 当天无日志
		}
		return nil, err
	}
	return entries, nil
}

// readEntries 逐行解析日志文件，损坏行静默跳过
func readEntries(path string, compressed bool) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, closeFn, err := lineReader(f, compressed)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	var entries []Entry
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue // 损坏行按不存在处理
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, nil // 半截文件保留已解析部分
	}
	return entries, nil
}

// truncateDay 截断到 UTC 日期零点
func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// lineReader 根据是否压缩返回对应的读取器
func lineReader(f *os.File, compressed bool) (io.Reader, func(), error) {
	if !compressed {
		return f, func() {}, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open gzip reader: %w", err)
	}
	return gz, func() { gz.Close() }, nil
}

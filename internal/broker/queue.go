package broker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"backend/internal/logger"
	"backend/internal/metrics"

	"go.uber.org/zap"
)

// queueKey 队列键：每个 (租户, 智能体) 一条持久化队列
type queueKey struct {
	tenantID string
	agentID  string
}

// queue 单个收件队列：内存切片 + 追加式文件镜像。
// 队列级互斥锁保证同一收件人的并发追加/排空串行化，
// 不同收件人互不阻塞。
type queue struct {
	mu        sync.Mutex
	envelopes []Envelope
	path      string
}

// Store 显式持有的队列注册表，进程启动时构造一次并注入 Broker。
// 崩溃恢复后内存队列与文件镜像通过 Replay 收敛到一致。
type Store struct {
	root   string
	mu     sync.RWMutex
	queues map[queueKey]*queue
}

// NewStore 创建队列存储
func NewStore(root string) *Store {
	return &Store{
		root:   root,
		queues: make(map[queueKey]*queue),
	}
}

// queueFor 取出或创建队列
func (s *Store) queueFor(tenantID, agentID string) *queue {
	key := queueKey{tenantID: tenantID, agentID: agentID}

	s.mu.RLock()
	q, ok := s.queues[key]
	s.mu.RUnlock()
	if ok {
		return q
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok = s.queues[key]; ok {
		return q
	}
	q = &queue{path: filepath.Join(s.root, tenantID, agentID+".jsonl")}
	s.queues[key] = q
	return q
}

// Append 将信封追加到收件队列：先落盘，后进内存。
func (s *Store) Append(env Envelope) error {
	q := s.queueFor(env.TenantID, env.ToAgent)
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("failed to create queue dir: %w", err)
	}

	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open queue file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("failed to append envelope: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close queue file: %w", err)
	}

	q.envelopes = append(q.envelopes, env)
	metrics.QueueDepth.WithLabelValues(env.TenantID, env.ToAgent).Set(float64(len(q.envelopes)))
	return nil
}

// Drain 从队列头部取出至多 limit 条信封，内存与文件镜像同时移除。
// 排空后的信封不会再次出现（存储视角 at-most-once）。
func (s *Store) Drain(tenantID, agentID string, limit int) ([]Envelope, error) {
	q := s.queueFor(tenantID, agentID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.envelopes) == 0 {
		return nil, nil
	}
	n := limit
	if n <= 0 || n > len(q.envelopes) {
		n = len(q.envelopes)
	}

	drained := make([]Envelope, n)
	copy(drained, q.envelopes[:n])
	remaining := q.envelopes[n:]

	// 先重写文件镜像，失败则放弃本次排空，保证可重放
	if err := q.rewrite(remaining); err != nil {
		return nil, err
	}

	q.envelopes = append([]Envelope(nil), remaining...)
	metrics.QueueDepth.WithLabelValues(tenantID, agentID).Set(float64(len(q.envelopes)))

	for i := range drained {
		drained[i].Delivered = true
	}
	return drained, nil
}

// rewrite 用剩余信封整体重写队列文件，排空后截断为空文件
func (q *queue) rewrite(remaining []Envelope) error {
	tmp := q.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create queue file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, env := range remaining {
		line, err := json.Marshal(env)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to write envelope: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush queue file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close queue file: %w", err)
	}
	if err := os.Rename(tmp, q.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace queue file: %w", err)
	}
	return nil
}

// Replay 启动时重放全部队列文件，重建内存队列。
// 损坏行跳过；重放语义为至少一次，信封携带稳定 ID，
// 消费方可据此幂等去重。
func (s *Store) Replay() error {
	tenants, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read queue root: %w", err)
	}

	for _, tenant := range tenants {
		if !tenant.IsDir() {
			continue
		}
		tenantID := tenant.Name()
		files, err := os.ReadDir(filepath.Join(s.root, tenantID))
		if err != nil {
			logger.WithTenant(tenantID).Warn("读取队列目录失败，跳过", zap.Error(err))
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			agentID := strings.TrimSuffix(f.Name(), ".jsonl")
			s.replayQueue(tenantID, agentID)
		}
	}
	return nil
}

// replayQueue 重放单条队列文件
func (s *Store) replayQueue(tenantID, agentID string) {
	q := s.queueFor(tenantID, agentID)
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.WithTenant(tenantID).Warn("打开队列文件失败，跳过重放",
				zap.String("agent_id", agentID), zap.Error(err))
		}
		return
	}
	defer f.Close()

	var envelopes []Envelope
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var env Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			continue // 损坏行跳过
		}
		envelopes = append(envelopes, env)
	}

	q.envelopes = envelopes
	metrics.QueueDepth.WithLabelValues(tenantID, agentID).Set(float64(len(envelopes)))
	if len(envelopes) > 0 {
		logger.WithTenant(tenantID).Info("队列重放完成",
			zap.String("agent_id", agentID),
			zap.Int("pending", len(envelopes)),
		)
	}
}

// Pending 某条队列当前待投递数量
func (s *Store) Pending(tenantID, agentID string) int {
	q := s.queueFor(tenantID, agentID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.envelopes)
}

// QueueCount 当前存在待投递消息的队列数量（健康检查用）
func (s *Store) QueueCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, q := range s.queues {
		q.mu.Lock()
		if len(q.envelopes) > 0 {
			count++
		}
		q.mu.Unlock()
	}
	return count
}

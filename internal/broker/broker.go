package broker

import (
	"fmt"
	"regexp"
	"time"

	"backend/internal/audit"
	"backend/internal/directory"
	"backend/internal/logger"
	"backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// identifierPattern 租户/智能体标识合法字符：字母、数字、下划线、连字符。
// 标识会成为磁盘路径的一部分，该约束同时杜绝路径穿越。
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Broker 消息代理：租户隔离在 Send/Poll 这一个收口处强制执行，
// 每次调用都向权威租户目录重新求证，不信任调用方声明。
type Broker struct {
	store *Store
	dir   directory.Directory
	audit *audit.Store
	now   func() time.Time
}

// New 创建消息代理
func New(store *Store, dir directory.Directory, auditStore *audit.Store) *Broker {
	return &Broker{
		store: store,
		dir:   dir,
		audit: auditStore,
		now:   time.Now,
	}
}

// Send 校验并投递消息，按固定顺序短路校验：
// fromAgent -> toAgent -> tenantId -> message -> 自发 -> 双方租户归属。
// 任何失败都产生 message.rejected 审计事件（租户ID存在时），绝不静默丢弃。
func (b *Broker) Send(tenantID, fromAgent, toAgent, message string) (string, error) {
	if err := b.validateSend(tenantID, fromAgent, toAgent, message); err != nil {
		b.auditRejection(tenantID, fromAgent, toAgent, err)
		return "", err
	}

	env := Envelope{
		ID:          uuid.NewString(),
		FromAgent:   fromAgent,
		ToAgent:     toAgent,
		TenantID:    tenantID,
		ContentHash: audit.Fingerprint(message),
		Timestamp:   b.now().UTC().Unix(),
		Payload:     message,
	}

	if err := b.store.Append(env); err != nil {
		return "", fmt.Errorf("failed to enqueue message: %w", err)
	}

	metrics.MessagesSentTotal.WithLabelValues(tenantID).Inc()

	// 审计事件只携带指纹与路由元数据，不携带消息正文
	if err := b.audit.RecordMessageHash(tenantID, fromAgent, audit.ActionMessageSend, message, map[string]any{
		"message_id": env.ID,
		"from":       fromAgent,
		"to":         toAgent,
	}); err != nil {
		// 消息已持久化，审计失败不回滚投递
		logger.WithTenant(tenantID).Error("发送事件写入审计失败", zap.Error(err))
	}

	return env.ID, nil
}

// validateSend 发送校验链，返回首个失败原因
func (b *Broker) validateSend(tenantID, fromAgent, toAgent, message string) error {
	if fromAgent == "" || !identifierPattern.MatchString(fromAgent) {
		return newValidationError("fromAgent is required and must match [A-Za-z0-9_-]+")
	}
	if toAgent == "" || !identifierPattern.MatchString(toAgent) {
		return newValidationError("toAgent is required and must match [A-Za-z0-9_-]+")
	}
	if tenantID == "" || !identifierPattern.MatchString(tenantID) {
		return newValidationError("tenantId is required and must match [A-Za-z0-9_-]+")
	}
	if message == "" {
		return newValidationError("message must not be empty")
	}
	if fromAgent == toAgent {
		return newValidationError("agent cannot send message to itself")
	}

	ok, err := b.dir.HasAgent(tenantID, fromAgent)
	if err != nil {
		// 目录不可用必须失败关闭
		return fmt.Errorf("failed to resolve tenant directory: %w", err)
	}
	if !ok {
		return newValidationError("fromAgent %q does not belong to tenant %q", fromAgent, tenantID)
	}

	ok, err = b.dir.HasAgent(tenantID, toAgent)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant directory: %w", err)
	}
	if !ok {
		return newValidationError("toAgent %q does not belong to tenant %q", toAgent, tenantID)
	}
	return nil
}

// auditRejection 记录拒绝事件，租户ID缺失时无处归档只打日志
func (b *Broker) auditRejection(tenantID, fromAgent, toAgent string, cause error) {
	reason := cause.Error()
	metrics.MessagesRejectedTotal.WithLabelValues(tenantID, "validation").Inc()

	if tenantID == "" {
		logger.Warn("消息被拒绝且无租户可归档",
			zap.String("from", fromAgent), zap.String("to", toAgent), zap.String("reason", reason))
		return
	}
	if err := b.audit.Record(tenantID, fromAgent, audit.ActionMessageRejected, map[string]any{
		"from":   fromAgent,
		"to":     toAgent,
		"reason": reason,
	}); err != nil {
		logger.WithTenant(tenantID).Error("拒绝事件写入审计失败", zap.Error(err))
	}
}

// Poll 拉取并移除收件队列中最旧的至多 limit 条消息。
// 智能体必须属于该租户，越权拉取本身作为高危事件审计后拒绝。
func (b *Broker) Poll(tenantID, agentID string, limit int) ([]Delivery, error) {
	if tenantID == "" || !identifierPattern.MatchString(tenantID) {
		return nil, newValidationError("tenantId is required and must match [A-Za-z0-9_-]+")
	}
	if agentID == "" || !identifierPattern.MatchString(agentID) {
		return nil, newValidationError("agentId is required and must match [A-Za-z0-9_-]+")
	}
	if limit <= 0 {
		limit = 10
	}

	ok, err := b.dir.HasAgent(tenantID, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant directory: %w", err)
	}
	if !ok {
		if err := b.audit.Record(tenantID, agentID, audit.ActionMessagePollDenied, map[string]any{
			"agent_id": agentID,
			"severity": "high",
		}); err != nil {
			logger.WithTenant(tenantID).Error("越权拉取事件写入审计失败", zap.Error(err))
		}
		return nil, ErrAgentNotInTenant
	}

	envelopes, err := b.store.Drain(tenantID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to drain queue: %w", err)
	}

	deliveries := make([]Delivery, 0, len(envelopes))
	for _, env := range envelopes {
		deliveries = append(deliveries, Delivery{
			ID:        env.ID,
			FromAgent: env.FromAgent,
			Message:   env.Payload,
			Timestamp: env.Timestamp,
		})
	}

	if len(deliveries) > 0 {
		metrics.MessagesDeliveredTotal.WithLabelValues(tenantID).Add(float64(len(deliveries)))
		if err := b.audit.Record(tenantID, agentID, audit.ActionMessagePoll, map[string]any{
			"count": len(deliveries),
		}); err != nil {
			logger.WithTenant(tenantID).Error("拉取事件写入审计失败", zap.Error(err))
		}
	}
	return deliveries, nil
}

// QueueCount 存在待投递消息的队列数量
func (b *Broker) QueueCount() int {
	return b.store.QueueCount()
}

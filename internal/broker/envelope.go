package broker

import (
	"errors"
	"fmt"
)

// Envelope 路由消息单元。Payload 只存在于持久化队列副本中，
// 绝不进入审计日志（审计侧只留 ContentHash）。
type Envelope struct {
	ID          string `json:"id"`
	FromAgent   string `json:"from_agent"`
	ToAgent     string `json:"to_agent"`
	TenantID    string `json:"tenant_id"`
	ContentHash string `json:"content_hash"`
	Timestamp   int64  `json:"timestamp"` // epoch 秒
	Delivered   bool   `json:"delivered"`
	Payload     string `json:"payload"`
}

// Delivery 投递给消费方的消息视图，内部簿记字段已剥离
type Delivery struct {
	ID        string `json:"id"`
	FromAgent string `json:"from_agent"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// ValidationError 请求校验失败（含租户隔离违规），
// 对调用方可见，原因字符串直接回传。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// newValidationError 构造校验错误
func newValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation 判断是否为校验类错误
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var (
	// ErrAgentNotInTenant 智能体不属于该租户（越权访问）
	ErrAgentNotInTenant = errors.New("agent does not belong to tenant")
)

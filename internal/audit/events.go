package audit

// Action 审计事件类型
type Action string

const (
	// ActionMessageSend 消息成功入队
	ActionMessageSend Action = "message.send"

	// ActionMessageRejected 消息发送被拒绝（校验失败/跨租户）
	ActionMessageRejected Action = "message.rejected"

	// ActionMessagePoll 消息被成功拉取
	ActionMessagePoll Action = "message.poll"

	// ActionMessagePollDenied 越权拉取尝试（高危安全事件）
	ActionMessagePollDenied Action = "message.poll_denied"

	// ActionQuotaCheck 配额预检通过
	ActionQuotaCheck Action = "quota.check"

	// ActionQuotaDenied 配额预检拒绝
	ActionQuotaDenied Action = "quota.denied"

	// ActionUsageTrack 实际用量上报
	ActionUsageTrack Action = "usage.track"

	// ActionLogRotate 审计日志轮转完成
	ActionLogRotate Action = "log.rotate"
)

// SystemAgent 非具体智能体触发的事件统一使用该主体
const SystemAgent = "system"

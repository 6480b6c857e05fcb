package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenthub_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// 消息代理指标
var (
	// MessagesSentTotal 成功入队的消息总数
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_messages_sent_total",
			Help: "成功入队的消息总数",
		},
		[]string{"tenant_id"},
	)

	// MessagesRejectedTotal 被拒绝的消息总数
	MessagesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_messages_rejected_total",
			Help: "被拒绝的消息总数",
		},
		[]string{"tenant_id", "reason"},
	)

	// MessagesDeliveredTotal 被拉取送达的消息总数
	MessagesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_messages_delivered_total",
			Help: "被拉取送达的消息总数",
		},
		[]string{"tenant_id"},
	)

	// QueueDepth 当前各队列深度
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agenthub_queue_depth",
			Help: "当前各队列中待投递的消息数量",
		},
		[]string{"tenant_id", "agent_id"},
	)
)

// 配额与用量指标
var (
	// QuotaDenialsTotal 配额拒绝次数
	QuotaDenialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_quota_denials_total",
			Help: "配额预检拒绝次数",
		},
		[]string{"tenant_id"},
	)

	// TokensTrackedTotal 上报的 Token 总量
	TokensTrackedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_tokens_tracked_total",
			Help: "各租户上报的 Token 总量",
		},
		[]string{"tenant_id", "direction"},
	)
)

// 审计轮转指标
var (
	// AuditFilesCompressedTotal 累计压缩的审计日志文件数
	AuditFilesCompressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agenthub_audit_files_compressed_total",
			Help: "累计压缩的审计日志文件数",
		},
	)

	// AuditFilesDeletedTotal 累计删除的审计日志文件数
	AuditFilesDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agenthub_audit_files_deleted_total",
			Help: "累计删除的审计日志文件数",
		},
	)

	// AuditRotateErrorsTotal 审计轮转累计失败数
	AuditRotateErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agenthub_audit_rotate_errors_total",
			Help: "审计轮转累计失败数",
		},
	)
)

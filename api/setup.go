package api

import (
	auditHandlers "backend/api/handlers/audit"
	healthHandlers "backend/api/handlers/health"
	messageHandlers "backend/api/handlers/messages"
	usageHandlers "backend/api/handlers/usage"
	auditSvc "backend/internal/audit"
	"backend/internal/broker"
	"backend/internal/metrics"
	usageSvc "backend/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Services 路由依赖的全部服务，进程启动时构造一次后注入
type Services struct {
	Broker    *broker.Broker
	Gate      *usageSvc.Gate
	Estimator *usageSvc.Estimator
	Audit     *auditSvc.Store
}

// SetupRouter 设置并返回 Gin 路由
func SetupRouter(svc Services) *gin.Engine {
	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 处理器
	messageHandler := messageHandlers.NewMessageHandler(svc.Broker)
	usageHandler := usageHandlers.NewUsageHandler(svc.Gate, svc.Estimator)
	auditHandler := auditHandlers.NewAuditHandler(svc.Audit)
	healthHandler := healthHandlers.NewHealthHandler(svc.Broker)

	// 内部 API（鉴权由上游网关完成）
	internal := router.Group("/internal")
	{
		internal.POST("/message", messageHandler.Send)
		internal.GET("/messages", messageHandler.Poll)
		internal.GET("/health", healthHandler.Health)

		internal.POST("/quota/check", usageHandler.CheckQuota)
		internal.POST("/usage/track", usageHandler.TrackTokens)
		internal.GET("/usage", usageHandler.GetUsage)

		internal.GET("/audit/search", auditHandler.Search)
		internal.POST("/audit/rotate", auditHandler.Rotate)
	}

	// Prometheus 指标
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

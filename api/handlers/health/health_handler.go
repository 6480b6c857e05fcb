package health

import (
	"net/http"

	"backend/internal/broker"

	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	broker *broker.Broker
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(b *broker.Broker) *HealthHandler {
	return &HealthHandler{broker: b}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status     string `json:"status"`
	QueueCount int    `json:"queueCount"`
}

// Health 健康检查
// @Summary 服务健康状态与当前队列数量
// @Tags Health
// @Produce json
// @Router /internal/health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		QueueCount: h.broker.QueueCount(),
	})
}

package messages

import (
	"errors"
	"net/http"
	"strconv"

	response "backend/api/handlers/common"
	"backend/internal/broker"

	"github.com/gin-gonic/gin"
)

// MessageHandler 智能体间消息处理器
type MessageHandler struct {
	broker *broker.Broker
}

// NewMessageHandler 创建消息处理器
func NewMessageHandler(b *broker.Broker) *MessageHandler {
	return &MessageHandler{broker: b}
}

// SendRequest 发送消息请求
type SendRequest struct {
	FromAgent string `json:"fromAgent"`
	ToAgent   string `json:"toAgent"`
	TenantID  string `json:"tenantId"`
	Message   string `json:"message"`
}

// SendResponse 发送消息响应
type SendResponse struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"messageId"`
	Queued    bool   `json:"queued"`
}

// Send 发送消息
// @Summary 同租户智能体间发送消息
// @Tags Messages
// @Accept json
// @Produce json
// @Router /internal/message [post]
func (h *MessageHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Err("invalid request body: "+err.Error()))
		return
	}

	messageID, err := h.broker.Send(req.TenantID, req.FromAgent, req.ToAgent, req.Message)
	if err != nil {
		if broker.IsValidation(err) {
			c.JSON(http.StatusBadRequest, response.Err(err.Error()))
			return
		}
		c.JSON(http.StatusInternalServerError, response.Err("failed to deliver message"))
		return
	}

	c.JSON(http.StatusOK, SendResponse{OK: true, MessageID: messageID, Queued: true})
}

// PollResponse 拉取消息响应
type PollResponse struct {
	Messages []broker.Delivery `json:"messages"`
}

// Poll 拉取消息
// @Summary 拉取并移除收件队列中最旧的消息
// @Tags Messages
// @Produce json
// @Router /internal/messages [get]
func (h *MessageHandler) Poll(c *gin.Context) {
	tenantID := c.Query("tenantId")
	agentID := c.Query("agentId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	deliveries, err := h.broker.Poll(tenantID, agentID, limit)
	if err != nil {
		switch {
		case errors.Is(err, broker.ErrAgentNotInTenant):
			c.JSON(http.StatusForbidden, response.Err(err.Error()))
		case broker.IsValidation(err):
			c.JSON(http.StatusBadRequest, response.Err(err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, response.Err("failed to poll messages"))
		}
		return
	}

	if deliveries == nil {
		deliveries = []broker.Delivery{}
	}
	c.JSON(http.StatusOK, PollResponse{Messages: deliveries})
}

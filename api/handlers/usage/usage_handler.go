package usage

import (
	"net/http"

	response "backend/api/handlers/common"
	usageSvc "backend/internal/usage"

	"github.com/gin-gonic/gin"
)

// UsageHandler 配额与用量处理器
type UsageHandler struct {
	gate      *usageSvc.Gate
	estimator *usageSvc.Estimator
}

// NewUsageHandler 创建配额处理器
func NewUsageHandler(gate *usageSvc.Gate, estimator *usageSvc.Estimator) *UsageHandler {
	return &UsageHandler{gate: gate, estimator: estimator}
}

// CheckQuotaRequest 配额预检请求。
// EstimatedTokens 与 Prompt 二选一：调用方只有提示词文本时
// 由服务端用 tiktoken 估算。
type CheckQuotaRequest struct {
	TenantID        string `json:"tenantId"`
	EstimatedTokens int64  `json:"estimatedTokens"`
	Prompt          string `json:"prompt"`
	Model           string `json:"model"`
}

// CheckQuota 配额预检
// @Summary 计量操作执行前的配额预检
// @Tags Usage
// @Accept json
// @Produce json
// @Router /internal/quota/check [post]
func (h *UsageHandler) CheckQuota(c *gin.Context) {
	var req CheckQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Err("invalid request body: "+err.Error()))
		return
	}
	if req.TenantID == "" {
		c.JSON(http.StatusBadRequest, response.Err("tenantId is required"))
		return
	}

	estimated := req.EstimatedTokens
	if estimated == 0 && req.Prompt != "" {
		estimated = h.estimator.EstimateTokens(req.Model, req.Prompt)
	}
	if estimated < 0 {
		c.JSON(http.StatusBadRequest, response.Err("estimatedTokens must be non-negative"))
		return
	}

	decision, err := h.gate.CheckQuota(req.TenantID, estimated)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Err("quota check failed"))
		return
	}
	c.JSON(http.StatusOK, decision)
}

// TrackRequest 用量上报请求
type TrackRequest struct {
	TenantID     string `json:"tenantId"`
	AgentID      string `json:"agentId"`
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	Model        string `json:"model"`
}

// TrackTokens 上报实际用量
// @Summary 计量操作完成后上报实际 Token 消耗
// @Tags Usage
// @Accept json
// @Produce json
// @Router /internal/usage/track [post]
func (h *UsageHandler) TrackTokens(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Err("invalid request body: "+err.Error()))
		return
	}
	if req.TenantID == "" || req.AgentID == "" {
		c.JSON(http.StatusBadRequest, response.Err("tenantId and agentId are required"))
		return
	}
	if req.InputTokens < 0 || req.OutputTokens < 0 {
		c.JSON(http.StatusBadRequest, response.Err("token counts must be non-negative"))
		return
	}

	result, err := h.gate.TrackTokens(req.TenantID, req.AgentID, usageSvc.TokenUsage{
		InputTokens:  req.InputTokens,
		OutputTokens: req.OutputTokens,
		Model:        req.Model,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Err("failed to track usage"))
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUsage 查询用量快照
// @Summary 查询租户当月（或指定月份）用量
// @Tags Usage
// @Produce json
// @Router /internal/usage [get]
func (h *UsageHandler) GetUsage(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, response.Err("tenantId is required"))
		return
	}

	record, err := h.gate.GetUsage(tenantID, c.Query("month"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Err("failed to load usage"))
		return
	}
	c.JSON(http.StatusOK, record)
}

package audit

import (
	"net/http"
	"strconv"
	"time"

	response "backend/api/handlers/common"
	auditSvc "backend/internal/audit"

	"github.com/gin-gonic/gin"
)

// AuditHandler 审计日志处理器
type AuditHandler struct {
	store *auditSvc.Store
}

// NewAuditHandler 创建审计处理器
func NewAuditHandler(store *auditSvc.Store) *AuditHandler {
	return &AuditHandler{store: store}
}

// SearchResponse 审计查询响应
type SearchResponse struct {
	Entries []auditSvc.Entry `json:"entries"`
}

// Search 查询审计日志
// @Summary 按租户与时间范围查询审计事件
// @Tags Audit
// @Produce json
// @Router /internal/audit/search [get]
func (h *AuditHandler) Search(c *gin.Context) {
	tenantID := c.Query("tenantId")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, response.Err("tenantId is required"))
		return
	}

	query := auditSvc.SearchQuery{
		Action:  auditSvc.Action(c.Query("action")),
		AgentID: c.Query("agentId"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Err("from must be RFC3339"))
			return
		}
		query.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.Err("to must be RFC3339"))
			return
		}
		query.To = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, response.Err("limit must be a non-negative integer"))
			return
		}
		query.Limit = n
	}

	entries, err := h.store.Search(tenantID, query)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Err("audit search failed"))
		return
	}
	if entries == nil {
		entries = []auditSvc.Entry{}
	}
	c.JSON(http.StatusOK, SearchResponse{Entries: entries})
}

// Rotate 手动触发日志轮转
// @Summary 立即执行审计日志压缩与过期清理
// @Tags Audit
// @Produce json
// @Router /internal/audit/rotate [post]
func (h *AuditHandler) Rotate(c *gin.Context) {
	result := h.store.Rotate()
	c.JSON(http.StatusOK, result)
}

package messages

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"backend/internal/audit"
	"backend/internal/broker"
	"backend/internal/directory"
	"backend/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	dir := &directory.StaticDirectory{
		Tenants: map[string][]string{
			"tenant-a": {"writer", "editor"},
			"tenant-b": {"translator"},
		},
	}
	b := broker.New(
		broker.NewStore(t.TempDir()),
		dir,
		audit.NewStore(t.TempDir(), audit.RotatePolicy{}),
	)
	handler := NewMessageHandler(b)

	router := gin.New()
	router.POST("/internal/message", handler.Send)
	router.GET("/internal/messages", handler.Poll)
	return router
}

func postMessage(router *gin.Engine, body map[string]any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/internal/message", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMessageHandler_Send(t *testing.T) {
	t.Run("发送成功返回消息ID", func(t *testing.T) {
		router := newTestRouter(t)
		w := postMessage(router, map[string]any{
			"fromAgent": "writer",
			"toAgent":   "editor",
			"tenantId":  "tenant-a",
			"message":   "草稿完成",
		})

		require.Equal(t, http.StatusOK, w.Code)
		var resp SendResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.OK)
		assert.True(t, resp.Queued)
		assert.NotEmpty(t, resp.MessageID)
	})

	t.Run("跨租户发送返回400", func(t *testing.T) {
		router := newTestRouter(t)
		w := postMessage(router, map[string]any{
			"fromAgent": "writer",
			"toAgent":   "translator",
			"tenantId":  "tenant-a",
			"message":   "hello",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "error")
	})

	t.Run("缺字段返回400", func(t *testing.T) {
		router := newTestRouter(t)
		w := postMessage(router, map[string]any{
			"toAgent":  "editor",
			"tenantId": "tenant-a",
			"message":  "hello",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMessageHandler_Poll(t *testing.T) {
	t.Run("拉取后队列清空", func(t *testing.T) {
		router := newTestRouter(t)
		postMessage(router, map[string]any{
			"fromAgent": "writer", "toAgent": "editor", "tenantId": "tenant-a", "message": "one",
		})

		req := httptest.NewRequest(http.MethodGet, "/internal/messages?tenantId=tenant-a&agentId=editor&limit=10", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp PollResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Messages, 1)
		assert.Equal(t, "one", resp.Messages[0].Message)

		w = httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/messages?tenantId=tenant-a&agentId=editor", nil))
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Empty(t, resp.Messages)
	})

	t.Run("越权拉取返回403", func(t *testing.T) {
		router := newTestRouter(t)
		req := httptest.NewRequest(http.MethodGet, "/internal/messages?tenantId=tenant-a&agentId=translator", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("缺参数返回400", func(t *testing.T) {
		router := newTestRouter(t)
		req := httptest.NewRequest(http.MethodGet, "/internal/messages?agentId=editor", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

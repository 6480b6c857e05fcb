package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"backend/internal/audit"
	"backend/internal/directory"
	"backend/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", "console", "stderr"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type brokerFixture struct {
	broker    *Broker
	store     *Store
	audit     *audit.Store
	queueRoot string
	auditRoot string
}

func newBrokerFixture(t *testing.T) *brokerFixture {
	t.Helper()
	queueRoot := t.TempDir()
	auditRoot := t.TempDir()

	dir := &directory.StaticDirectory{
		Tenants: map[string][]string{
			"tenant-a": {"writer", "editor", "reviewer"},
			"tenant-b": {"writer", "translator"},
		},
	}
	store := NewStore(queueRoot)
	auditStore := audit.NewStore(auditRoot, audit.RotatePolicy{})
	return &brokerFixture{
		broker:    New(store, dir, auditStore),
		store:     store,
		audit:     auditStore,
		queueRoot: queueRoot,
		auditRoot: auditRoot,
	}
}

func TestBroker_Send(t *testing.T) {
	t.Run("同租户消息成功入队", func(t *testing.T) {
		f := newBrokerFixture(t)
		id, err := f.broker.Send("tenant-a", "writer", "editor", "初稿已完成，请审阅")
		require.NoError(t, err)
		assert.NotEmpty(t, id)
		assert.Equal(t, 1, f.store.Pending("tenant-a", "editor"))
	})

	t.Run("跨租户投递始终被拒", func(t *testing.T) {
		f := newBrokerFixture(t)
		// translator 属于 tenant-b，不属于 tenant-a
		_, err := f.broker.Send("tenant-a", "writer", "translator", "hello")
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Equal(t, 0, f.store.Pending("tenant-b", "translator"), "不得在其他租户名下入队")
		assert.Equal(t, 0, f.store.Pending("tenant-a", "translator"))
	})

	t.Run("发送方不属于租户被拒", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Send("tenant-a", "translator", "writer", "hello")
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Contains(t, err.Error(), "fromAgent")
	})

	t.Run("禁止自发消息", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Send("tenant-a", "writer", "writer", "hello")
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Contains(t, err.Error(), "itself")
	})

	t.Run("校验顺序短路", func(t *testing.T) {
		f := newBrokerFixture(t)

		_, err := f.broker.Send("tenant-a", "", "editor", "hi")
		assert.Contains(t, err.Error(), "fromAgent")

		_, err = f.broker.Send("tenant-a", "writer", "", "hi")
		assert.Contains(t, err.Error(), "toAgent")

		_, err = f.broker.Send("bad tenant!", "writer", "editor", "hi")
		assert.Contains(t, err.Error(), "tenantId")

		_, err = f.broker.Send("tenant-a", "writer", "editor", "")
		assert.Contains(t, err.Error(), "message")
	})

	t.Run("拒绝事件写入审计", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Send("tenant-a", "writer", "writer", "hello")
		require.Error(t, err)

		entries, err := f.audit.Search("tenant-a", audit.SearchQuery{Action: audit.ActionMessageRejected})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Meta["reason"], "itself")
	})

	t.Run("审计事件只含指纹不含正文", func(t *testing.T) {
		f := newBrokerFixture(t)
		payload := "机密正文 super-secret-body"
		_, err := f.broker.Send("tenant-a", "writer", "editor", payload)
		require.NoError(t, err)

		entries, err := f.audit.Search("tenant-a", audit.SearchQuery{Action: audit.ActionMessageSend})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, audit.Fingerprint(payload), entries[0].Meta["content_hash"])
		for _, v := range entries[0].Meta {
			s, ok := v.(string)
			if ok {
				assert.NotContains(t, s, payload)
			}
		}
	})
}

func TestBroker_Poll(t *testing.T) {
	t.Run("先进先出且排空后不重复", func(t *testing.T) {
		f := newBrokerFixture(t)
		id1, err := f.broker.Send("tenant-a", "writer", "editor", "第一条")
		require.NoError(t, err)
		id2, err := f.broker.Send("tenant-a", "writer", "editor", "第二条")
		require.NoError(t, err)
		id3, err := f.broker.Send("tenant-a", "reviewer", "editor", "第三条")
		require.NoError(t, err)

		first, err := f.broker.Poll("tenant-a", "editor", 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, id1, first[0].ID)
		assert.Equal(t, id2, first[1].ID)

		second, err := f.broker.Poll("tenant-a", "editor", 10)
		require.NoError(t, err)
		require.Len(t, second, 1)
		assert.Equal(t, id3, second[0].ID)

		// 已排空的消息ID不再出现
		third, err := f.broker.Poll("tenant-a", "editor", 10)
		require.NoError(t, err)
		assert.Empty(t, third)
	})

	t.Run("越权拉取被拒并审计", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Poll("tenant-a", "translator", 10)
		assert.ErrorIs(t, err, ErrAgentNotInTenant)

		entries, err := f.audit.Search("tenant-a", audit.SearchQuery{Action: audit.ActionMessagePollDenied})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("投递视图剥离簿记字段", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Send("tenant-a", "writer", "editor", "正文")
		require.NoError(t, err)

		deliveries, err := f.broker.Poll("tenant-a", "editor", 1)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		assert.Equal(t, "writer", deliveries[0].FromAgent)
		assert.Equal(t, "正文", deliveries[0].Message)
		assert.NotZero(t, deliveries[0].Timestamp)
	})

	t.Run("排空后队列文件为空", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Send("tenant-a", "writer", "editor", "正文")
		require.NoError(t, err)
		_, err = f.broker.Poll("tenant-a", "editor", 10)
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(f.queueRoot, "tenant-a", "editor.jsonl"))
		require.NoError(t, err)
		assert.Empty(t, data)
	})
}

func TestBroker_ConcurrentSend(t *testing.T) {
	t.Run("并发发送全部入队且恰好投递一次", func(t *testing.T) {
		f := newBrokerFixture(t)
		const n = 32

		var wg sync.WaitGroup
		ids := make([]string, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = f.broker.Send("tenant-a", "writer", "editor", fmt.Sprintf("消息 %d", i))
			}(i)
		}
		wg.Wait()
		for i := 0; i < n; i++ {
			require.NoError(t, errs[i])
		}
		assert.Equal(t, n, f.store.Pending("tenant-a", "editor"))

		deliveries, err := f.broker.Poll("tenant-a", "editor", n)
		require.NoError(t, err)
		require.Len(t, deliveries, n)

		seen := make(map[string]bool, n)
		for _, d := range deliveries {
			assert.False(t, seen[d.ID], "同一消息不应投递两次")
			seen[d.ID] = true
		}
		for _, id := range ids {
			assert.True(t, seen[id], "并发发送的消息不应丢失")
		}
		assert.Equal(t, 0, f.store.Pending("tenant-a", "editor"))
	})

	t.Run("并发发送后磁盘镜像与内存顺序一致", func(t *testing.T) {
		f := newBrokerFixture(t)
		const n = 16

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := f.broker.Send("tenant-a", "writer", "editor", fmt.Sprintf("消息 %d", i))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		// 重放磁盘镜像，排空顺序必须与在线队列完全一致
		recovered := NewStore(f.queueRoot)
		require.NoError(t, recovered.Replay())
		require.Equal(t, n, recovered.Pending("tenant-a", "editor"))

		fromDisk, err := recovered.Drain("tenant-a", "editor", n)
		require.NoError(t, err)
		fromMemory, err := f.store.Drain("tenant-a", "editor", n)
		require.NoError(t, err)
		require.Len(t, fromDisk, n)
		require.Len(t, fromMemory, n)
		for i := range fromMemory {
			assert.Equal(t, fromMemory[i].ID, fromDisk[i].ID)
		}
	})
}

func TestStore_Replay(t *testing.T) {
	t.Run("崩溃恢复后内存与文件收敛", func(t *testing.T) {
		f := newBrokerFixture(t)
		id1, err := f.broker.Send("tenant-a", "writer", "editor", "消息一")
		require.NoError(t, err)
		id2, err := f.broker.Send("tenant-a", "writer", "editor", "消息二")
		require.NoError(t, err)

		// 新 Store 模拟进程重启
		recovered := NewStore(f.queueRoot)
		require.NoError(t, recovered.Replay())
		assert.Equal(t, 2, recovered.Pending("tenant-a", "editor"))

		dir := &directory.StaticDirectory{Tenants: map[string][]string{"tenant-a": {"writer", "editor"}}}
		rebooted := New(recovered, dir, f.audit)
		deliveries, err := rebooted.Poll("tenant-a", "editor", 10)
		require.NoError(t, err)
		require.Len(t, deliveries, 2)
		assert.Equal(t, id1, deliveries[0].ID)
		assert.Equal(t, id2, deliveries[1].ID)
	})

	t.Run("损坏行跳过其余保留", func(t *testing.T) {
		f := newBrokerFixture(t)
		_, err := f.broker.Send("tenant-a", "writer", "editor", "完好消息")
		require.NoError(t, err)

		path := filepath.Join(f.queueRoot, "tenant-a", "editor.jsonl")
		file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		_, err = file.WriteString("{corrupt-line\n")
		require.NoError(t, err)
		require.NoError(t, file.Close())

		recovered := NewStore(f.queueRoot)
		require.NoError(t, recovered.Replay())
		assert.Equal(t, 1, recovered.Pending("tenant-a", "editor"))
	})

	t.Run("队列根目录不存在视为空", func(t *testing.T) {
		store := NewStore(filepath.Join(t.TempDir(), "missing"))
		assert.NoError(t, store.Replay())
		assert.Equal(t, 0, store.QueueCount())
	})
}

func TestStore_QueueCount(t *testing.T) {
	f := newBrokerFixture(t)
	assert.Equal(t, 0, f.broker.QueueCount())

	_, err := f.broker.Send("tenant-a", "writer", "editor", "one")
	require.NoError(t, err)
	_, err = f.broker.Send("tenant-b", "writer", "translator", "two")
	require.NoError(t, err)
	assert.Equal(t, 2, f.broker.QueueCount())

	_, err = f.broker.Poll("tenant-a", "editor", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, f.broker.QueueCount())
}

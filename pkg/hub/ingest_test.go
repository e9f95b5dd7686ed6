package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/store"
)

// fakeRecorder 内存记录器
type fakeRecorder struct {
	mu      sync.Mutex
	records []store.MetricRecord
	err     error
}

func (f *fakeRecorder) SaveRecord(ctx context.Context, rec *store.MetricRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// TestEvaluateAlerts 测试告警规则评估
func TestEvaluateAlerts(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		types   []string
	}{
		{"低熵触发警告", `{"entropy": 10}`, []string{"low_entropy"}},
		{"熵值达标不触发", `{"entropy": 55.5}`, nil},
		{"泄露密码触发严重告警", `{"breached": true}`, []string{"breached_password"}},
		{"breached 为假不触发", `{"breached": false}`, nil},
		{"两个条件同时触发", `{"entropy": 5, "breached": true}`, []string{"low_entropy", "breached_password"}},
		{"字段缺失按未触发处理", `{"pattern": "dictionary"}`, nil},
		{"字段类型错误按未触发处理", `{"entropy": "low", "breached": "yes"}`, nil},
		{"负载畸形不报错", `not-json`, nil},
		{"阈值边界不触发", `{"entropy": 20}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alerts := EvaluateAlerts(json.RawMessage(tt.payload))
			require.Len(t, alerts, len(tt.types))
			for i, typ := range tt.types {
				assert.Equal(t, typ, alerts[i].Type)
			}
		})
	}
}

// TestEvaluateAlertsSeverity 测试告警级别
func TestEvaluateAlertsSeverity(t *testing.T) {
	alerts := EvaluateAlerts(json.RawMessage(`{"entropy": 1, "breached": true}`))
	require.Len(t, alerts, 2)
	assert.Equal(t, "warning", alerts[0].Severity)
	assert.Equal(t, "critical", alerts[1].Severity)
}

// TestIngestPipeline 测试摄入管线：缓冲追加、持久化、转发、告警
func TestIngestPipeline(t *testing.T) {
	rec := &fakeRecorder{}
	h, err := New(zap.NewNop(), rec)
	require.NoError(t, err)

	room := newRoom("ING234", testConfig(), nil)

	ctrl := newTestSession()
	_, err = room.setController(ctrl)
	require.NoError(t, err)
	recvMessage(t, ctrl) // joined

	client := newTestSession()
	client.remoteAddr = "10.0.0.9:4242"
	require.NoError(t, room.addClient(client))
	recvMessage(t, client) // joined
	recvMessage(t, ctrl)   // client_joined

	payload := json.RawMessage(`{"entropy": 10, "pattern": "keyboard"}`)
	h.ingest(room, client, payload)

	// (a) 历史缓冲追加
	history := room.History()
	require.Len(t, history, 1)
	assert.Equal(t, client.ID, history[0].ClientID)
	assert.Equal(t, "ING234", history[0].RoomCode)
	assert.Equal(t, "10.0.0.9:4242", history[0].SourceAddr)

	// (b) 恰好一次异步持久化
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	// (c) 恰好一条 metrics 转发给 controller
	fwd := recvMessage(t, ctrl)
	assert.Equal(t, TypeMetrics, fwd["type"])
	assert.Equal(t, client.ID, fwd["from"])
	assert.NotZero(t, fwd["timestamp"])

	// (d) 低熵负载产生一条批量告警
	alertsMsg := recvMessage(t, ctrl)
	assert.Equal(t, TypeAlerts, alertsMsg["type"])
	alerts := alertsMsg["alerts"].([]any)
	require.Len(t, alerts, 1)
	first := alerts[0].(map[string]any)
	assert.Equal(t, "low_entropy", first["type"])
}

// TestIngestPersistFailure 测试持久化失败不影响转发路径
func TestIngestPersistFailure(t *testing.T) {
	rec := &fakeRecorder{err: assert.AnError}
	h, err := New(zap.NewNop(), rec)
	require.NoError(t, err)

	room := newRoom("PER234", testConfig(), nil)
	ctrl := newTestSession()
	_, err = room.setController(ctrl)
	require.NoError(t, err)
	recvMessage(t, ctrl)

	client := newTestSession()
	require.NoError(t, room.addClient(client))
	recvMessage(t, client)
	recvMessage(t, ctrl)

	h.ingest(room, client, json.RawMessage(`{"entropy": 80}`))

	// 转发不受影响
	fwd := recvMessage(t, ctrl)
	assert.Equal(t, TypeMetrics, fwd["type"])
	// 历史同样保留
	assert.Len(t, room.History(), 1)
}

// TestIngestNoRecorder 无存储时摄入仍可用
func TestIngestNoRecorder(t *testing.T) {
	h, err := New(zap.NewNop(), nil)
	require.NoError(t, err)

	room := newRoom("NOR234", testConfig(), nil)
	client := newTestSession()
	require.NoError(t, room.addClient(client))
	recvMessage(t, client)

	h.ingest(room, client, json.RawMessage(`{"entropy": 99}`))
	assert.Len(t, room.History(), 1)
}

// blockingRecorder 捕获在途写入看到的 context 并阻塞直到放行
type blockingRecorder struct {
	ctxCh   chan context.Context
	release chan struct{}
}

func (b *blockingRecorder) SaveRecord(ctx context.Context, _ *store.MetricRecord) error {
	b.ctxCh <- ctx
	<-b.release
	return ctx.Err()
}

// TestIngestPersistSurvivesShutdown 引擎关闭不取消在途持久化
func TestIngestPersistSurvivesShutdown(t *testing.T) {
	rec := &blockingRecorder{
		ctxCh:   make(chan context.Context, 1),
		release: make(chan struct{}),
	}
	h, err := New(zap.NewNop(), rec)
	require.NoError(t, err)

	room := newRoom("SHD234", testConfig(), nil)
	client := newTestSession()
	require.NoError(t, room.addClient(client))
	recvMessage(t, client) // joined

	h.ingest(room, client, json.RawMessage(`{"entropy": 88}`))

	var persistCtx context.Context
	select {
	case persistCtx = <-rec.ctxCh:
	case <-time.After(time.Second):
		t.Fatal("持久化任务未启动")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.Shutdown(shutdownCtx))

	// 关闭后在途写入的 context 仍然有效，写入独立完成或失败
	assert.NoError(t, persistCtx.Err())
	close(rec.release)
}

// TestIngestSettingsGates 测试实时转发与告警开关
func TestIngestSettingsGates(t *testing.T) {
	h, err := New(zap.NewNop(), nil)
	require.NoError(t, err)

	room := newRoom("GAT234", testConfig(), nil)
	ctrl := newTestSession()
	_, err = room.setController(ctrl)
	require.NoError(t, err)
	recvMessage(t, ctrl)

	client := newTestSession()
	require.NoError(t, room.addClient(client))
	recvMessage(t, client)
	recvMessage(t, ctrl)

	off := false
	room.UpdateSettings(&SettingsPatch{RealtimeEnabled: &off, AlertsEnabled: &off})

	h.ingest(room, client, json.RawMessage(`{"entropy": 1, "breached": true}`))

	// 开关关闭后 controller 不应收到任何消息
	select {
	case f := <-ctrl.send:
		t.Fatalf("不应收到消息: %s", f.data)
	case <-time.After(100 * time.Millisecond):
	}
	// 历史缓冲不受开关影响
	assert.Len(t, room.History(), 1)
}

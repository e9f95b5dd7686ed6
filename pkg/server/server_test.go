package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tokmz/relay/pkg/hub"
	"github.com/tokmz/relay/pkg/store"
)

// newTestServer 内存存储加空引擎的完整管理接口
func newTestServer(t *testing.T) (*Server, *hub.Hub, *store.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	st, err := store.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})

	h, err := hub.New(zap.NewNop(), st, hub.WithAllowAllOrigins())
	require.NoError(t, err)

	return New(h, st, zap.NewNop(), "test"), h, st
}

// doRequest 发起请求并解码统一响应
func doRequest(t *testing.T, s *Server, method, path string) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

// TestCreateRoom 创建房间返回房间码且注册表可见
func TestCreateRoom(t *testing.T) {
	s, h, _ := newTestServer(t)

	status, resp := doRequest(t, s, http.MethodPost, "/api/rooms")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.StatusOK, resp.Code)

	data := resp.Data.(map[string]any)
	code := data["code"].(string)
	assert.Len(t, code, 6)

	_, found := h.Registry().GetRoom(code)
	assert.True(t, found)
}

// TestListRooms 列表按创建时间排序并携带持久化计数
func TestListRooms(t *testing.T) {
	s, h, st := newTestServer(t)

	first, err := h.Registry().CreateRoom()
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := h.Registry().CreateRoom()
	require.NoError(t, err)

	require.NoError(t, st.SaveRecord(context.Background(), &store.MetricRecord{
		ClientID:  "client-1",
		RoomCode:  first.Code,
		Timestamp: time.Now(),
		Payload:   json.RawMessage(`{"entropy": 55}`),
	}))

	status, resp := doRequest(t, s, http.MethodGet, "/api/rooms")
	require.Equal(t, http.StatusOK, status)

	list := resp.Data.([]any)
	require.Len(t, list, 2)
	assert.Equal(t, first.Code, list[0].(map[string]any)["code"])
	assert.Equal(t, second.Code, list[1].(map[string]any)["code"])
	assert.Equal(t, float64(1), list[0].(map[string]any)["metrics_count"])
}

// TestRoomStatsNotFound 不存在的房间码返回 404
func TestRoomStatsNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, resp := doRequest(t, s, http.MethodGet, "/api/rooms/ZZZZ99")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "room not found", resp.Message)
}

// TestRoomStats 单房间状态快照
func TestRoomStats(t *testing.T) {
	s, h, _ := newTestServer(t)

	room, err := h.Registry().CreateRoom()
	require.NoError(t, err)

	status, resp := doRequest(t, s, http.MethodGet, "/api/rooms/"+room.Code)
	require.Equal(t, http.StatusOK, status)

	data := resp.Data.(map[string]any)
	assert.Equal(t, room.Code, data["code"])
	assert.Equal(t, float64(0), data["client_count"])
	assert.Equal(t, false, data["has_controller"])
}

// TestRoomMetricsPagination 历史分页，最新在前，空结果为数组
func TestRoomMetricsPagination(t *testing.T) {
	s, h, st := newTestServer(t)

	room, err := h.Registry().CreateRoom()
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.SaveRecord(context.Background(), &store.MetricRecord{
			ClientID:  "client-1",
			RoomCode:  room.Code,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Payload:   json.RawMessage(`{"entropy": 10}`),
		}))
	}

	status, resp := doRequest(t, s, http.MethodGet, "/api/rooms/"+room.Code+"/metrics?limit=2&offset=0")
	require.Equal(t, http.StatusOK, status)

	page := resp.Data.(map[string]any)
	assert.Equal(t, float64(5), page["total"])
	assert.Len(t, page["list"].([]any), 2)

	// 空房间返回空数组而不是 null
	empty, err := h.Registry().CreateRoom()
	require.NoError(t, err)
	_, resp = doRequest(t, s, http.MethodGet, "/api/rooms/"+empty.Code+"/metrics")
	page = resp.Data.(map[string]any)
	assert.NotNil(t, page["list"])
	assert.Len(t, page["list"].([]any), 0)
}

// TestRoomMetricsUnknownRoom 查询不存在房间的历史返回 404
func TestRoomMetricsUnknownRoom(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, _ := doRequest(t, s, http.MethodGet, "/api/rooms/ZZZZ99/metrics")
	assert.Equal(t, http.StatusNotFound, status)
}

// TestDeleteRoom 删除房间同时清理持久化记录
func TestDeleteRoom(t *testing.T) {
	s, h, st := newTestServer(t)

	room, err := h.Registry().CreateRoom()
	require.NoError(t, err)
	require.NoError(t, st.SaveRecord(context.Background(), &store.MetricRecord{
		ClientID:  "client-1",
		RoomCode:  room.Code,
		Timestamp: time.Now(),
		Payload:   json.RawMessage(`{"entropy": 5}`),
	}))

	status, _ := doRequest(t, s, http.MethodDelete, "/api/rooms/"+room.Code)
	require.Equal(t, http.StatusOK, status)

	_, found := h.Registry().GetRoom(room.Code)
	assert.False(t, found)

	count, err := st.CountByRoom(context.Background(), room.Code)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

// TestDeleteRoomNotFound 重复删除返回 404
func TestDeleteRoomNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	status, _ := doRequest(t, s, http.MethodDelete, "/api/rooms/ZZZZ99")
	assert.Equal(t, http.StatusNotFound, status)
}

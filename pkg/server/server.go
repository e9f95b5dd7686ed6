package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/hub"
	"github.com/tokmz/relay/pkg/store"
)

// Server 管理接口
//
// 房间注册表与持久化存储之上的薄门面：房间增删查、
// 遥测历史分页查询，以及 WebSocket 接入端点。
// 除创建房间外所有操作重试幂等。
type Server struct {
	hub    *hub.Hub
	store  *store.Store
	logger *zap.Logger
	engine *gin.Engine
}

// New 创建管理接口
func New(h *hub.Hub, st *store.Store, logger *zap.Logger, mode string) *Server {
	if mode != "" {
		gin.SetMode(mode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(logger))

	s := &Server{
		hub:    h,
		store:  st,
		logger: logger,
		engine: engine,
	}
	s.registerRoutes()
	return s
}

// Handler HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.engine
}

// registerRoutes 注册路由
func (s *Server) registerRoutes() {
	s.engine.GET("/ws", s.handleUpgrade)

	api := s.engine.Group("/api")
	{
		api.POST("/rooms", s.handleCreateRoom)
		api.GET("/rooms", s.handleListRooms)
		api.GET("/rooms/:code", s.handleRoomStats)
		api.GET("/rooms/:code/metrics", s.handleRoomMetrics)
		api.DELETE("/rooms/:code", s.handleDeleteRoom)
	}
}

// handleUpgrade WebSocket 接入
func (s *Server) handleUpgrade(c *gin.Context) {
	if err := s.hub.HandleUpgrade(c.Writer, c.Request); err != nil {
		// 升级失败时 upgrader 已写入响应
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
	}
}

// handleCreateRoom 创建房间，返回新生成的房间码
func (s *Server) handleCreateRoom(c *gin.Context) {
	room, err := s.hub.Registry().CreateRoom()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, gin.H{"code": room.Code})
}

// handleListRooms 房间列表快照
func (s *Server) handleListRooms(c *gin.Context) {
	stats := s.hub.Registry().ListRooms()
	for i := range stats {
		if count, err := s.store.CountByRoom(c.Request.Context(), stats[i].Code); err == nil {
			stats[i].MetricsCount = count
		}
	}
	ok(c, stats)
}

// handleRoomStats 单房间状态
func (s *Server) handleRoomStats(c *gin.Context) {
	code := c.Param("code")
	room, found := s.hub.Registry().GetRoom(code)
	if !found {
		fail(c, http.StatusNotFound, "room not found")
		return
	}

	stats := room.Stats()
	if count, err := s.store.CountByRoom(c.Request.Context(), code); err == nil {
		stats.MetricsCount = count
	}
	ok(c, stats)
}

// handleRoomMetrics 房间遥测历史，分页，最新在前
func (s *Server) handleRoomMetrics(c *gin.Context) {
	code := c.Param("code")
	if _, found := s.hub.Registry().GetRoom(code); !found {
		fail(c, http.StatusNotFound, "room not found")
		return
	}

	limit := parseIntQuery(c, "limit", 50)
	offset := parseIntQuery(c, "offset", 0)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, total, err := s.store.ListByRoom(c.Request.Context(), code, limit, offset)
	if err != nil {
		s.logger.Error("failed to query metric history",
			zap.String("room_code", code), zap.Error(err))
		fail(c, http.StatusInternalServerError, "failed to query metric history")
		return
	}
	if records == nil {
		records = []store.MetricRecord{}
	}
	okPage(c, records, total)
}

// handleDeleteRoom 删除房间并清理其持久化记录
func (s *Server) handleDeleteRoom(c *gin.Context) {
	code := c.Param("code")
	if err := s.hub.Registry().DeleteRoom(code, "room deleted by administrator"); err != nil {
		fail(c, http.StatusNotFound, "room not found")
		return
	}

	// 持久化清理尽力而为，失败交给保留期清扫兜底
	if err := s.store.DeleteByRoom(c.Request.Context(), code); err != nil {
		s.logger.Error("failed to delete room records",
			zap.String("room_code", code), zap.Error(err))
	}
	ok(c, gin.H{"code": code})
}

// parseIntQuery 解析整型查询参数
func parseIntQuery(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

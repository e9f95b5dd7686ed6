package hub

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Hub 中继引擎
//
// 持有房间注册表与全部会话的生命周期，按角色与消息类型
// 路由入站消息：client 的遥测经摄入管线流向 controller，
// controller 的设置与广播流向 client。
type Hub struct {
	config   *Config
	logger   *zap.Logger
	registry *Registry
	recorder Recorder
	upgrader *websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建中继引擎
func New(logger *zap.Logger, recorder Recorder, opts ...Option) (*Hub, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		config:   config,
		logger:   logger,
		recorder: recorder,
		upgrader: config.newUpgrader(),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.registry = NewRegistry(config, logger)

	return h, nil
}

// Registry 房间注册表
func (h *Hub) Registry() *Registry {
	return h.registry
}

// HandleUpgrade 将 HTTP 请求升级为会话并接入引擎
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := newSession(conn, h)
	h.logger.Debug("session connected",
		zap.String("session_id", s.ID),
		zap.String("remote_addr", s.RemoteAddr()))

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		s.run()
	}()
	return nil
}

// Shutdown 优雅关闭：关停全部房间与会话并等待协程退出
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()
	h.registry.Shutdown()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch 按消息类型与角色分发入站消息
func (h *Hub) dispatch(s *Session, msg *Message) {
	switch msg.Type {
	case TypeHello:
		h.handleHello(s, msg)

	case TypePing:
		s.TrySend(pongMessage{Type: TypePong})

	case TypeMetrics:
		h.handleMetrics(s, msg)

	case TypeRoomSettings:
		h.handleSettings(s, msg)

	case TypeRelay:
		h.handleRelay(s, msg)

	default:
		s.TrySend(newError("unknown message type"))
		// 认证窗口内的未知消息视为握手失败
		if !s.authed.Load() {
			s.CloseWithReason("invalid message during authentication")
		}
	}
}

// handleHello 认证握手
//
// hello 合法当且仅当 role 可识别且房间码存在；client 角色
// 还要求房间未满。失败回复 error 并关闭连接。
func (h *Hub) handleHello(s *Session, msg *Message) {
	if s.authed.Load() {
		s.TrySend(newError("already authenticated"))
		return
	}

	if msg.Role != RoleController && msg.Role != RoleClient {
		s.TrySend(newError("invalid role"))
		s.CloseWithReason("invalid role")
		return
	}

	room, ok := h.registry.GetRoom(msg.Code)
	if !ok {
		s.TrySend(newError("unknown room code"))
		s.CloseWithReason("unknown room code")
		return
	}

	switch msg.Role {
	case RoleClient:
		if err := room.addClient(s); err != nil {
			if err == ErrRoomFull {
				s.TrySend(newError("room full"))
				s.CloseWithReason("room full")
			} else {
				s.TrySend(newError("room unavailable"))
				s.CloseWithReason("room unavailable")
			}
			return
		}

	case RoleController:
		prev, err := room.setController(s)
		if err != nil {
			s.TrySend(newError("room unavailable"))
			s.CloseWithReason("room unavailable")
			return
		}
		// 槽位覆盖策略：替换并关闭旧 controller
		if prev != nil && prev != s {
			prev.CloseWithReason("controller replaced")
		}
	}

	s.attach(room, msg.Role)
	h.logger.Info("session authenticated",
		zap.String("session_id", s.ID),
		zap.String("room_code", room.Code),
		zap.String("role", msg.Role))
}

// handleMetrics client 遥测摄入
func (h *Hub) handleMetrics(s *Session, msg *Message) {
	room, ok := h.requireRole(s, RoleClient)
	if !ok {
		return
	}
	if len(msg.Payload) == 0 {
		s.TrySend(newError("missing payload"))
		return
	}
	h.ingest(room, s, msg.Payload)
}

// handleSettings controller 更新房间设置并回显
func (h *Hub) handleSettings(s *Session, msg *Message) {
	room, ok := h.requireRole(s, RoleController)
	if !ok {
		return
	}
	if msg.Settings == nil {
		s.TrySend(newError("missing settings"))
		return
	}
	merged := room.UpdateSettings(msg.Settings)
	s.TrySend(settingsMessage{Type: TypeRoomSettings, Settings: merged})
}

// handleRelay controller 向全部 client 广播
func (h *Hub) handleRelay(s *Session, msg *Message) {
	room, ok := h.requireRole(s, RoleController)
	if !ok {
		return
	}
	room.relayToClients(relayMessage{Type: TypeRelay, Payload: msg.Payload}, nil)
}

// requireRole 校验会话已认证且角色匹配；不匹配回复 error
func (h *Hub) requireRole(s *Session, role string) (*Room, bool) {
	if !s.authed.Load() {
		s.TrySend(newError("not authenticated"))
		s.CloseWithReason("not authenticated")
		return nil, false
	}

	s.mu.Lock()
	room := s.room
	current := s.role
	s.mu.Unlock()

	if current != role || room == nil {
		s.TrySend(newError("operation not allowed for role"))
		return nil, false
	}
	return room, true
}

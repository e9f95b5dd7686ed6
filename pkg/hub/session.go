package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Session 一条双工连接的会话
//
// 状态机：Connecting → Authenticating → Authenticated{role} → Closed。
// 连接建立即启动认证定时器，超时未完成 hello 则强制关闭；
// 认证成功后由所在房间持有，连接以任何方式断开都会从房间移除。
type Session struct {
	ID string

	hub  *Hub
	conn *websocket.Conn

	// 发送队列（非阻塞投递，满则丢弃）；关闭帧也经由队列，
	// 保证此前排队的 error 消息先于关闭帧写出
	send chan frame

	// 认证后填充
	role     string
	roomCode string
	authed   atomic.Bool

	// 连接元数据
	remoteAddr  string
	connectedAt time.Time

	// 生命周期
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	authTimer *time.Timer

	mu   sync.Mutex
	room *Room // 认证成功后指向所在房间
}

// frame 一帧出站数据
type frame struct {
	opcode int
	data   []byte
}

// newSession 创建会话并启动认证定时器
func newSession(conn *websocket.Conn, h *Hub) *Session {
	ctx, cancel := context.WithCancel(h.ctx)

	s := &Session{
		ID:          uuid.NewString(),
		hub:         h,
		conn:        conn,
		send:        make(chan frame, h.config.SendQueueSize),
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}

	// 认证超时：窗口内未完成 hello 则关闭
	s.authTimer = time.AfterFunc(h.config.AuthTimeout, func() {
		if !s.authed.Load() {
			s.hub.logger.Info("authentication timeout",
				zap.String("session_id", s.ID),
				zap.String("remote_addr", s.remoteAddr))
			s.TrySend(newError("authentication timeout"))
			s.CloseWithReason("authentication timeout")
		}
	})

	return s
}

// run 启动读写协程，任一退出即关闭会话
func (s *Session) run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readPump()
	}()
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	wg.Wait()
	s.Close()
}

// readPump 读取并分发入站消息
func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(s.hub.config.MaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(s.hub.config.HeartbeatTimeout)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.hub.config.HeartbeatTimeout))
	})

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.hub.logger.Debug("connection closed unexpectedly",
						zap.String("session_id", s.ID), zap.Error(err))
				}
				return
			}

			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				// 认证前的协议错误是致命的
				if !s.authed.Load() {
					s.TrySend(newError("malformed message"))
					s.CloseWithReason("malformed message during authentication")
					return
				}
				s.TrySend(newError("malformed message"))
				continue
			}

			s.hub.dispatch(s, &msg)
		}
	}
}

// writePump 写出消息并按固定间隔发送 ping
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case f := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(f.opcode, f.data); err != nil {
				return
			}
			if f.opcode == websocket.CloseMessage {
				s.Close()
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.hub.config.WriteWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend 尽力投递一条出站消息
//
// 连接已关闭、队列已满或序列化失败时直接丢弃，永不阻塞，
// 广播路径不会因个别接收端不可达而受影响。
func (s *Session) TrySend(v any) bool {
	if s.closed.Load() {
		return false
	}
	data := marshalMessage(v)
	if data == nil {
		return false
	}
	select {
	case s.send <- frame{opcode: websocket.TextMessage, data: data}:
		return true
	default:
		return false
	}
}

// Role 会话角色（认证前为空）
func (s *Session) Role() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// RoomCode 所属房间码（认证前为空）
func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

// RemoteAddr 对端网络地址
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// attach 记录认证结果（由 Hub 在加入房间成功后调用）
func (s *Session) attach(room *Room, role string) {
	s.mu.Lock()
	s.room = room
	s.role = role
	s.roomCode = room.Code
	s.mu.Unlock()

	s.authed.Store(true)
	s.authTimer.Stop()

	// 入房与记录之间会话已关闭时，Close 看到的 room 还是 nil，
	// 这里补一次移除，防止死会话滞留成员表
	if s.closed.Load() {
		room.removeMember(s, role)
	}
}

// CloseWithReason 发送带原因的关闭帧后关闭会话
//
// 关闭帧排在已入队消息之后写出；队列满或超时未写出时
// 直接强制关闭。
func (s *Session) CloseWithReason(reason string) {
	if s.closed.Load() {
		return
	}
	f := frame{
		opcode: websocket.CloseMessage,
		data:   websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
	}
	select {
	case s.send <- f:
		// 兜底：writePump 未能及时写出关闭帧也要关闭
		time.AfterFunc(s.hub.config.WriteWait, s.Close)
	default:
		s.Close()
	}
}

// Close 关闭会话（幂等）
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.authTimer.Stop()
		s.cancel()

		s.mu.Lock()
		room := s.room
		role := s.role
		s.mu.Unlock()

		// 从所在房间移除
		if room != nil {
			room.removeMember(s, role)
		}

		// 发送队列不显式关闭，writePump 经由 ctx 退出，队列由 GC 回收，
		// 避免与并发 TrySend 产生 send on closed channel
		s.conn.Close()
	})
}

// IsClosed 会话是否已关闭
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

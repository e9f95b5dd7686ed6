package hub

import (
	"sync"
	"time"

	"github.com/tokmz/relay/pkg/store"
)

// Room 房间
//
// 一个房间最多持有一个 controller 会话和若干 client 会话，
// 并维护一段容量固定的遥测历史。成员、历史与设置全部由
// 单把互斥锁保护，任意时刻只有一个处理流程在改动同一房间。
type Room struct {
	Code string

	mu         sync.Mutex
	controller *Session
	clients    map[string]*Session
	history    []store.MetricRecord
	settings   Settings
	closed     bool

	createdAt    time.Time
	lastActivity time.Time

	// 空房间回收
	grace       time.Duration
	deleteTimer *time.Timer
	onExpired   func(code string)

	maxClients int
}

// RoomStats 房间状态快照
type RoomStats struct {
	Code           string    `json:"code"`
	ClientCount    int       `json:"client_count"`
	HasController  bool      `json:"has_controller"`
	HistorySize    int       `json:"history_size"`
	MetricsCount   int64     `json:"metrics_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// newRoom 创建房间
func newRoom(code string, cfg *Config, onExpired func(code string)) *Room {
	now := time.Now()
	return &Room{
		Code:    code,
		clients: make(map[string]*Session),
		history: make([]store.MetricRecord, 0, cfg.MaxHistory),
		settings: Settings{
			MaxHistory:      cfg.MaxHistory,
			AlertsEnabled:   true,
			RealtimeEnabled: true,
		},
		createdAt:    now,
		lastActivity: now,
		grace:        cfg.EmptyRoomGrace,
		onExpired:    onExpired,
		maxClients:   cfg.MaxClientsPerRoom,
	}
}

// addClient 加入一个 client 会话
//
// 容量仅在加入时检查。加入取消挂起的回收定时器，
// 并向 controller 通告 client_joined。
func (r *Room) addClient(s *Session) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if len(r.clients) >= r.maxClients {
		r.mu.Unlock()
		return ErrRoomFull
	}

	r.clients[s.ID] = s
	r.touchLocked()
	count := len(r.clients)
	controller := r.controller
	r.mu.Unlock()

	s.TrySend(newJoined(r.Code, s.ID, RoleClient, count))
	if controller != nil {
		controller.TrySend(newClientEvent(TypeClientJoined, s.ID, count))
	}
	return nil
}

// setController 设置 controller 会话
//
// 槽位单一赋值但允许覆盖：后到的 controller 替换先前的引用，
// 返回被替换的会话由调用方关闭（策略见测试）。
func (r *Room) setController(s *Session) (*Session, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	prev := r.controller
	r.controller = s
	r.touchLocked()
	count := len(r.clients)
	r.mu.Unlock()

	s.TrySend(newJoined(r.Code, s.ID, RoleController, count))
	return prev, nil
}

// removeMember 移除成员
//
// client 离开向 controller 通告 client_left；移除后房间若无任何
// 参与者，安排宽限期后的回收，期间有新成员加入则取消。
func (r *Room) removeMember(s *Session, role string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	switch role {
	case RoleController:
		if r.controller != s {
			r.mu.Unlock()
			return
		}
		r.controller = nil
	case RoleClient:
		if _, ok := r.clients[s.ID]; !ok {
			r.mu.Unlock()
			return
		}
		delete(r.clients, s.ID)
	default:
		r.mu.Unlock()
		return
	}

	r.touchLocked()
	count := len(r.clients)
	controller := r.controller
	empty := controller == nil && count == 0
	if empty {
		r.scheduleDeleteLocked()
	}
	r.mu.Unlock()

	if role == RoleClient && controller != nil {
		controller.TrySend(newClientEvent(TypeClientLeft, s.ID, count))
	}
}

// relayToController 仅投递给 controller（无 controller 则丢弃）
func (r *Room) relayToController(v any) {
	r.mu.Lock()
	controller := r.controller
	r.mu.Unlock()

	if controller != nil {
		controller.TrySend(v)
	}
}

// relayToClients 投递给全部 client，可排除指定会话
func (r *Room) relayToClients(v any, exclude *Session) {
	r.mu.Lock()
	targets := make([]*Session, 0, len(r.clients))
	for _, c := range r.clients {
		if exclude == nil || c.ID != exclude.ID {
			targets = append(targets, c)
		}
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.TrySend(v)
	}
}

// appendHistory 追加历史记录，超出容量时淘汰最旧一条
func (r *Room) appendHistory(rec store.MetricRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	max := r.settings.MaxHistory
	if len(r.history) >= max {
		// FIFO 淘汰
		drop := len(r.history) - max + 1
		r.history = append(r.history[:0], r.history[drop:]...)
	}
	r.history = append(r.history, rec)
	r.touchLocked()
}

// History 历史快照（最旧在前）
func (r *Room) History() []store.MetricRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]store.MetricRecord, len(r.history))
	copy(out, r.history)
	return out
}

// UpdateSettings 合并设置补丁并返回合并结果
func (r *Room) UpdateSettings(patch *SettingsPatch) Settings {
	r.mu.Lock()
	defer r.mu.Unlock()

	if patch != nil {
		if patch.MaxHistory != nil && *patch.MaxHistory > 0 {
			r.settings.MaxHistory = *patch.MaxHistory
			// 收缩容量时立即淘汰多余的最旧记录
			if len(r.history) > r.settings.MaxHistory {
				drop := len(r.history) - r.settings.MaxHistory
				r.history = append(r.history[:0], r.history[drop:]...)
			}
		}
		if patch.AlertsEnabled != nil {
			r.settings.AlertsEnabled = *patch.AlertsEnabled
		}
		if patch.RealtimeEnabled != nil {
			r.settings.RealtimeEnabled = *patch.RealtimeEnabled
		}
	}
	r.touchLocked()
	return r.settings
}

// CurrentSettings 当前设置
func (r *Room) CurrentSettings() Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// ClientCount 当前 client 数
func (r *Room) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// HasController 是否有 controller 在线
func (r *Room) HasController() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controller != nil
}

// Stats 状态快照
func (r *Room) Stats() RoomStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomStats{
		Code:           r.Code,
		ClientCount:    len(r.clients),
		HasController:  r.controller != nil,
		HistorySize:    len(r.history),
		CreatedAt:      r.createdAt,
		LastActivityAt: r.lastActivity,
	}
}

// closeAll 关闭全部成员会话并标记房间关闭
func (r *Room) closeAll(reason string) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
	sessions := make([]*Session, 0, len(r.clients)+1)
	if r.controller != nil {
		sessions = append(sessions, r.controller)
		r.controller = nil
	}
	for _, c := range r.clients {
		sessions = append(sessions, c)
	}
	r.clients = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.CloseWithReason(reason)
	}
}

// closeIfEmpty 仍为空则在同一临界区内标记关闭
//
// 回收路径专用，与并发加入互斥：加入抢先则放弃回收，
// 关闭抢先则加入方得到 ErrRoomClosed。
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.controller != nil || len(r.clients) > 0 {
		return false
	}
	r.closed = true
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
	return true
}

// idleEmptySince 若房间为空，返回最后活动时间
//
// 覆盖从未有人加入的房间：removeMember 的宽限定时器
// 只在成员离开后生效，清扫器据此兜底回收。
func (r *Room) idleEmptySince() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.controller != nil || len(r.clients) > 0 {
		return time.Time{}, false
	}
	return r.lastActivity, true
}

// touchLocked 刷新活动时间并取消挂起的回收（需持锁）
func (r *Room) touchLocked() {
	r.lastActivity = time.Now()
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
		r.deleteTimer = nil
	}
}

// scheduleDeleteLocked 安排宽限期后的回收（需持锁）
func (r *Room) scheduleDeleteLocked() {
	if r.deleteTimer != nil {
		r.deleteTimer.Stop()
	}
	code := r.Code
	r.deleteTimer = time.AfterFunc(r.grace, func() {
		if r.onExpired != nil {
			r.onExpired(code)
		}
	})
}

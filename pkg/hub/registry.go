package hub

import (
	"crypto/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 房间码字符集，去掉易混淆字符（0/O、1/I）
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Registry 进程内房间注册表
//
// 房间码到房间的唯一映射。房间仅通过这里创建、查找与删除，
// 注册表不对外暴露内部 map。
type Registry struct {
	config *Config
	logger *zap.Logger

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool
}

// NewRegistry 创建注册表
func NewRegistry(cfg *Config, logger *zap.Logger) *Registry {
	return &Registry{
		config: cfg,
		logger: logger,
		rooms:  make(map[string]*Room),
	}
}

// CreateRoom 生成唯一房间码并注册空房间
func (reg *Registry) CreateRoom() (*Room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.closed {
		return nil, ErrRegistryClosed
	}

	// 碰撞重试；码空间远大于存活房间数，重试耗尽视为异常
	for i := 0; i < 16; i++ {
		code, err := generateRoomCode(reg.config.RoomCodeLength)
		if err != nil {
			return nil, err
		}
		if _, exists := reg.rooms[code]; exists {
			continue
		}
		room := newRoom(code, reg.config, func(code string) {
			reg.reapIfEmpty(code)
		})
		reg.rooms[code] = room
		reg.logger.Info("room created", zap.String("room_code", code))
		return room, nil
	}
	return nil, ErrCodeGeneration
}

// GetRoom 查找房间
func (reg *Registry) GetRoom(code string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[code]
	return room, ok
}

// DeleteRoom 删除房间，关闭全部成员会话
func (reg *Registry) DeleteRoom(code, reason string) error {
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if ok {
		delete(reg.rooms, code)
	}
	reg.mu.Unlock()

	if !ok {
		return ErrRoomNotFound
	}

	room.closeAll(reason)
	reg.logger.Info("room deleted",
		zap.String("room_code", code),
		zap.String("reason", reason))
	return nil
}

// ListRooms 房间状态快照，按创建时间排序
func (reg *Registry) ListRooms() []RoomStats {
	reg.mu.RLock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.mu.RUnlock()

	stats := make([]RoomStats, 0, len(rooms))
	for _, room := range rooms {
		stats = append(stats, room.Stats())
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].CreatedAt.Before(stats[j].CreatedAt)
	})
	return stats
}

// RoomCount 存活房间数
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Shutdown 关闭注册表并关停全部房间
func (reg *Registry) Shutdown() {
	reg.mu.Lock()
	reg.closed = true
	rooms := make([]*Room, 0, len(reg.rooms))
	for _, room := range reg.rooms {
		rooms = append(rooms, room)
	}
	reg.rooms = make(map[string]*Room)
	reg.mu.Unlock()

	for _, room := range rooms {
		room.closeAll("server shutting down")
	}
}

// reapIfEmpty 宽限期到期的回收回调
//
// 空置校验与关闭标记在房间锁的同一临界区内完成，
// 晚到的加入会拿到 ErrRoomClosed 而不是滞留在已注销的房间里。
func (reg *Registry) reapIfEmpty(code string) bool {
	reg.mu.Lock()
	room, ok := reg.rooms[code]
	if !ok {
		reg.mu.Unlock()
		return false
	}
	if !room.closeIfEmpty() {
		reg.mu.Unlock()
		return false
	}
	delete(reg.rooms, code)
	reg.mu.Unlock()

	reg.logger.Info("empty room reclaimed", zap.String("room_code", code))
	return true
}

// ReapIdleRooms 回收空置超过 idle 时长的房间，返回回收数量
//
// 宽限定时器只覆盖成员离开后的空房，此方法兜底清理
// 创建后从未有人加入的房间。
func (reg *Registry) ReapIdleRooms(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	reg.mu.RLock()
	candidates := make([]string, 0)
	for code, room := range reg.rooms {
		if since, empty := room.idleEmptySince(); empty && since.Before(cutoff) {
			candidates = append(candidates, code)
		}
	}
	reg.mu.RUnlock()

	reaped := 0
	for _, code := range candidates {
		if reg.reapIfEmpty(code) {
			reaped++
		}
	}
	return reaped
}

// generateRoomCode 从加密随机源生成房间码
func generateRoomCode(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

package hub

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 中继配置
type Config struct {
	// 认证配置
	AuthTimeout time.Duration // 认证握手超时

	// 心跳配置
	HeartbeatInterval time.Duration // 心跳间隔
	HeartbeatTimeout  time.Duration // 心跳超时（pong 等待窗口）

	// 房间配置
	MaxClientsPerRoom int           // 单房间最大 client 数
	MaxHistory        int           // 房间遥测历史缓冲容量
	EmptyRoomGrace    time.Duration // 空房间回收宽限期
	RoomCodeLength    int           // 房间码长度

	// 连接配置
	SendQueueSize  int           // 发送队列大小
	WriteWait      time.Duration // 单次写超时
	MaxMessageSize int64         // 最大消息大小

	// Upgrader 配置
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(*http.Request) bool
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		AuthTimeout:       30 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  90 * time.Second,
		MaxClientsPerRoom: 50,
		MaxHistory:        100,
		EmptyRoomGrace:    60 * time.Second,
		RoomCodeLength:    6,
		SendQueueSize:     256,
		WriteWait:         10 * time.Second,
		MaxMessageSize:    512 * 1024, // 512KB
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.AuthTimeout <= 0 {
		return fmt.Errorf("AuthTimeout must be positive, got %v", c.AuthTimeout)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.MaxClientsPerRoom <= 0 {
		return fmt.Errorf("MaxClientsPerRoom must be positive, got %d", c.MaxClientsPerRoom)
	}
	if c.MaxHistory <= 0 {
		return fmt.Errorf("MaxHistory must be positive, got %d", c.MaxHistory)
	}
	if c.EmptyRoomGrace <= 0 {
		return fmt.Errorf("EmptyRoomGrace must be positive, got %v", c.EmptyRoomGrace)
	}
	if c.RoomCodeLength < 4 {
		return fmt.Errorf("RoomCodeLength must be at least 4, got %d", c.RoomCodeLength)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SendQueueSize must be positive, got %d", c.SendQueueSize)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("MaxMessageSize must be positive, got %d", c.MaxMessageSize)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithAuthTimeout 设置认证超时
func WithAuthTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.AuthTimeout = d
	}
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithMaxClientsPerRoom 设置单房间最大 client 数
func WithMaxClientsPerRoom(n int) Option {
	return func(c *Config) {
		c.MaxClientsPerRoom = n
	}
}

// WithMaxHistory 设置遥测历史缓冲容量
func WithMaxHistory(n int) Option {
	return func(c *Config) {
		c.MaxHistory = n
	}
}

// WithEmptyRoomGrace 设置空房间回收宽限期
func WithEmptyRoomGrace(d time.Duration) Option {
	return func(c *Config) {
		c.EmptyRoomGrace = d
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = fn
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.CheckOrigin = func(r *http.Request) bool {
			return true
		}
	}
}

// newUpgrader 根据配置创建升级器
func (c *Config) newUpgrader() *websocket.Upgrader {
	checkOrigin := c.CheckOrigin
	if checkOrigin == nil {
		// 默认同源检查；无 Origin 头的非浏览器客户端放行
		checkOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return origin == "http://"+r.Host || origin == "https://"+r.Host
		}
	}
	return &websocket.Upgrader{
		ReadBufferSize:  c.ReadBufferSize,
		WriteBufferSize: c.WriteBufferSize,
		CheckOrigin:     checkOrigin,
	}
}

package hub

import (
	"encoding/json"
	"time"
)

// 消息类型
const (
	// 入站消息
	TypeHello        = "hello"
	TypeMetrics      = "metrics"
	TypeRoomSettings = "room_settings"
	TypeRelay        = "relay"
	TypePing         = "ping"

	// 出站消息
	TypeJoined       = "joined"
	TypeClientJoined = "client_joined"
	TypeClientLeft   = "client_left"
	TypeAlerts       = "alerts"
	TypeError        = "error"
	TypePong         = "pong"
)

// 角色
const (
	RoleController = "controller"
	RoleClient     = "client"
)

// Message 入站消息信封
type Message struct {
	// Type 消息类型
	Type string `json:"type"`

	// Role 角色（仅 hello）
	Role string `json:"role,omitempty"`

	// Code 房间码（仅 hello）
	Code string `json:"code,omitempty"`

	// Payload 遥测负载（metrics / relay）
	Payload json.RawMessage `json:"payload,omitempty"`

	// Settings 房间设置补丁（room_settings）
	Settings *SettingsPatch `json:"settings,omitempty"`
}

// Settings 房间设置
type Settings struct {
	MaxHistory      int  `json:"max_history"`
	AlertsEnabled   bool `json:"alerts_enabled"`
	RealtimeEnabled bool `json:"realtime_enabled"`
}

// SettingsPatch 房间设置补丁（只合并非空字段）
type SettingsPatch struct {
	MaxHistory      *int  `json:"max_history,omitempty"`
	AlertsEnabled   *bool `json:"alerts_enabled,omitempty"`
	RealtimeEnabled *bool `json:"realtime_enabled,omitempty"`
}

// Alert 告警（瞬态，不持久化）
type Alert struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// joinedMessage 入房确认
type joinedMessage struct {
	Type        string `json:"type"`
	RoomCode    string `json:"room_code"`
	ClientID    string `json:"client_id"`
	Role        string `json:"role"`
	ClientCount int    `json:"client_count"`
}

// clientEventMessage 成员变动通知（仅发给 controller）
type clientEventMessage struct {
	Type        string `json:"type"`
	ClientID    string `json:"client_id"`
	ClientCount int    `json:"client_count"`
}

// metricsMessage 遥测转发（仅发给 controller）
type metricsMessage struct {
	Type      string          `json:"type"`
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// alertsMessage 告警批量通知（仅发给 controller）
type alertsMessage struct {
	Type   string  `json:"type"`
	Alerts []Alert `json:"alerts"`
}

// settingsMessage 设置回显
type settingsMessage struct {
	Type     string   `json:"type"`
	Settings Settings `json:"settings"`
}

// relayMessage 控制端广播
type relayMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// errorMessage 错误响应
type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// pongMessage 心跳响应
type pongMessage struct {
	Type string `json:"type"`
}

func newJoined(code, clientID, role string, clientCount int) joinedMessage {
	return joinedMessage{Type: TypeJoined, RoomCode: code, ClientID: clientID, Role: role, ClientCount: clientCount}
}

func newClientEvent(typ, clientID string, clientCount int) clientEventMessage {
	return clientEventMessage{Type: typ, ClientID: clientID, ClientCount: clientCount}
}

func newMetricsOut(from string, payload json.RawMessage, at time.Time) metricsMessage {
	return metricsMessage{Type: TypeMetrics, From: from, Payload: payload, Timestamp: at.UnixMilli()}
}

func newAlerts(alerts []Alert) alertsMessage {
	return alertsMessage{Type: TypeAlerts, Alerts: alerts}
}

func newError(msg string) errorMessage {
	return errorMessage{Type: TypeError, Message: msg}
}

// marshalMessage 序列化出站消息；失败时返回 nil（调用方丢弃）
func marshalMessage(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

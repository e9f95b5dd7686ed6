package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/store"
)

// LowEntropyThreshold 熵值低于该阈值触发 low_entropy 告警
const LowEntropyThreshold = 20

// persistTimeout 单条记录持久化的超时上限
const persistTimeout = 10 * time.Second

// Recorder 遥测记录的持久化能力
type Recorder interface {
	SaveRecord(ctx context.Context, rec *store.MetricRecord) error
}

// ingest 处理一条 client 遥测
//
// 各步骤尽力而为且互不依赖：历史追加、异步持久化、
// 转发 controller、告警评估。持久化失败只记日志，
// 不阻塞也不影响转发路径。
func (h *Hub) ingest(room *Room, s *Session, payload json.RawMessage) {
	at := time.Now()

	rec := store.MetricRecord{
		ClientID:   s.ID,
		RoomCode:   room.Code,
		Timestamp:  at,
		Payload:    payload,
		SourceAddr: s.RemoteAddr(),
	}

	room.appendHistory(rec)

	// 持久化与转发是同一事件派生的两个独立任务，
	// 存储慢或失败不得拖延 controller 通知
	if h.recorder != nil {
		persisted := rec
		go func() {
			// 在途写入不随引擎关闭取消，自带超时独立完成或失败
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := h.recorder.SaveRecord(ctx, &persisted); err != nil {
				h.logger.Error("failed to persist metric record",
					zap.String("room_code", room.Code),
					zap.String("client_id", s.ID),
					zap.Error(err))
			}
		}()
	}

	settings := room.CurrentSettings()

	if settings.RealtimeEnabled {
		room.relayToController(newMetricsOut(s.ID, payload, at))
	}

	if settings.AlertsEnabled {
		if alerts := EvaluateAlerts(payload); len(alerts) > 0 {
			room.relayToController(newAlerts(alerts))
		}
	}
}

// EvaluateAlerts 对遥测负载评估告警规则
//
// 纯函数，同步执行。字段缺失或类型不符按规则未触发处理，
// 绝不因负载畸形使摄入路径失败。
func EvaluateAlerts(payload json.RawMessage) []Alert {
	var fields struct {
		Entropy  *float64 `json:"entropy"`
		Breached *bool    `json:"breached"`
	}
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}

	var alerts []Alert
	if fields.Entropy != nil && *fields.Entropy < LowEntropyThreshold {
		alerts = append(alerts, Alert{
			Type:     "low_entropy",
			Severity: "warning",
			Message:  fmt.Sprintf("password entropy %.1f below threshold %d", *fields.Entropy, LowEntropyThreshold),
		})
	}
	if fields.Breached != nil && *fields.Breached {
		alerts = append(alerts, Alert{
			Type:     "breached_password",
			Severity: "critical",
			Message:  "password found in breach corpus",
		})
	}
	return alerts
}

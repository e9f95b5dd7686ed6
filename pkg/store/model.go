package store

import (
	"encoding/json"
	"time"
)

// MetricRecord 持久化的遥测记录
//
// 每条记录归属于唯一的房间与 client，创建后不再修改，
// 仅由保留期清扫或房间删除移除。
type MetricRecord struct {
	ID         uint            `gorm:"primaryKey" json:"id"`
	ClientID   string          `gorm:"size:64;index" json:"client_id"`
	RoomCode   string          `gorm:"size:16;index" json:"room_code"`
	Timestamp  time.Time       `gorm:"index" json:"timestamp"`
	Payload    json.RawMessage `gorm:"type:text" json:"payload"`
	SourceAddr string          `gorm:"size:64" json:"source_addr"`
}

// TableName 表名
func (MetricRecord) TableName() string {
	return "metric_records"
}

package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store 遥测记录存储
type Store struct {
	db *gorm.DB
}

// New 创建存储并迁移表结构
func New(cfg *Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db)
}

// NewWithDB 基于已有连接创建存储（测试用）
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&MetricRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRecord 保存一条遥测记录
func (s *Store) SaveRecord(ctx context.Context, rec *MetricRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to save metric record: %w", err)
	}
	return nil
}

// ListByRoom 按房间分页查询，时间倒序（最新在前）
func (s *Store) ListByRoom(ctx context.Context, roomCode string, limit, offset int) ([]MetricRecord, int64, error) {
	var total int64
	q := s.db.WithContext(ctx).Model(&MetricRecord{}).Where("room_code = ?", roomCode)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count metric records: %w", err)
	}

	var records []MetricRecord
	err := q.Order("timestamp DESC").Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list metric records: %w", err)
	}
	return records, total, nil
}

// CountByRoom 统计房间的持久化记录数
func (s *Store) CountByRoom(ctx context.Context, roomCode string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Model(&MetricRecord{}).Where("room_code = ?", roomCode).Count(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count metric records: %w", err)
	}
	return total, nil
}

// DeleteByRoom 删除房间的全部记录
func (s *Store) DeleteByRoom(ctx context.Context, roomCode string) error {
	err := s.db.WithContext(ctx).Where("room_code = ?", roomCode).Delete(&MetricRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete metric records: %w", err)
	}
	return nil
}

// DeleteOlderThan 批量删除早于 cutoff 的记录，返回删除条数
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&MetricRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete expired records: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Deleter 过期记录的批量删除能力
type Deleter interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reaper 空置房间的回收能力
type Reaper interface {
	ReapIdleRooms(idle time.Duration) int
}

// Sweeper 保留期清扫器
//
// 按固定周期批量删除早于保留窗口的持久化记录，
// 并兜底回收空置超过宽限期的房间。
// 单次失败只记日志，下个周期重试，永不中断宿主进程。
type Sweeper struct {
	store     Deleter
	reaper    Reaper
	interval  time.Duration
	retention time.Duration
	roomIdle  time.Duration
	logger    *zap.Logger
	cron      *cron.Cron
}

// New 创建清扫器；reaper 可为 nil
func New(store Deleter, reaper Reaper, interval, retention, roomIdle time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		reaper:    reaper,
		interval:  interval,
		retention: retention,
		roomIdle:  roomIdle,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start 启动周期清扫
func (s *Sweeper) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("retention", s.retention))
	return nil
}

// Stop 停止调度并等待执行中的清扫完成
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep 执行一次清扫
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.reaper != nil {
		if reaped := s.reaper.ReapIdleRooms(s.roomIdle); reaped > 0 {
			s.logger.Info("idle rooms reclaimed", zap.Int("count", reaped))
		}
	}

	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("retention sweep completed",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
	}
}

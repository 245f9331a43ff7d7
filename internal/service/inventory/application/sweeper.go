// internal/service/inventory/application/sweeper.go
package application

import (
	"context"
	"time"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
)

// Sweeper 周期性回收过期预占单的后台任务
type Sweeper struct {
	svc      *ReservationService
	interval time.Duration
}

func NewSweeper(svc *ReservationService, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Start 启动定时轮询，阻塞直到 ctx 被取消。
// 单轮失败只记日志，下一个 tick 继续。
func (s *Sweeper) Start(ctx context.Context) {
	logger.Ctx(ctx).Info().Dur("interval", s.interval).Msg("reservation sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.svc.SweepExpired(ctx, time.Now()); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("sweep pass failed, will retry on next tick")
			}
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("reservation sweeper stopped")
			return
		}
	}
}

// internal/service/inventory/domain/repository.go
package domain

import (
	"context"
	"time"
)

// ReservationRepository 是预占单的持久化端口
type ReservationRepository interface {
	// Save 新增或按 ID 覆盖保存
	Save(ctx context.Context, r *Reservation) error
	// FindByID 找不到时返回 ErrReservationNotFound
	FindByID(ctx context.Context, id string) (*Reservation, error)
	// FindExpired 返回 ExpireAt 早于 now 的 PENDING 预占单，最多 limit 条
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}

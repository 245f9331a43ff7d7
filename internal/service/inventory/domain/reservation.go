// internal/service/inventory/domain/reservation.go
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status 定义了预占单的生命周期状态
type Status string

const (
	StatusPending   Status = "PENDING"   // 已扣减库存，等待确认或取消
	StatusConfirmed Status = "CONFIRMED" // 已履约，库存扣减落定
	StatusCancelled Status = "CANCELLED" // 主动取消，库存已归还
	StatusExpired   Status = "EXPIRED"   // 超时被后台回收，库存已归还
)

// Reservation 是库存预占聚合的根实体。
// PENDING 是唯一的非终态；CONFIRMED / CANCELLED / EXPIRED 之后不再流转。
type Reservation struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int64
	Status    Status
	ExpireAt  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// 工厂函数: NewReservation 创建一个 PENDING 状态的预占单
func NewReservation(userID, productID string, quantity int64, ttl time.Duration) (*Reservation, error) {
	if userID == "" || productID == "" {
		return nil, errors.New("cannot create reservation with empty user or product")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %d", quantity)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive, got %v", ttl)
	}

	now := time.Now()
	return &Reservation{
		ID:        uuid.New().String(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		Status:    StatusPending,
		ExpireAt:  now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Confirm 履约确认。只有 PENDING 可以确认；确认不再触碰库存，
// 因为预占时已经扣减过了。
func (r *Reservation) Confirm() error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: confirm on %s reservation %s", ErrInvalidState, r.Status, r.ID)
	}
	r.Status = StatusConfirmed
	r.UpdatedAt = time.Now()
	return nil
}

// Cancel 主动取消。调用方负责在同一把商品锁下归还库存。
func (r *Reservation) Cancel() error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: cancel on %s reservation %s", ErrInvalidState, r.Status, r.ID)
	}
	r.Status = StatusCancelled
	r.UpdatedAt = time.Now()
	return nil
}

// Expire 由后台回收任务调用。
func (r *Reservation) Expire() error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: expire on %s reservation %s", ErrInvalidState, r.Status, r.ID)
	}
	r.Status = StatusExpired
	r.UpdatedAt = time.Now()
	return nil
}

// IsExpired 判断预占单在 now 这一时刻是否已超时且仍未处理
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == StatusPending && r.ExpireAt.Before(now)
}

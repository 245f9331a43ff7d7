// internal/service/inventory/domain/port/policy.go
package port

import "context"

// ReserveFact 是规则引擎评估一次预占请求时可见的事实
type ReserveFact struct {
	UserID    string
	ProductID string
	Quantity  int64
}

// ReservePolicy 在触碰锁和账本之前对预占请求做规则校验
type ReservePolicy interface {
	Allow(ctx context.Context, fact ReserveFact) (bool, error)
}

// internal/service/inventory/domain/port/ledger.go
package port

import "context"

// StockLedger 持有每个商品的权威可用数量。
// 账本本身不做并发协调：TryReserve 必须在持有对应商品锁的前提下调用，
// 串行化完全由预占服务的锁来保证。
type StockLedger interface {
	// GetQuantity 返回当前可用数量，未登记的商品视为 0
	GetQuantity(ctx context.Context, productID string) (int64, error)
	// TryReserve 数量足够时扣减并返回 true；不够时不做任何修改返回 false
	TryReserve(ctx context.Context, productID string, quantity int64) (bool, error)
	// Release 归还数量；从 0 变为正数时触发到货通知（fire-and-forget）
	Release(ctx context.Context, productID string, quantity int64) error
	// Provision 直接设置商品的可用数量，用于补货和初始化
	Provision(ctx context.Context, productID string, quantity int64) error
}

// internal/service/inventory/domain/port/notifier.go
package port

import "context"

// RestockNotifier 在商品从售罄恢复为有货时被账本触发。
// 通知是尽力而为的：失败由账本记录日志，不影响库存操作本身。
type RestockNotifier interface {
	NotifyRestock(ctx context.Context, productID string, quantity int64) error
}

// internal/service/inventory/infrastructure/adapter/ledger_memory_adapter.go
package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
)

// LedgerMemoryAdapter 是 port.StockLedger 的进程内实现，
// 语义与 Redis 版一致，用于单元测试和本地运行。
type LedgerMemoryAdapter struct {
	mu       sync.Mutex
	stock    map[string]int64
	notifier port.RestockNotifier
}

func NewLedgerMemoryAdapter(notifier port.RestockNotifier) *LedgerMemoryAdapter {
	return &LedgerMemoryAdapter{stock: make(map[string]int64), notifier: notifier}
}

func (a *LedgerMemoryAdapter) GetQuantity(ctx context.Context, productID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stock[productID], nil
}

func (a *LedgerMemoryAdapter) TryReserve(ctx context.Context, productID string, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stock[productID] < quantity {
		return false, nil
	}
	a.stock[productID] -= quantity
	if a.stock[productID] < 0 {
		// 数量为负只可能是调用方绕过了商品锁，属于编程错误
		panic(fmt.Sprintf("stock ledger went negative for product %s", productID))
	}
	return true, nil
}

func (a *LedgerMemoryAdapter) Release(ctx context.Context, productID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("release quantity must be positive, got %d", quantity)
	}
	a.mu.Lock()
	wasZero := a.stock[productID] == 0
	a.stock[productID] += quantity
	newQty := a.stock[productID]
	a.mu.Unlock()

	if a.notifier != nil && wasZero && newQty > 0 {
		if err := a.notifier.NotifyRestock(ctx, productID, newQty); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", productID).Msg("restock notification failed")
		}
	}
	return nil
}

func (a *LedgerMemoryAdapter) Provision(ctx context.Context, productID string, quantity int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stock[productID] = quantity
	return nil
}

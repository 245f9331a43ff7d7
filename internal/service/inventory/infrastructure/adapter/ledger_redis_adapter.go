// internal/service/inventory/infrastructure/adapter/ledger_redis_adapter.go
package adapter

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hunanlzp/shopx-sub001/internal/pkg/logger"
	"github.com/hunanlzp/shopx-sub001/internal/pkg/redis"
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain/port"
)

// LedgerRedisAdapter 是 port.StockLedger 的 Redis 实现。
// 账本刻意保持"笨"：只做普通的读改写，不带任何原子校验，
// 并发协调完全交给上层的商品锁。调用方不持锁直接调用 TryReserve
// 属于编程错误。
type LedgerRedisAdapter struct {
	redisClient *redis.Client
	notifier    port.RestockNotifier // 可为空
}

// NewLedgerRedisAdapter 创建账本适配器；notifier 传 nil 则关闭到货通知
func NewLedgerRedisAdapter(redisClient *redis.Client, notifier port.RestockNotifier) *LedgerRedisAdapter {
	return &LedgerRedisAdapter{redisClient: redisClient, notifier: notifier}
}

func stockKey(productID string) string {
	return fmt.Sprintf("stock:{%s}", productID)
}

// GetQuantity 未登记的商品视为 0
func (a *LedgerRedisAdapter) GetQuantity(ctx context.Context, productID string) (int64, error) {
	qty, err := a.redisClient.GetClient().Get(ctx, stockKey(productID)).Int64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis ledger get %s: %w", productID, err)
	}
	return qty, nil
}

// TryReserve 读-判断-扣减，必须在商品锁内调用
func (a *LedgerRedisAdapter) TryReserve(ctx context.Context, productID string, quantity int64) (bool, error) {
	if quantity <= 0 {
		return false, fmt.Errorf("reserve quantity must be positive, got %d", quantity)
	}
	current, err := a.GetQuantity(ctx, productID)
	if err != nil {
		return false, err
	}
	if current < quantity {
		return false, nil
	}
	if err := a.redisClient.GetClient().DecrBy(ctx, stockKey(productID), quantity).Err(); err != nil {
		return false, fmt.Errorf("redis ledger decr %s: %w", productID, err)
	}
	return true, nil
}

// Release 归还数量；从 0 恢复为正数时触发到货通知
func (a *LedgerRedisAdapter) Release(ctx context.Context, productID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("release quantity must be positive, got %d", quantity)
	}
	newQty, err := a.redisClient.GetClient().IncrBy(ctx, stockKey(productID), quantity).Result()
	if err != nil {
		return fmt.Errorf("redis ledger incr %s: %w", productID, err)
	}

	// 归还前为 0 说明商品刚刚从售罄恢复
	if a.notifier != nil && newQty-quantity == 0 && newQty > 0 {
		if err := a.notifier.NotifyRestock(ctx, productID, newQty); err != nil {
			// 通知尽力而为，失败不影响库存操作
			logger.Ctx(ctx).Warn().Err(err).Str("product_id", productID).Msg("restock notification failed")
		}
	}
	return nil
}

// Provision 直接设置可用数量
func (a *LedgerRedisAdapter) Provision(ctx context.Context, productID string, quantity int64) error {
	if err := a.redisClient.GetClient().Set(ctx, stockKey(productID), quantity, 0).Err(); err != nil {
		return fmt.Errorf("redis ledger set %s: %w", productID, err)
	}
	return nil
}

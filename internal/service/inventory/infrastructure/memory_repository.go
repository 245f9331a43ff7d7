// internal/service/inventory/infrastructure/memory_repository.go
package infrastructure

import (
	"context"
	"sync"
	"time"

	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
)

// MemoryReservationRepository 是 ReservationRepository 的进程内实现，
// 用于单元测试和本地运行（MYSQL_DSN 为空时）。存取都做深拷贝，
// 避免调用方持有的实体和仓储内部状态互相污染。
type MemoryReservationRepository struct {
	mu    sync.RWMutex
	items map[string]domain.Reservation
}

func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{items: make(map[string]domain.Reservation)}
}

func (r *MemoryReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[reservation.ID] = *reservation
	return nil
}

func (r *MemoryReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	copied := item
	return &copied, nil
}

func (r *MemoryReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*domain.Reservation
	for _, item := range r.items {
		if item.IsExpired(now) {
			copied := item
			result = append(result, &copied)
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// internal/service/inventory/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
)

// GormReservationRepository 是 ReservationRepository 的 GORM 实现
type GormReservationRepository struct {
	db *gorm.DB
}

// NewGormReservationRepository 创建一个新的 GORM 仓储实例
func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

// Save 按主键保存，存在则整行更新
func (r *GormReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	return r.db.WithContext(ctx).Save(ToModel(reservation)).Error
}

// FindByID 按 ID 查找预占单
func (r *GormReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, err
	}
	return ToDomainReservation(&model), nil
}

// FindExpired 返回到期且仍为 PENDING 的预占单，走 idx_status_expire 索引
func (r *GormReservationRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expire_at < ?", string(domain.StatusPending), now).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservations = append(reservations, ToDomainReservation(&models[i]))
	}
	return reservations, nil
}

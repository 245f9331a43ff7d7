// internal/service/inventory/infrastructure/mapper.go
package infrastructure

import (
	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
)

// ToModel 把领域实体转换为数据库模型
func ToModel(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        r.ID,
		UserID:    r.UserID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		Status:    string(r.Status),
		ExpireAt:  r.ExpireAt,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ToDomainReservation 把数据库模型转换回领域实体
func ToDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:        m.ID,
		UserID:    m.UserID,
		ProductID: m.ProductID,
		Quantity:  m.Quantity,
		Status:    domain.Status(m.Status),
		ExpireAt:  m.ExpireAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// internal/service/inventory/application/dto.go
package application

import (
	"time"

	"github.com/hunanlzp/shopx-sub001/internal/service/inventory/domain"
)

// ReserveRequest 是接口层传入的预占请求
type ReserveRequest struct {
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	// TTL 为空时使用服务配置的默认值，格式如 "15m"
	TTL string `json:"ttl,omitempty"`
}

// ReservationResponse 是预占单的对外视图
type ReservationResponse struct {
	ReservationID string        `json:"reservationId"`
	UserID        string        `json:"userId"`
	ProductID     string        `json:"productId"`
	Quantity      int64         `json:"quantity"`
	Status        domain.Status `json:"status"`
	ExpireAt      time.Time     `json:"expireAt"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// ToResponse 把领域实体转换为对外 DTO
func ToResponse(r *domain.Reservation) *ReservationResponse {
	return &ReservationResponse{
		ReservationID: r.ID,
		UserID:        r.UserID,
		ProductID:     r.ProductID,
		Quantity:      r.Quantity,
		Status:        r.Status,
		ExpireAt:      r.ExpireAt,
		CreatedAt:     r.CreatedAt,
	}
}

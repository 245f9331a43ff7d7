// internal/service/inventory/infrastructure/gorm_model.go
package infrastructure

import (
	"time"
)

// ReservationModel 对应数据库中的 stock_reservation 表
type ReservationModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"size:64;index"`
	ProductID string `gorm:"size:64;index"`
	Quantity  int64
	Status    string    `gorm:"size:16;index:idx_status_expire"`
	ExpireAt  time.Time `gorm:"index:idx_status_expire"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ReservationModel) TableName() string {
	return "stock_reservation"
}

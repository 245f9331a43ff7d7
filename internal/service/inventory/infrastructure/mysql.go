// internal/service/inventory/infrastructure/mysql.go
package infrastructure

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewMysqlDB 打开 MySQL 连接并迁移预占单表
func NewMysqlDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql: %w", err)
	}
	if err := db.AutoMigrate(&ReservationModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate reservation table: %w", err)
	}
	return db, nil
}

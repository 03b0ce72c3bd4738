package mysql

import (
	"sync"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/datamodels/chat"
	"github.com/example/localhunt/internal/datamodels/product"
	"github.com/example/localhunt/internal/datamodels/user"
	"github.com/example/localhunt/internal/datamodels/vendor"
)

var (
	db   *gorm.DB
	once sync.Once
)

// Init 初始化全局 GORM 实例并自动迁移表结构
func Init(cfg *config.MySQLConfig) *gorm.DB {
	once.Do(func() {
		var err error
		db, err = gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
		if err != nil {
			zap.L().Fatal("failed to connect mysql", zap.Error(err))
		}

		if err = Migrate(db); err != nil {
			zap.L().Fatal("auto migrate failed", zap.Error(err))
		}
	})
	return db
}

// Migrate 迁移聊天模块用到的表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&user.User{}, &vendor.Vendor{}, &product.Product{}, &chat.Message{})
}

// DB 获取全局 DB
func DB() *gorm.DB {
	return db
}

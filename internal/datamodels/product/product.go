package product

import (
	"context"
	"time"
)

// Product 商品模型，聊天中作为会话的上下文商品
type Product struct {
	ID          int64  `gorm:"primaryKey"`
	VendorID    int64  `gorm:"index"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"size:512"`
	Price       int64  `gorm:"not null"` // 分
	Category    string `gorm:"size:32;index"`
	Status      int    `gorm:"index"` // 0:下线 1:正常
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Repository 商品仓储接口
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
	Create(ctx context.Context, p *Product) error
}

// Item 目录中商品的展示信息
type Item struct {
	ID          int64
	DisplayName string
}

// Catalog 商品目录：把上下文商品 ID 解析为展示名，不存在时返回 gorm.ErrRecordNotFound
type Catalog interface {
	Resolve(ctx context.Context, id int64) (*Item, error)
}

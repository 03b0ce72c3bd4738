package user

import (
	"context"
	"time"
)

// User 买家（会话中的 REQUESTER 一方）
type User struct {
	ID          int64  `gorm:"primaryKey"`
	Username    string `gorm:"uniqueIndex;size:64;not null"`
	DisplayName string `gorm:"size:64"`
	Avatar      string `gorm:"size:255"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Name 展示名，未设置时退回用户名
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Repository 用户仓储接口
type Repository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, u *User) error
}

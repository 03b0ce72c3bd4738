package party

import (
	"context"

	"github.com/example/localhunt/internal/datamodels/chat"
)

// Profile 会话方的展示信息
type Profile struct {
	Party       chat.Party
	DisplayName string
	Avatar      string
}

// Directory 会话方目录：买家查 users，商家查 vendors。不存在时返回 gorm.ErrRecordNotFound
type Directory interface {
	Resolve(ctx context.Context, p chat.Party) (*Profile, error)
}

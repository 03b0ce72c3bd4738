package mysql

import (
	"time"

	"gorm.io/gorm"

	"github.com/example/localhunt/internal/datamodels/chat"
)

// NewChatRepositoryWithClock 测试用：注入时钟
func NewChatRepositoryWithClock(db *gorm.DB, now func() time.Time) chat.Repository {
	return newChatRepo(db, now)
}

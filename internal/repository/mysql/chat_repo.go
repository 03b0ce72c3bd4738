package mysql

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/example/localhunt/internal/datamodels/chat"
)

type chatRepo struct {
	db *gorm.DB

	// mu 串行化本实例内的 “打时间戳 + 插入”。多实例时 created_at 只用于展示，
	// 排序一律以数据库分配的自增 id 为准
	mu       sync.Mutex
	lastSeen time.Time
	now      func() time.Time
}

// NewChatRepository 创建聊天消息仓储
func NewChatRepository(db *gorm.DB) chat.Repository {
	return newChatRepo(db, time.Now)
}

func newChatRepo(db *gorm.DB, now func() time.Time) *chatRepo {
	return &chatRepo{db: db, now: now}
}

func (r *chatRepo) Create(ctx context.Context, m *chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now()
	if ts.Before(r.lastSeen) {
		// 时钟回拨时沿用上一次的时间戳
		ts = r.lastSeen
	}
	m.CreatedAt = ts
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	r.lastSeen = ts
	return nil
}

func (r *chatRepo) GetByID(ctx context.Context, id uint64) (*chat.Message, error) {
	var m chat.Message
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// pair 会话范围查询
func (r *chatRepo) pair(ctx context.Context, key chat.ConversationKey) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("requester_id = ? AND counterparty_id = ?", key.RequesterID, key.CounterpartyID)
}

func (r *chatRepo) ListByPair(ctx context.Context, key chat.ConversationKey, viewer chat.Side, beforeID uint64, limit int) ([]*chat.Message, error) {
	var list []*chat.Message
	q := r.pair(ctx, key).Where(viewer.DeletedColumn()+" = ?", false)

	if beforeID > 0 && limit > 0 {
		// 从游标向前取最近 limit 条，再翻转为正序
		if err := q.Where("id < ?", beforeID).
			Order("id DESC").
			Limit(limit).
			Find(&list).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
		return list, nil
	}

	if err := q.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *chatRepo) MarkRead(ctx context.Context, key chat.ConversationKey, side chat.Side) (int64, error) {
	res := r.pair(ctx, key).
		Where(side.ReadColumn()+" = ?", false).
		UpdateColumn(side.ReadColumn(), true)
	return res.RowsAffected, res.Error
}

// SoftDelete 只置位一侧的删除标记。MySQL 对未变化的行返回 0 行受影响，
// 所以这里不用 RowsAffected 判断是否存在，由调用方先查询
func (r *chatRepo) SoftDelete(ctx context.Context, id uint64, side chat.Side) error {
	return r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where("id = ?", id).
		UpdateColumn(side.DeletedColumn(), true).Error
}

func (r *chatRepo) ListPeers(ctx context.Context, p chat.Party) ([]int64, error) {
	peerCol := p.Side.Other().PartyColumn()
	var ids []int64
	if err := r.db.WithContext(ctx).
		Model(&chat.Message{}).
		Where(p.Side.PartyColumn()+" = ?", p.ID).
		Where(p.Side.DeletedColumn()+" = ?", false).
		Group(peerCol).
		Order("MIN(id) ASC").
		Pluck(peerCol, &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *chatRepo) LastVisible(ctx context.Context, key chat.ConversationKey, viewer chat.Side) (*chat.Message, error) {
	var list []*chat.Message
	if err := r.pair(ctx, key).
		Where(viewer.DeletedColumn()+" = ?", false).
		Order("id DESC").
		Limit(1).
		Find(&list).Error; err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func (r *chatRepo) CountUnread(ctx context.Context, key chat.ConversationKey, viewer chat.Side) (int64, error) {
	var n int64
	err := r.pair(ctx, key).
		Where("sender_side = ?", viewer.Other()).
		Where(viewer.ReadColumn()+" = ?", false).
		Where(viewer.DeletedColumn()+" = ?", false).
		Count(&n).Error
	return n, err
}

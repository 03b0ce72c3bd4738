package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MaxTextLength 单条消息正文最大长度（字符）
const MaxTextLength = 2000

// Side 会话中的一方：买家（REQUESTER）或商家（COUNTERPARTY）
type Side string

const (
	SideRequester    Side = "REQUESTER"
	SideCounterparty Side = "COUNTERPARTY"
)

// ParseSide 解析会话方，大小写不敏感
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideRequester:
		return SideRequester, nil
	case SideCounterparty:
		return SideCounterparty, nil
	}
	return "", fmt.Errorf("invalid side %q", s)
}

func (s Side) Valid() bool {
	return s == SideRequester || s == SideCounterparty
}

// Other 返回对端
func (s Side) Other() Side {
	if s == SideRequester {
		return SideCounterparty
	}
	return SideRequester
}

// PartyColumn 该方在消息表中的会话方 ID 列
func (s Side) PartyColumn() string {
	if s == SideRequester {
		return "requester_id"
	}
	return "counterparty_id"
}

// ReadColumn 该方的已读标记列
func (s Side) ReadColumn() string {
	if s == SideRequester {
		return "read_by_requester"
	}
	return "read_by_counterparty"
}

// DeletedColumn 该方的删除标记列
func (s Side) DeletedColumn() string {
	if s == SideRequester {
		return "deleted_by_requester"
	}
	return "deleted_by_counterparty"
}

// Party 某一方的身份：{方, ID}，取代两个可空外键
type Party struct {
	Side Side  `json:"side"`
	ID   int64 `json:"id"`
}

func (p Party) String() string {
	return fmt.Sprintf("%s:%d", p.Side, p.ID)
}

// ConversationKey 会话标识。一对 (买家, 商家) 只有一个会话，与商品无关
type ConversationKey struct {
	RequesterID    int64
	CounterpartyID int64
}

// KeyFor 从 actor 视角构造会话标识
func KeyFor(actor Party, peerID int64) ConversationKey {
	if actor.Side == SideRequester {
		return ConversationKey{RequesterID: actor.ID, CounterpartyID: peerID}
	}
	return ConversationKey{RequesterID: peerID, CounterpartyID: actor.ID}
}

// PartyOf 返回会话中 side 一方的 ID
func (k ConversationKey) PartyOf(side Side) int64 {
	if side == SideRequester {
		return k.RequesterID
	}
	return k.CounterpartyID
}

// PeerOf 返回 side 的对端 ID
func (k ConversationKey) PeerOf(side Side) int64 {
	return k.PartyOf(side.Other())
}

func (k ConversationKey) String() string {
	return fmt.Sprintf("%d:%d", k.RequesterID, k.CounterpartyID)
}

// Message 聊天消息。只追加，创建后仅四个布尔标记会变化，且只会 false -> true
type Message struct {
	ID             uint64 `gorm:"primaryKey" json:"id"`
	ContextID      int64  `gorm:"index;not null" json:"context_id"`
	RequesterID    int64  `gorm:"index:idx_chat_pair,priority:1;not null" json:"requester_id"`
	CounterpartyID int64  `gorm:"index:idx_chat_pair,priority:2;index;not null" json:"counterparty_id"`
	SenderSide     Side   `gorm:"size:16;not null" json:"sender_side"`
	Text           string `gorm:"size:2000;not null" json:"text"`

	ReadByRequester       bool `gorm:"not null;default:false" json:"read_by_requester"`
	ReadByCounterparty    bool `gorm:"not null;default:false" json:"read_by_counterparty"`
	DeletedByRequester    bool `gorm:"not null;default:false" json:"deleted_by_requester"`
	DeletedByCounterparty bool `gorm:"not null;default:false" json:"deleted_by_counterparty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// 以下字段不落库，发送/查询时由目录服务填充
	RequesterName    string `gorm:"-" json:"requester_name,omitempty"`
	CounterpartyName string `gorm:"-" json:"counterparty_name,omitempty"`
	ContextName      string `gorm:"-" json:"context_name,omitempty"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// NewMessage 构造待发送消息：作者一方预置已读，接收方未读，删除标记均为 false
func NewMessage(key ConversationKey, contextID int64, sender Side, text string) *Message {
	return &Message{
		ContextID:          contextID,
		RequesterID:        key.RequesterID,
		CounterpartyID:     key.CounterpartyID,
		SenderSide:         sender,
		Text:               text,
		ReadByRequester:    sender == SideRequester,
		ReadByCounterparty: sender == SideCounterparty,
	}
}

func (m *Message) Key() ConversationKey {
	return ConversationKey{RequesterID: m.RequesterID, CounterpartyID: m.CounterpartyID}
}

func (m *Message) ReadBy(side Side) bool {
	if side == SideRequester {
		return m.ReadByRequester
	}
	return m.ReadByCounterparty
}

func (m *Message) DeletedBy(side Side) bool {
	if side == SideRequester {
		return m.DeletedByRequester
	}
	return m.DeletedByCounterparty
}

// Involves 判断 p 是否为该消息在 p.Side 上的会话方
func (m *Message) Involves(p Party) bool {
	return m.Key().PartyOf(p.Side) == p.ID
}

// ConversationSummary 会话列表中的一项，始终由消息表实时推导
type ConversationSummary struct {
	PeerID         int64      `json:"peer_id"`
	PeerSide       Side       `json:"peer_side"`
	PeerName       string     `json:"peer_name"`
	PeerAvatar     string     `json:"peer_avatar,omitempty"`
	ContextID      int64      `json:"context_id,omitempty"`
	ContextName    string     `json:"context_name,omitempty"`
	LastMessageID  uint64     `json:"last_message_id,omitempty"`
	LastMessage    string     `json:"last_message,omitempty"`
	LastSenderSide Side       `json:"last_sender_side,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at"`
	UnreadCount    int64      `json:"unread_count"`
}

// Repository 聊天消息仓储接口
type Repository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uint64) (*Message, error)
	// ListByPair beforeID>0 且 limit>0 时返回 id<beforeID 的最近 limit 条，否则返回全部；
	// 均按 id 升序（id 由数据库分配，是唯一的排序依据），并过滤掉 viewer 自己删除的消息
	ListByPair(ctx context.Context, key ConversationKey, viewer Side, beforeID uint64, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, key ConversationKey, side Side) (int64, error)
	SoftDelete(ctx context.Context, id uint64, side Side) error
	// ListPeers 按首次出现顺序返回 party 的所有对端 ID（忽略 party 自己删除的消息）
	ListPeers(ctx context.Context, party Party) ([]int64, error)
	// LastVisible viewer 可见的 id 最大的一条消息，没有时返回 nil
	LastVisible(ctx context.Context, key ConversationKey, viewer Side) (*Message, error)
	CountUnread(ctx context.Context, key ConversationKey, viewer Side) (int64, error)
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/example/localhunt/internal/datamodels/chat"
	"github.com/example/localhunt/internal/datamodels/party"
	"github.com/example/localhunt/internal/datamodels/product"
)

// Broadcaster 实时投递出口：进程内 Hub 或 RabbitMQ exchange
type Broadcaster interface {
	Publish(ctx context.Context, m *chat.Message) error
}

// SummaryCache 会话摘要的读穿缓存，按 (会话, 视角, 代数) 存储。
// 任何写操作都推进会话代数；Get 返回的代数须在 Set 时原样带回，
// 计算期间发生的写操作会让这次 Set 的结果不可见
type SummaryCache interface {
	Get(ctx context.Context, key chat.ConversationKey, viewer chat.Side) (*chat.ConversationSummary, int64, error)
	Set(ctx context.Context, key chat.ConversationKey, viewer chat.Side, gen int64, s *chat.ConversationSummary) error
	Invalidate(ctx context.Context, key chat.ConversationKey) error
}

// ChatOptions 聊天服务参数
type ChatOptions struct {
	HistoryMaxLimit int
	PublishTimeout  time.Duration
}

// SendRequest 发送消息参数
type SendRequest struct {
	RequesterID    int64
	CounterpartyID int64
	ContextID      int64
	SenderSide     chat.Side
	Text           string
}

// HistoryQuery 历史消息查询；BeforeID 与 Limit 同时为正时按游标分页，否则返回全部
type HistoryQuery struct {
	RequesterID    int64
	CounterpartyID int64
	Viewer         chat.Side
	BeforeID       uint64
	Limit          int
}

// ChatService 买家与商家之间的聊天服务
type ChatService struct {
	repo        chat.Repository
	parties     party.Directory
	catalog     product.Catalog
	broadcaster Broadcaster
	cache       SummaryCache
	opts        ChatOptions

	inflight sync.WaitGroup
}

// NewChatService 创建聊天服务，cache 可以为 nil
func NewChatService(
	repo chat.Repository,
	parties party.Directory,
	catalog product.Catalog,
	broadcaster Broadcaster,
	cache SummaryCache,
	opts ChatOptions,
) *ChatService {
	if opts.HistoryMaxLimit <= 0 {
		opts.HistoryMaxLimit = 100
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	return &ChatService{
		repo:        repo,
		parties:     parties,
		catalog:     catalog,
		broadcaster: broadcaster,
		cache:       cache,
		opts:        opts,
	}
}

// Send 持久化一条消息并异步广播。作者一方预置已读，接收方未读。
// 不幂等：失败后重试可能产生重复消息
func (s *ChatService) Send(ctx context.Context, req SendRequest) (*chat.Message, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, invalidInput("text is empty")
	}
	if utf8.RuneCountInString(text) > chat.MaxTextLength {
		return nil, invalidInput("text longer than %d characters", chat.MaxTextLength)
	}
	if !req.SenderSide.Valid() {
		return nil, invalidInput("invalid sender side %q", req.SenderSide)
	}

	key := chat.ConversationKey{RequesterID: req.RequesterID, CounterpartyID: req.CounterpartyID}
	requester, err := s.resolve(ctx, "send", chat.Party{Side: chat.SideRequester, ID: key.RequesterID})
	if err != nil {
		return nil, err
	}
	counterparty, err := s.resolve(ctx, "send", chat.Party{Side: chat.SideCounterparty, ID: key.CounterpartyID})
	if err != nil {
		return nil, err
	}
	item, err := s.catalog.Resolve(ctx, req.ContextID)
	if err != nil {
		return nil, lookupErr("send", "context item", err)
	}

	m := chat.NewMessage(key, req.ContextID, req.SenderSide, text)
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, storageErr("send", err)
	}
	GetMonitor().RecordSend()
	s.invalidate(ctx, key)

	m.RequesterName = requester.DisplayName
	m.CounterpartyName = counterparty.DisplayName
	m.ContextName = item.DisplayName

	s.broadcast(m)
	return m, nil
}

// broadcast 发送方不等待投递结果
func (s *ChatService) broadcast(m *chat.Message) {
	if s.broadcaster == nil {
		return
	}
	out := *m
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.PublishTimeout)
		defer cancel()
		if err := s.broadcaster.Publish(ctx, &out); err != nil {
			GetMonitor().RecordBroadcastError()
			zap.L().Warn("chat broadcast failed", zap.Uint64("message_id", out.ID), zap.Error(err))
		}
	}()
}

// Drain 等待进行中的广播完成，用于优雅退出
func (s *ChatService) Drain() {
	s.inflight.Wait()
}

// History 返回会话历史，按创建时间升序；只过滤 viewer 自己删除的消息
func (s *ChatService) History(ctx context.Context, q HistoryQuery) ([]*chat.Message, error) {
	if !q.Viewer.Valid() {
		return nil, invalidInput("invalid viewer side %q", q.Viewer)
	}
	key := chat.ConversationKey{RequesterID: q.RequesterID, CounterpartyID: q.CounterpartyID}
	requester, err := s.resolve(ctx, "history", chat.Party{Side: chat.SideRequester, ID: key.RequesterID})
	if err != nil {
		return nil, err
	}
	counterparty, err := s.resolve(ctx, "history", chat.Party{Side: chat.SideCounterparty, ID: key.CounterpartyID})
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit > s.opts.HistoryMaxLimit {
		limit = s.opts.HistoryMaxLimit
	}
	list, err := s.repo.ListByPair(ctx, key, q.Viewer, q.BeforeID, limit)
	if err != nil {
		return nil, storageErr("history", err)
	}

	names := make(map[int64]string)
	for _, m := range list {
		m.RequesterName = requester.DisplayName
		m.CounterpartyName = counterparty.DisplayName
		name, ok := names[m.ContextID]
		if !ok {
			name = s.contextName(ctx, m.ContextID)
			names[m.ContextID] = name
		}
		m.ContextName = name
	}
	return list, nil
}

// ListConversations 汇总 actor 的所有会话：最近一条可见消息、对应商品、未读数，按最近消息时间倒序
func (s *ChatService) ListConversations(ctx context.Context, actor chat.Party) ([]*chat.ConversationSummary, error) {
	if !actor.Side.Valid() {
		return nil, invalidInput("invalid side %q", actor.Side)
	}
	if _, err := s.resolve(ctx, "list conversations", actor); err != nil {
		return nil, err
	}

	peers, err := s.repo.ListPeers(ctx, actor)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}

	out := make([]*chat.ConversationSummary, 0, len(peers))
	for _, peerID := range peers {
		sum, err := s.summary(ctx, chat.KeyFor(actor, peerID), actor.Side)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	sortSummaries(out)
	return out, nil
}

func (s *ChatService) summary(ctx context.Context, key chat.ConversationKey, viewer chat.Side) (*chat.ConversationSummary, error) {
	// 代数必须在查库之前读取
	cacheable := false
	var gen int64
	if s.cache != nil {
		cached, g, err := s.cache.Get(ctx, key, viewer)
		switch {
		case err != nil:
			zap.L().Warn("summary cache get failed", zap.Stringer("pair", key), zap.Error(err))
		case cached != nil:
			return cached, nil
		default:
			cacheable, gen = true, g
		}
	}

	last, err := s.repo.LastVisible(ctx, key, viewer)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	unread, err := s.repo.CountUnread(ctx, key, viewer)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}

	peer := chat.Party{Side: viewer.Other(), ID: key.PeerOf(viewer)}
	sum := &chat.ConversationSummary{
		PeerID:      peer.ID,
		PeerSide:    peer.Side,
		UnreadCount: unread,
	}
	if profile, err := s.parties.Resolve(ctx, peer); err == nil {
		sum.PeerName = profile.DisplayName
		sum.PeerAvatar = profile.Avatar
	} else {
		zap.L().Warn("peer lookup failed", zap.Stringer("peer", peer), zap.Error(err))
	}
	if last != nil {
		at := last.CreatedAt
		sum.ContextID = last.ContextID
		sum.ContextName = s.contextName(ctx, last.ContextID)
		sum.LastMessageID = last.ID
		sum.LastMessage = last.Text
		sum.LastSenderSide = last.SenderSide
		sum.LastMessageAt = &at
	}

	if cacheable {
		if err := s.cache.Set(ctx, key, viewer, gen, sum); err != nil {
			zap.L().Warn("summary cache set failed", zap.Stringer("pair", key), zap.Error(err))
		}
	}
	return sum, nil
}

// sortSummaries 有最近消息的按时间倒序，没有的排在最后；相同时间保持发现顺序
func sortSummaries(list []*chat.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastMessageAt, list[j].LastMessageAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
}

// MarkRead 把 actor 一侧在该会话中的未读消息全部置为已读，返回本次置位的条数。幂等
func (s *ChatService) MarkRead(ctx context.Context, actor chat.Party, peerID int64) (int64, error) {
	if !actor.Side.Valid() {
		return 0, invalidInput("invalid side %q", actor.Side)
	}
	if _, err := s.resolve(ctx, "mark read", actor); err != nil {
		return 0, err
	}
	if _, err := s.resolve(ctx, "mark read", chat.Party{Side: actor.Side.Other(), ID: peerID}); err != nil {
		return 0, err
	}

	key := chat.KeyFor(actor, peerID)
	n, err := s.repo.MarkRead(ctx, key, actor.Side)
	if err != nil {
		return 0, storageErr("mark read", err)
	}
	s.invalidate(ctx, key)
	return n, nil
}

// SoftDelete 对 actor 一侧隐藏消息，另一方不受影响。幂等。
// 消息不存在或 actor 不是该消息在其一侧的会话方时返回 ErrNotFound
func (s *ChatService) SoftDelete(ctx context.Context, actor chat.Party, messageID uint64) error {
	if !actor.Side.Valid() {
		return invalidInput("invalid side %q", actor.Side)
	}
	m, err := s.repo.GetByID(ctx, messageID)
	if err != nil {
		return lookupErr("soft delete", "message", err)
	}
	if !m.Involves(actor) {
		return fmt.Errorf("soft delete: message: %w", ErrNotFound)
	}
	if m.DeletedBy(actor.Side) {
		return nil
	}
	if err := s.repo.SoftDelete(ctx, messageID, actor.Side); err != nil {
		return storageErr("soft delete", err)
	}
	s.invalidate(ctx, m.Key())
	return nil
}

func (s *ChatService) resolve(ctx context.Context, op string, p chat.Party) (*party.Profile, error) {
	profile, err := s.parties.Resolve(ctx, p)
	if err != nil {
		return nil, lookupErr(op, "party "+p.String(), err)
	}
	return profile, nil
}

// contextName 只用于展示，查不到时返回空
func (s *ChatService) contextName(ctx context.Context, id int64) string {
	item, err := s.catalog.Resolve(ctx, id)
	if err != nil {
		zap.L().Debug("context item lookup failed", zap.Int64("context_id", id), zap.Error(err))
		return ""
	}
	return item.DisplayName
}

func (s *ChatService) invalidate(ctx context.Context, key chat.ConversationKey) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, key); err != nil {
		zap.L().Warn("summary cache invalidate failed", zap.Stringer("pair", key), zap.Error(err))
	}
}

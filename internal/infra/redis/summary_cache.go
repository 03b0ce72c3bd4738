package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	radix "github.com/mediocregopher/radix/v3"

	"github.com/example/localhunt/internal/datamodels/chat"
)

const (
	redisSummaryKey    = "chat:summary:%d:%d:%s:%d" // requesterID, counterpartyID, viewer side, generation
	redisSummaryGenKey = "chat:summary:gen:%d:%d"   // requesterID, counterpartyID
)

// SummaryCache 会话摘要缓存，value 为 JSON。
// 每个会话有一个代数，写操作 INCR 代数；摘要按代数存放，
// 旧代数下计算出的摘要即使晚于失效写入也不会再被读到
type SummaryCache struct {
	redis radix.Client
	ttl   time.Duration
}

// NewSummaryCache 创建缓存，ttl<=0 时默认 5 分钟
func NewSummaryCache(redis radix.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SummaryCache{redis: redis, ttl: ttl}
}

func summaryKey(key chat.ConversationKey, viewer chat.Side, gen int64) string {
	return fmt.Sprintf(redisSummaryKey, key.RequesterID, key.CounterpartyID, viewer, gen)
}

func genKey(key chat.ConversationKey) string {
	return fmt.Sprintf(redisSummaryGenKey, key.RequesterID, key.CounterpartyID)
}

// generation 会话当前代数，从未失效过时为 0
func (c *SummaryCache) generation(key chat.ConversationKey) (int64, error) {
	var raw string
	if err := c.redis.Do(radix.Cmd(&raw, "GET", genKey(key))); err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Get 返回当前代数下的摘要（未命中时为 nil）以及当前代数，Set 时需原样带回。
// 数据损坏时删除并视为未命中
func (c *SummaryCache) Get(ctx context.Context, key chat.ConversationKey, viewer chat.Side) (*chat.ConversationSummary, int64, error) {
	gen, err := c.generation(key)
	if err != nil {
		return nil, 0, err
	}
	k := summaryKey(key, viewer, gen)
	var raw string
	if err := c.redis.Do(radix.Cmd(&raw, "GET", k)); err != nil {
		return nil, 0, err
	}
	if raw == "" {
		return nil, gen, nil
	}
	var sum chat.ConversationSummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		_ = c.redis.Do(radix.Cmd(nil, "DEL", k))
		return nil, gen, nil
	}
	return &sum, gen, nil
}

// Set 把 gen 代数下计算出的摘要写入；期间若已失效，写入的旧代数 key 不会再被读取，随 TTL 过期
func (c *SummaryCache) Set(ctx context.Context, key chat.ConversationKey, viewer chat.Side, gen int64, s *chat.ConversationSummary) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.redis.Do(radix.FlatCmd(nil, "SETEX", summaryKey(key, viewer, gen), int64(c.ttl/time.Second), body))
}

// Invalidate 推进会话代数，两侧视角的摘要同时失效
func (c *SummaryCache) Invalidate(ctx context.Context, key chat.ConversationKey) error {
	return c.redis.Do(radix.Cmd(nil, "INCR", genKey(key)))
}

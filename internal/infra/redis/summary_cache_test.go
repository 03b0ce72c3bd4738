package redis

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	radix "github.com/mediocregopher/radix/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/localhunt/internal/datamodels/chat"
)

// fakeRedis 只实现缓存用到的 GET / SETEX / DEL / INCR
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
	ttl  map[string]string
}

func newFakeRedis() (*fakeRedis, radix.Conn) {
	f := &fakeRedis{data: map[string]string{}, ttl: map[string]string{}}
	return f, radix.Stub("tcp", "127.0.0.1:6379", f.handle)
}

func (f *fakeRedis) handle(args []string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch strings.ToUpper(args[0]) {
	case "GET":
		if v, ok := f.data[args[1]]; ok {
			return v
		}
		return nil
	case "SETEX":
		f.ttl[args[1]] = args[2]
		f.data[args[1]] = args[3]
		return "OK"
	case "DEL":
		n := 0
		for _, k := range args[1:] {
			if _, ok := f.data[k]; ok {
				delete(f.data, k)
				n++
			}
		}
		return n
	case "INCR":
		n, _ := strconv.ParseInt(f.data[args[1]], 10, 64)
		n++
		f.data[args[1]] = strconv.FormatInt(n, 10)
		return n
	}
	return nil
}

func TestSummaryCache_RoundTripAndInvalidate(t *testing.T) {
	fake, conn := newFakeRedis()
	cache := NewSummaryCache(conn, time.Minute)
	ctx := context.Background()
	key := chat.ConversationKey{RequesterID: 1, CounterpartyID: 2}

	got, gen, err := cache.Get(ctx, key, chat.SideRequester)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, gen)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	sum := &chat.ConversationSummary{PeerID: 2, PeerSide: chat.SideCounterparty, ContextID: 7, LastMessage: "hi", LastMessageAt: &at, UnreadCount: 3}
	require.NoError(t, cache.Set(ctx, key, chat.SideRequester, gen, sum))
	require.NoError(t, cache.Set(ctx, key, chat.SideCounterparty, gen, &chat.ConversationSummary{PeerID: 1}))
	assert.Equal(t, "60", fake.ttl["chat:summary:1:2:REQUESTER:0"])

	got, _, err = cache.Get(ctx, key, chat.SideRequester)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.UnreadCount)
	assert.Equal(t, int64(7), got.ContextID)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, at.Equal(*got.LastMessageAt))

	require.NoError(t, cache.Invalidate(ctx, key))
	got, gen, _ = cache.Get(ctx, key, chat.SideRequester)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), gen)
	got, _, _ = cache.Get(ctx, key, chat.SideCounterparty)
	assert.Nil(t, got)
}

func TestSummaryCache_SetAfterInvalidateIsNeverServed(t *testing.T) {
	_, conn := newFakeRedis()
	cache := NewSummaryCache(conn, time.Minute)
	ctx := context.Background()
	key := chat.ConversationKey{RequesterID: 1, CounterpartyID: 2}

	// 读到代数后开始计算，计算期间发生写操作
	_, gen, err := cache.Get(ctx, key, chat.SideRequester)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, key))
	require.NoError(t, cache.Set(ctx, key, chat.SideRequester, gen, &chat.ConversationSummary{UnreadCount: 1}))

	got, newGen, err := cache.Get(ctx, key, chat.SideRequester)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, gen+1, newGen)

	require.NoError(t, cache.Set(ctx, key, chat.SideRequester, newGen, &chat.ConversationSummary{UnreadCount: 0}))
	got, _, err = cache.Get(ctx, key, chat.SideRequester)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Zero(t, got.UnreadCount)
}

func TestSummaryCache_CorruptEntryIsAMiss(t *testing.T) {
	fake, conn := newFakeRedis()
	cache := NewSummaryCache(conn, 0)
	key := chat.ConversationKey{RequesterID: 1, CounterpartyID: 2}
	fake.data["chat:summary:1:2:COUNTERPARTY:0"] = "{broken"

	got, _, err := cache.Get(context.Background(), key, chat.SideCounterparty)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NotContains(t, fake.data, "chat:summary:1:2:COUNTERPARTY:0")
}

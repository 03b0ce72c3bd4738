package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/localhunt/internal/datamodels/chat"
)

func msg(id uint64, requester, counterparty int64) *chat.Message {
	return &chat.Message{ID: id, RequesterID: requester, CounterpartyID: counterparty, SenderSide: chat.SideRequester, Text: "hi"}
}

func recv(t *testing.T, s *Subscription) *chat.Message {
	t.Helper()
	select {
	case m := <-s.C:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertEmpty(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case m := <-s.C:
		t.Fatalf("unexpected message %d", m.ID)
	default:
	}
}

func TestHub_FansOutToEveryListener(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe(nil)
	b := hub.Subscribe(nil)
	defer hub.Unsubscribe(a)
	defer hub.Unsubscribe(b)

	require.NoError(t, hub.Publish(context.Background(), msg(1, 1, 2)))

	assert.Equal(t, uint64(1), recv(t, a).ID)
	assert.Equal(t, uint64(1), recv(t, b).ID)
}

func TestHub_PartyFilter(t *testing.T) {
	hub := NewHub(4)
	vendor := hub.Subscribe(PartyFilter(chat.Party{Side: chat.SideCounterparty, ID: 2}))
	defer hub.Unsubscribe(vendor)

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, msg(1, 1, 3)))
	// 同一数字 ID 但在另一侧，不属于该商家
	require.NoError(t, hub.Publish(ctx, msg(2, 2, 3)))
	require.NoError(t, hub.Publish(ctx, msg(3, 1, 2)))

	assert.Equal(t, uint64(3), recv(t, vendor).ID)
	assertEmpty(t, vendor)
}

func TestHub_SlowListenerDoesNotBlock(t *testing.T) {
	hub := NewHub(1)
	slow := hub.Subscribe(nil)
	fast := hub.Subscribe(nil)
	defer hub.Unsubscribe(slow)
	defer hub.Unsubscribe(fast)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(1); i <= 3; i++ {
			_ = hub.Publish(context.Background(), msg(i, 1, 2))
			if i < 3 {
				<-fast.C
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full listener")
	}

	// slow 只保留第一条，后面的被丢弃
	assert.Equal(t, uint64(1), recv(t, slow).ID)
	assertEmpty(t, slow)
	assert.Equal(t, uint64(3), recv(t, fast).ID)
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(1)
	s := hub.Subscribe(nil)
	assert.Equal(t, 1, hub.Len())

	hub.Unsubscribe(s)
	hub.Unsubscribe(s)
	assert.Equal(t, 0, hub.Len())

	_, ok := <-s.C
	assert.False(t, ok)

	// 关闭后再发布不会 panic
	require.NoError(t, hub.Publish(context.Background(), msg(1, 1, 2)))
}

func TestHub_LateListenerMissesEarlierMessages(t *testing.T) {
	hub := NewHub(4)
	require.NoError(t, hub.Publish(context.Background(), msg(1, 1, 2)))

	late := hub.Subscribe(nil)
	defer hub.Unsubscribe(late)
	assertEmpty(t, late)
}

func TestRelay_Dispatch(t *testing.T) {
	hub := NewHub(4)
	s := hub.Subscribe(nil)
	defer hub.Unsubscribe(s)
	r := NewRelay(nil, "chat.messages", hub)

	pub, err := encodePublishing(&chat.Message{ID: 9, RequesterID: 1, CounterpartyID: 2, Text: "relayed", RequesterName: "Buyer"})
	require.NoError(t, err)
	assert.Equal(t, "9", pub.MessageId)
	assert.Equal(t, "application/json", pub.ContentType)

	r.dispatch(context.Background(), []byte("{not json"))
	r.dispatch(context.Background(), pub.Body)

	got := recv(t, s)
	assert.Equal(t, uint64(9), got.ID)
	assert.Equal(t, "relayed", got.Text)
	assert.Equal(t, "Buyer", got.RequesterName)
	assertEmpty(t, s)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.Body, &raw))
	assert.Contains(t, raw, "read_by_counterparty")
}

type downBroker struct {
	attempts atomic.Int32
}

func (b *downBroker) Connection() (*amqp.Connection, error) {
	b.attempts.Add(1)
	return nil, errors.New("connection refused")
}

func TestRelay_RetriesUntilCancelled(t *testing.T) {
	broker := &downBroker{}
	r := NewRelay(broker, "chat.messages", NewHub(4))
	r.minBackoff, r.maxBackoff = time.Millisecond, 4*time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return broker.attempts.Load() >= 3 }, time.Second, time.Millisecond)
	assert.False(t, r.Connected())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
	assert.False(t, r.Connected())
}

func TestAMQPPublisher_ReportsConnectError(t *testing.T) {
	broker := &downBroker{}
	p := NewAMQPPublisher(broker, "chat.messages")
	assert.Error(t, p.Declare())
	assert.Error(t, p.Publish(context.Background(), &chat.Message{ID: 1}))
	assert.Equal(t, int32(2), broker.attempts.Load())
}

package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/example/localhunt/internal/datamodels/chat"
)

const exchangeKind = "fanout"

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil)
}

// Connector 提供当前可用的 RabbitMQ 连接，断线后负责重连
type Connector interface {
	Connection() (*amqp.Connection, error)
}

func openChannel(c Connector) (*amqp.Channel, error) {
	conn, err := c.Connection()
	if err != nil {
		return nil, err
	}
	return conn.Channel()
}

// AMQPPublisher 把消息发布到 fanout exchange，多个实例共享同一主题
type AMQPPublisher struct {
	conn     Connector
	exchange string
}

// NewAMQPPublisher 创建发布者
func NewAMQPPublisher(conn Connector, exchange string) *AMQPPublisher {
	return &AMQPPublisher{conn: conn, exchange: exchange}
}

// Declare 启动时声明 exchange
func (p *AMQPPublisher) Declare() error {
	ch, err := openChannel(p.conn)
	if err != nil {
		return err
	}
	defer ch.Close()
	return declareExchange(ch, p.exchange)
}

// Publish 每次发布单独开 channel，避免跨 goroutine 共享
func (p *AMQPPublisher) Publish(ctx context.Context, m *chat.Message) error {
	pub, err := encodePublishing(m)
	if err != nil {
		return err
	}

	ch, err := openChannel(p.conn)
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, p.exchange, "", false, false, pub)
}

func encodePublishing(m *chat.Message) (amqp.Publishing, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType: "application/json",
		MessageId:   strconv.FormatUint(m.ID, 10),
		Timestamp:   m.CreatedAt,
		Body:        body,
	}, nil
}

const (
	relayMinBackoff = time.Second
	relayMaxBackoff = 30 * time.Second
)

// Relay 为本实例声明一个独占的临时队列绑定到 exchange，把收到的消息转交本地 Hub。
// 连接或 channel 断开后按指数退避重连，直到 ctx 取消
type Relay struct {
	conn     Connector
	exchange string
	hub      *Hub

	minBackoff time.Duration
	maxBackoff time.Duration
	connected  atomic.Bool
}

// NewRelay 创建中继
func NewRelay(conn Connector, exchange string, hub *Hub) *Relay {
	return &Relay{
		conn:       conn,
		exchange:   exchange,
		hub:        hub,
		minBackoff: relayMinBackoff,
		maxBackoff: relayMaxBackoff,
	}
}

// Connected 中继当前是否在消费
func (r *Relay) Connected() bool {
	return r.connected.Load()
}

// Run 阻塞直到 ctx 取消；中途断线只记日志并重连
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.minBackoff
	for {
		consumed, err := r.consume(ctx)
		r.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if consumed {
			// 成功消费过，从最小间隔重新开始
			backoff = r.minBackoff
		}
		zap.L().Error("chat relay disconnected, retrying",
			zap.String("exchange", r.exchange),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if backoff *= 2; backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// consume 跑一轮消费会话；consumed 表示本轮是否已开始消费
func (r *Relay) consume(ctx context.Context) (consumed bool, err error) {
	ch, err := openChannel(r.conn)
	if err != nil {
		return false, err
	}
	defer ch.Close()

	if err := declareExchange(ch, r.exchange); err != nil {
		return false, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return false, err
	}
	if err := ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return false, err
	}

	tag := "chat-relay-" + uuid.NewString()
	deliveries, err := ch.Consume(q.Name, tag, true, true, false, false, nil)
	if err != nil {
		return false, err
	}
	r.connected.Store(true)
	zap.L().Info("chat relay started", zap.String("exchange", r.exchange), zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return true, nil
		case d, ok := <-deliveries:
			if !ok {
				return true, errors.New("chat relay: delivery channel closed")
			}
			r.dispatch(ctx, d.Body)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, body []byte) {
	var m chat.Message
	if err := json.Unmarshal(body, &m); err != nil {
		zap.L().Warn("chat relay: invalid message", zap.Error(err))
		return
	}
	_ = r.hub.Publish(ctx, &m)
}

package mq

import (
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/example/localhunt/internal/config"
)

var (
	session *Session
	once    sync.Once
)

// Session 持有一条 RabbitMQ 连接，连接断开后下次获取时重新拨号
type Session struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewSession 创建会话，首次 Connection 时才拨号
func NewSession(url string) *Session {
	return &Session{url: url, dial: amqp.Dial}
}

// Connection 返回可用连接，已关闭则重新拨号
func (s *Session) Connection() (*amqp.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn, nil
	}
	c, err := s.dial(s.url)
	if err != nil {
		return nil, err
	}
	if s.conn != nil {
		zap.L().Info("rabbitmq reconnected")
	}
	s.conn = c
	return c, nil
}

// Close 关闭当前连接
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}

// Init 初始化 RabbitMQ 会话，启动时连不上直接退出
func Init(cfg *config.RabbitMQConfig) *Session {
	once.Do(func() {
		s := NewSession(cfg.URL)
		if _, err := s.Connection(); err != nil {
			zap.L().Fatal("failed to connect rabbitmq", zap.Error(err))
		}
		session = s
	})
	return session
}

// Get 获取 MQ 会话
func Get() *Session {
	return session
}

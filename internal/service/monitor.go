package service

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "localhunt", Subsystem: "chat", Name: "messages_sent_total",
		Help: "Messages persisted by send.",
	})
	storageErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "localhunt", Subsystem: "chat", Name: "storage_errors_total",
		Help: "Durable store failures surfaced to callers.",
	})
	broadcastDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "localhunt", Subsystem: "chat", Name: "broadcast_dropped_total",
		Help: "Live deliveries dropped because a listener buffer was full.",
	})
	broadcastErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "localhunt", Subsystem: "chat", Name: "broadcast_errors_total",
		Help: "Failed publishes to the broadcast topic.",
	})
	listeners = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "localhunt", Subsystem: "chat", Name: "listeners",
		Help: "Connected live listeners on this instance.",
	})
)

// Monitor 监控服务：同时写 prometheus 指标和本地快照（供 /api/stats 查看）
type Monitor struct {
	mu sync.RWMutex

	// 错误统计
	StorageErrors   int64
	BroadcastErrors int64

	// 吞吐统计
	MessagesSent     int64
	BroadcastDropped int64
	Listeners        int64

	// 时间统计
	LastStorageError time.Time
	LastSend         time.Time
}

var globalMonitor = &Monitor{}

// GetMonitor 获取全局监控实例
func GetMonitor() *Monitor {
	return globalMonitor
}

// RecordSend 记录一次成功发送
func (m *Monitor) RecordSend() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MessagesSent++
	m.LastSend = time.Now()
	messagesSent.Inc()
}

// RecordStorageError 记录存储错误
func (m *Monitor) RecordStorageError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StorageErrors++
	m.LastStorageError = time.Now()
	storageErrors.Inc()
}

// RecordBroadcastDropped 记录因监听者缓冲区满而丢弃的推送
func (m *Monitor) RecordBroadcastDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BroadcastDropped++
	broadcastDropped.Inc()
}

// RecordBroadcastError 记录广播发布失败
func (m *Monitor) RecordBroadcastError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BroadcastErrors++
	broadcastErrors.Inc()
}

// ListenerConnected / ListenerDisconnected 维护在线监听者数量
func (m *Monitor) ListenerConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Listeners++
	listeners.Inc()
}

func (m *Monitor) ListenerDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Listeners--
	listeners.Dec()
}

// GetStats 获取统计信息
func (m *Monitor) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"errors": map[string]interface{}{
			"storage":   m.StorageErrors,
			"broadcast": m.BroadcastErrors,
		},
		"delivery": map[string]interface{}{
			"messages_sent":     m.MessagesSent,
			"broadcast_dropped": m.BroadcastDropped,
			"listeners":         m.Listeners,
		},
		"last_events": map[string]interface{}{
			"storage_error": m.LastStorageError,
			"send":          m.LastSend,
		},
	}
}

// Reset 重置本地快照（用于测试），prometheus 计数器只增不减
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StorageErrors = 0
	m.BroadcastErrors = 0
	m.MessagesSent = 0
	m.BroadcastDropped = 0
}

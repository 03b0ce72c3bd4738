package middleware

import (
	"sync"
	"time"

	"github.com/kataras/iris/v12"
	"golang.org/x/time/rate"
)

// KeyFunc 从请求中取限流维度，返回空串时不限流
type KeyFunc func(ctx iris.Context) string

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// LimiterPool 按 key 维护独立的令牌桶
type LimiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int

	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiterPool 创建令牌桶池：每秒补充 rps 个令牌，容量 burst
func NewLimiterPool(rps float64, burst int) *LimiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &LimiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   10 * time.Minute,
		now:   time.Now,
	}
}

// Allow 检查 key 是否还有令牌
func (p *LimiterPool) Allow(key string) bool {
	return p.get(key).AllowN(p.now(), 1)
}

func (p *LimiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	// 顺带清理长时间不活跃的 key，避免 map 无限增长
	if now.Sub(p.lastSweep) > p.ttl {
		for k, e := range p.m {
			if now.Sub(e.lastSeen) > p.ttl {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}

	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.l
	}
	l := rate.NewLimiter(p.rps, p.burst)
	p.m[key] = &limiterEntry{l: l, lastSeen: now}
	return l
}

// Len 当前跟踪的 key 数量
func (p *LimiterPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimitMiddleware 限流中间件
func RateLimitMiddleware(pool *LimiterPool, key KeyFunc) iris.Handler {
	return func(ctx iris.Context) {
		k := key(ctx)
		if k != "" && !pool.Allow(k) {
			ctx.StopWithJSON(iris.StatusTooManyRequests, iris.Map{
				"code": iris.StatusTooManyRequests,
				"msg":  "请求过于频繁，请稍后再试",
			})
			return
		}
		ctx.Next()
	}
}

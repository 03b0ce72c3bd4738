package middleware

import (
	"testing"
	"time"

	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/httptest"
	"github.com/stretchr/testify/assert"
)

func TestLimiterPool_PerKeyBuckets(t *testing.T) {
	pool := NewLimiterPool(1, 2)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return at }

	assert.True(t, pool.Allow("a"))
	assert.True(t, pool.Allow("a"))
	assert.False(t, pool.Allow("a"))
	// 其他 key 不受影响
	assert.True(t, pool.Allow("b"))

	at = at.Add(time.Second)
	assert.True(t, pool.Allow("a"))
	assert.False(t, pool.Allow("a"))
}

func TestLimiterPool_EvictsIdleKeys(t *testing.T) {
	pool := NewLimiterPool(1, 1)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pool.now = func() time.Time { return at }

	pool.Allow("idle")
	pool.Allow("busy")
	assert.Equal(t, 2, pool.Len())

	at = at.Add(11 * time.Minute)
	pool.Allow("busy")
	assert.Equal(t, 1, pool.Len())
}

func TestRateLimitMiddleware(t *testing.T) {
	app := iris.New()
	pool := NewLimiterPool(0.001, 1)
	app.Get("/ping", RateLimitMiddleware(pool, func(ctx iris.Context) string {
		return ctx.GetHeader("X-Party")
	}), func(ctx iris.Context) {
		ctx.JSON(iris.Map{"code": 0})
	})

	e := httptest.New(t, app)
	e.GET("/ping").WithHeader("X-Party", "REQUESTER:1").Expect().Status(httptest.StatusOK)
	code := e.GET("/ping").WithHeader("X-Party", "REQUESTER:1").Expect().
		Status(httptest.StatusTooManyRequests).
		JSON().Object().Value("code").Number().Raw()
	assert.Equal(t, float64(429), code)
	e.GET("/ping").WithHeader("X-Party", "REQUESTER:2").Expect().Status(httptest.StatusOK)
	// 取不到 key 时放行
	e.GET("/ping").Expect().Status(httptest.StatusOK)
	e.GET("/ping").Expect().Status(httptest.StatusOK)
}

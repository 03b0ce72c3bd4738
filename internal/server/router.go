package server

import (
	"context"
	"net/http"
	"time"

	"github.com/kataras/iris/v12"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/localhunt/internal/broadcast"
	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/infra/mq"
	"github.com/example/localhunt/internal/infra/redis"
	"github.com/example/localhunt/internal/middleware"
	"github.com/example/localhunt/internal/repository/mysql"
	"github.com/example/localhunt/internal/service"
)

// RegisterRoutes 初始化基础设施并注册所有 HTTP 路由。
// ctx 取消时 RabbitMQ 中继退出；返回的服务用于退出前 Drain
func RegisterRoutes(ctx context.Context, app *iris.Application, cfg *config.Config) *service.ChatService {
	// 初始化基础设施
	db := mysql.Init(&cfg.MySQL)
	hub := broadcast.NewHub(cfg.Chat.ListenerBuffer)

	var publisher service.Broadcaster = hub
	var checks []healthCheck
	if cfg.Chat.Broadcast == config.BroadcastAMQP {
		session := mq.Init(&cfg.RabbitMQ)
		amqpPub := broadcast.NewAMQPPublisher(session, cfg.Chat.Exchange)
		if err := amqpPub.Declare(); err != nil {
			zap.L().Fatal("declare chat exchange failed", zap.String("exchange", cfg.Chat.Exchange), zap.Error(err))
		}
		publisher = amqpPub

		relay := broadcast.NewRelay(session, cfg.Chat.Exchange, hub)
		checks = append(checks, healthCheck{name: "chat_relay", ok: relay.Connected})
		go func() {
			_ = relay.Run(ctx)
			zap.L().Info("chat relay stopped")
		}()
	}

	var cache service.SummaryCache
	if cfg.Redis.Addr != "" {
		ttl := time.Duration(cfg.Chat.SummaryCacheTTLSeconds) * time.Second
		cache = redis.NewSummaryCache(redis.Init(&cfg.Redis), ttl)
	}

	// 仓储与服务
	chatSvc := service.NewChatService(
		mysql.NewChatRepository(db),
		mysql.NewPartyDirectory(mysql.NewUserRepository(db), mysql.NewVendorRepository(db)),
		mysql.NewCatalog(mysql.NewProductRepository(db)),
		publisher,
		cache,
		service.ChatOptions{
			HistoryMaxLimit: cfg.Chat.HistoryMaxLimit,
			PublishTimeout:  time.Duration(cfg.Chat.PublishTimeoutMillis) * time.Millisecond,
		},
	)

	registerOpsRoutes(app, checks...)
	registerChatRoutes(app.Party("/api/chat"), &chatHandler{
		svc:     chatSvc,
		hub:     hub,
		jwt:     &cfg.JWT,
		limiter: middleware.NewLimiterPool(cfg.RateLimit.SendRPS, cfg.RateLimit.SendBurst),
	})

	zap.L().Info("routes registered",
		zap.String("broadcast", cfg.Chat.Broadcast),
		zap.Bool("summary_cache", cache != nil))
	return chatSvc
}

// healthCheck 健康检查项，ok 返回 false 时 /api/health 报 503
type healthCheck struct {
	name string
	ok   func() bool
}

// registerOpsRoutes 健康检查、监控统计、prometheus 指标
func registerOpsRoutes(app *iris.Application, checks ...healthCheck) {
	api := app.Party("/api")

	// 健康检查
	api.Get("/health", func(ctx iris.Context) {
		status := iris.Map{}
		healthy := true
		for _, c := range checks {
			ok := c.ok()
			status[c.name] = ok
			healthy = healthy && ok
		}
		if !healthy {
			ctx.StopWithJSON(http.StatusServiceUnavailable, iris.Map{
				"code": http.StatusServiceUnavailable,
				"msg":  "degraded",
				"data": status,
			})
			return
		}
		ctx.JSON(iris.Map{
			"code": 0,
			"msg":  "ok",
			"data": status,
		})
	})

	// 监控统计
	api.Get("/stats", func(ctx iris.Context) {
		ctx.JSON(iris.Map{
			"code": 0,
			"data": service.GetMonitor().GetStats(),
		})
	})

	app.Get("/metrics", iris.FromStd(promhttp.Handler()))
}

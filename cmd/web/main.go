package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/kataras/iris/v12"
	"go.uber.org/zap"

	"github.com/example/localhunt/internal/config"
	"github.com/example/localhunt/internal/logger"
	"github.com/example/localhunt/internal/server"
)

func main() {
	configPath := flag.String("config", "", "yaml config file (falls back to CONFIG_PATH)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	l, err := logger.Init(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = l.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := iris.New()
	chatSvc := server.RegisterRoutes(ctx, app, cfg)

	// 优雅退出：先停止接收请求，再等待进行中的广播
	iris.RegisterOnInterrupt(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := app.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("shutdown failed", zap.Error(err))
		}
		chatSvc.Drain()
	})

	addr := cfg.Server.Addr()
	zap.L().Info("web server listening", zap.String("addr", addr))
	if err := app.Run(iris.Addr(addr), iris.WithoutInterruptHandler); err != nil && !errors.Is(err, iris.ErrServerClosed) {
		zap.L().Fatal("failed to run web server", zap.Error(err))
	}
}

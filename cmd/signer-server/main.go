package main

import (
	"context"

	"signer-core/internal/bootstrap"
	"signer-core/internal/handler"
	"signer-core/internal/server"
	"signer-core/pkg/config"
	"signer-core/pkg/logger"
	"signer-core/pkg/validator"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 2. 注册自定义校验规则
	validator.Init()

	// 3. 设备管理器 (模拟器或 USB HID)
	manager, err := bootstrap.NewManager(cfg)
	if err != nil {
		logger.Fatal("初始化设备传输层失败", zap.Error(err))
	}
	logger.Info("设备传输层就绪", zap.String("transport", cfg.Device.Transport))

	// 4. 各链服务
	services, err := bootstrap.NewServices(context.Background(), cfg, manager)
	if err != nil {
		logger.Fatal("初始化链服务失败", zap.Error(err))
	}
	registry := services.Registry()

	// 5. HTTP Router
	r := server.NewHTTPRouter(server.RouterConfig{
		Signer:    handler.NewSignerHandler(registry),
		RateLimit: cfg.App.RateLimit,
		RateBurst: cfg.App.RateBurst,
	})

	// 6. 启动应用
	app := server.New(server.Config{HttpPort: cfg.App.HttpPort, ShutdownTimeout: cfg.Device.ConnectTimeout}, r)
	app.OnShutdown(func(ctx context.Context) {
		// 退出前断开所有设备会话
		registry.DisconnectAll(ctx)
		manager.Close(ctx)
	})

	// 运行 (阻塞)
	app.Run()
	logger.Info("系统已退出")
}

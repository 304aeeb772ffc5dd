package server

import (
	"signer-core/internal/handler"
	"signer-core/internal/handler/response"
	"signer-core/internal/server/routes"
	"signer-core/pkg/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig 路由依赖
type RouterConfig struct {
	Signer    *handler.SignerHandler
	RateLimit float64
	RateBurst int
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(cfg RouterConfig) *gin.Engine {
	// 0. 初始化监控指标
	monitor.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 注册 API 路由组，设备操作限流
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		device := api.Group("", RateLimit(cfg.RateLimit, cfg.RateBurst))
		routes.RegisterSignerRoutes(device, cfg.Signer)
	}

	return r
}

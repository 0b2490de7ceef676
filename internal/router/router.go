package router

import (
	"fmt"
	"strings"

	"github.com/keystock/internal/cache"
	"github.com/keystock/internal/config"
	"github.com/keystock/internal/constants"
	adminhandlers "github.com/keystock/internal/http/handlers/admin"
	publichandlers "github.com/keystock/internal/http/handlers/public"
	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redisClient := cache.Client()
	orderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:order", redisPrefix),
		WindowSeconds: cfg.Security.OrderRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.OrderRateLimit.MaxRequests,
		BlockSeconds:  cfg.Security.OrderRateLimit.BlockSeconds,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口（游客下单、查单）
		public := apiV1.Group("/public")
		{
			public.POST("/orders", RateLimitMiddleware(redisClient, orderRule, KeyByIPAndJSONField("email")), publicHandler.CreateGuestOrder)
			public.GET("/orders/:display_code", publicHandler.GetOrderByDisplayCode)
		}

		// 支付网关回调
		apiV1.POST("/payments/webhook", publicHandler.PaymentWebhook)

		// 管理员接口
		admin := apiV1.Group("/admin")
		admin.Use(AdminAuthMiddleware(cfg.Security.AdminToken))
		{
			// 商品管理
			admin.POST("/offers", adminHandler.CreateOffer)
			admin.GET("/offers", adminHandler.GetOffers)
			admin.GET("/offers/:id", adminHandler.GetOffer)

			// 卡密池管理
			admin.POST("/key-pools", adminHandler.CreateKeyPool)
			admin.POST("/keys/batch", adminHandler.UploadKeys)
			admin.GET("/keys", adminHandler.GetKeys)
			admin.GET("/keys/stats", adminHandler.GetKeyPoolStats)
			admin.POST("/keys/:id/reveal", adminHandler.RevealKey)
			admin.PUT("/keys/:id", adminHandler.UpdateKey)
			admin.POST("/keys/:id/invalidate", adminHandler.InvalidateKey)
			admin.GET("/keys/audit-logs", adminHandler.GetKeyAuditLogs)

			// 订单查阅
			admin.GET("/orders", adminHandler.GetOrders)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

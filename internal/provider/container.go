package provider

import (
	"github.com/keystock/internal/cache"
	"github.com/keystock/internal/config"
	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/queue"
	"github.com/keystock/internal/repository"
	"github.com/keystock/internal/service"
	"github.com/keystock/internal/vault"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client
	Vault       *vault.Vault

	// Repositories
	OfferRepo       repository.OfferRepository
	KeyPoolRepo     repository.KeyPoolRepository
	KeyRepo         repository.KeyRepository
	OrderRepo       repository.OrderRepository
	KeyAuditLogRepo repository.KeyAuditLogRepository

	// Services
	OfferService       *service.OfferService
	KeyPoolService     *service.KeyPoolService
	OrderService       *service.OrderService
	FulfillmentService *service.FulfillmentService
}

// NewContainer 初始化容器。密钥缺失或长度不对时直接 panic：
// 加密钥匙配置错误的进程不允许起来。
func NewContainer(cfg *config.Config) *Container {
	keyMaterial, err := cfg.Vault.KeyBytes()
	if err != nil {
		logger.Errorw("provider_vault_key_invalid", "error", err)
		panic(err)
	}
	v, err := vault.New(keyMaterial)
	if err != nil {
		logger.Errorw("provider_init_vault_failed", "error", err)
		panic(err)
	}

	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
		Vault:       v,
	}
	c.initRepositories()
	c.initServices()
	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.OfferRepo = repository.NewOfferRepository(db)
	c.KeyPoolRepo = repository.NewKeyPoolRepository(db)
	c.KeyRepo = repository.NewKeyRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.KeyAuditLogRepo = repository.NewKeyAuditLogRepository(db)
}

func (c *Container) initServices() {
	c.OfferService = service.NewOfferService(c.OfferRepo)
	c.KeyPoolService = service.NewKeyPoolService(c.KeyPoolRepo, c.KeyRepo, c.OfferRepo, c.OrderRepo, c.KeyAuditLogRepo, c.Vault)
	c.OrderService = service.NewOrderService(c.OrderRepo, c.OfferRepo, c.KeyRepo, c.Vault, c.QueueClient, c.Config.Order.PaymentExpireMinutes)
	c.FulfillmentService = service.NewFulfillmentService(c.OrderRepo, c.OfferRepo, c.KeyPoolRepo, c.KeyRepo, c.KeyPoolService, c.QueueClient)
}

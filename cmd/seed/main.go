package main

import (
	"fmt"

	"github.com/keystock/internal/config"
	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/repository"
	"github.com/keystock/internal/service"
	"github.com/keystock/internal/vault"

	"github.com/shopspring/decimal"
)

// 开发环境种子数据：一个自动发货商品（含卡密池和演示卡密）
// 和一个人工发货商品。重复执行安全。
func main() {
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()

	keyMaterial, err := cfg.Vault.KeyBytes()
	if err != nil {
		stdLog.Fatalf("vault key 配置错误: %v", err)
	}
	v, err := vault.New(keyMaterial)
	if err != nil {
		stdLog.Fatalf("vault 初始化失败: %v", err)
	}

	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("数据库连接失败: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("数据库迁移失败: %v", err)
	}

	offerRepo := repository.NewOfferRepository(models.DB)
	poolRepo := repository.NewKeyPoolRepository(models.DB)
	keyRepo := repository.NewKeyRepository(models.DB)
	orderRepo := repository.NewOrderRepository(models.DB)
	auditRepo := repository.NewKeyAuditLogRepository(models.DB)
	poolService := service.NewKeyPoolService(poolRepo, keyRepo, offerRepo, orderRepo, auditRepo, v)

	autoOffer := ensureOffer(stdLog, &models.Offer{
		OwnerID:      1,
		Title:        "演示游戏激活码",
		DeliveryType: constants.DeliveryTypeAutoKey,
		Price:        models.Money{Decimal: decimal.NewFromFloat(9.99)},
		Currency:     constants.SiteCurrencyDefault,
		Status:       constants.OfferStatusOnSale,
	})
	ensureOffer(stdLog, &models.Offer{
		OwnerID:                  1,
		Title:                    "演示人工代充服务",
		DeliveryType:             constants.DeliveryTypeManual,
		EstimatedDeliveryMinutes: 120,
		Price:                    models.Money{Decimal: decimal.NewFromFloat(29.99)},
		Currency:                 constants.SiteCurrencyDefault,
		Status:                   constants.OfferStatusOnSale,
	})
	if autoOffer == nil {
		return
	}

	pool, err := poolService.CreatePool(autoOffer.ID)
	if err != nil {
		stdLog.Fatalf("卡密池创建失败: %v", err)
	}
	stdLog.Printf("卡密池就绪: pool_id=%d offer_id=%d", pool.ID, autoOffer.ID)

	codes := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		codes = append(codes, fmt.Sprintf("DEMO-KEY-%04d", i))
	}
	result, err := poolService.UploadKeys(service.UploadKeysInput{
		PoolID:  pool.ID,
		Codes:   codes,
		ActorID: 1,
	})
	if err != nil {
		stdLog.Fatalf("演示卡密上传失败: %v", err)
	}
	stdLog.Printf("演示卡密上传完成: inserted=%d skipped=%d", result.InsertedCount, result.SkippedDuplicateCount)
}

func ensureOffer(stdLog interface{ Printf(string, ...interface{}) }, offer *models.Offer) *models.Offer {
	var existing models.Offer
	err := models.DB.Where("owner_id = ? AND title = ?", offer.OwnerID, offer.Title).First(&existing).Error
	if err == nil {
		stdLog.Printf("商品已存在: %s (id=%d)", existing.Title, existing.ID)
		return &existing
	}
	if err := models.DB.Create(offer).Error; err != nil {
		stdLog.Printf("商品创建失败 %s: %v", offer.Title, err)
		return nil
	}
	stdLog.Printf("商品已创建: %s (id=%d)", offer.Title, offer.ID)
	return offer
}

package service

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/repository"
	"github.com/keystock/internal/vault"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupKeyPoolServiceTest(t *testing.T) (*KeyPoolService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:key_pool_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Offer{},
		&models.KeyPool{},
		&models.Key{},
		&models.Order{},
		&models.KeyAuditLog{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db failed: %v", err)
	}
	// 共享内存库上并发写会互相锁表，单连接串行化即可
	sqlDB.SetMaxOpenConns(1)
	models.DB = db

	v, err := vault.New(bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("create vault failed: %v", err)
	}
	svc := NewKeyPoolService(
		repository.NewKeyPoolRepository(db),
		repository.NewKeyRepository(db),
		repository.NewOfferRepository(db),
		repository.NewOrderRepository(db),
		repository.NewKeyAuditLogRepository(db),
		v,
	)
	return svc, db
}

func createTestOffer(t *testing.T, db *gorm.DB, ownerID uint, deliveryType string) *models.Offer {
	t.Helper()
	now := time.Now()
	offer := &models.Offer{
		OwnerID:                  ownerID,
		Title:                    "Steam Gift Key",
		DeliveryType:             deliveryType,
		EstimatedDeliveryMinutes: 60,
		Price:                    models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
		Currency:                 constants.SiteCurrencyDefault,
		Status:                   constants.OfferStatusOnSale,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := db.Create(offer).Error; err != nil {
		t.Fatalf("create offer failed: %v", err)
	}
	return offer
}

func createTestOrder(t *testing.T, db *gorm.DB, offerID uint, status string) *models.Order {
	t.Helper()
	now := time.Now()
	code, err := GenerateDisplayCode()
	if err != nil {
		t.Fatalf("generate display code failed: %v", err)
	}
	order := &models.Order{
		DisplayCode: code,
		BuyerID:     1,
		OfferID:     offerID,
		Status:      status,
		Amount:      models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
		Currency:    constants.SiteCurrencyDefault,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if status == constants.OrderStatusPaid {
		order.PaidAt = &now
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return order
}

func uploadTestKeys(t *testing.T, svc *KeyPoolService, poolID uint, codes ...string) *UploadKeysResult {
	t.Helper()
	result, err := svc.UploadKeys(UploadKeysInput{PoolID: poolID, Codes: codes, ActorID: 1})
	if err != nil {
		t.Fatalf("upload keys failed: %v", err)
	}
	return result
}

func TestCreatePoolIdempotent(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)

	first, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	second, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("repeated create pool failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same pool, got %d and %d", first.ID, second.ID)
	}
}

func TestCreatePoolRejectsManualOffer(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeManual)

	if _, err := svc.CreatePool(offer.ID); !errors.Is(err, ErrOfferNotAutoKey) {
		t.Fatalf("expected ErrOfferNotAutoKey, got %v", err)
	}
}

func TestUploadKeysSkipsDuplicates(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}

	codes := make([]string, 0, 10)
	for i := 0; i < 9; i++ {
		codes = append(codes, fmt.Sprintf("KEY-%04d", i))
	}
	codes = append(codes, "KEY-0000")

	result := uploadTestKeys(t, svc, pool.ID, codes...)
	if result.InsertedCount != 9 {
		t.Fatalf("expected 9 inserted, got %d", result.InsertedCount)
	}
	if result.SkippedDuplicateCount != 1 {
		t.Fatalf("expected 1 skipped duplicate, got %d", result.SkippedDuplicateCount)
	}

	again := uploadTestKeys(t, svc, pool.ID, "KEY-0001", "KEY-0002", "KEY-NEW")
	if again.InsertedCount != 1 || again.SkippedDuplicateCount != 2 {
		t.Fatalf("unexpected re-upload result: %+v", again)
	}
}

func TestUploadKeysAbortsWholeBatchOnInvalidCode(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}

	oversize := make([]byte, constants.KeyCodeMaxLength+1)
	for i := range oversize {
		oversize[i] = 'A'
	}
	_, err = svc.UploadKeys(UploadKeysInput{
		PoolID: pool.ID,
		Codes:  []string{"KEY-GOOD-1", "KEY-GOOD-2", string(oversize)},
	})
	if !errors.Is(err, ErrKeyCodeInvalid) {
		t.Fatalf("expected ErrKeyCodeInvalid, got %v", err)
	}

	var count int64
	if err := db.Model(&models.Key{}).Where("pool_id = ?", pool.ID).Count(&count).Error; err != nil {
		t.Fatalf("count keys failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero insertions after aborted batch, got %d", count)
	}
}

func TestUploadKeysRejectsOversizeBatch(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}

	codes := make([]string, constants.KeyUploadMaxBatch+1)
	for i := range codes {
		codes[i] = fmt.Sprintf("KEY-%05d", i)
	}
	if _, err := svc.UploadKeys(UploadKeysInput{PoolID: pool.ID, Codes: codes}); !errors.Is(err, ErrKeyBatchTooLarge) {
		t.Fatalf("expected ErrKeyBatchTooLarge, got %v", err)
	}
	if _, err := svc.UploadKeys(UploadKeysInput{PoolID: pool.ID}); !errors.Is(err, ErrKeyBatchEmpty) {
		t.Fatalf("expected ErrKeyBatchEmpty, got %v", err)
	}
}

func TestReserveKeyFIFOAndIdempotent(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A", "KEY-B", "KEY-C")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	var oldest models.Key
	if err := db.Where("pool_id = ?", pool.ID).Order("created_at asc, id asc").First(&oldest).Error; err != nil {
		t.Fatalf("load oldest key failed: %v", err)
	}

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if reserved.ID != oldest.ID {
		t.Fatalf("expected oldest key %d, got %d", oldest.ID, reserved.ID)
	}
	if reserved.Status != constants.KeyStatusReserved {
		t.Fatalf("expected reserved status, got %s", reserved.Status)
	}

	again, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("repeated reserve failed: %v", err)
	}
	if again.ID != reserved.ID {
		t.Fatalf("expected idempotent reserve to return key %d, got %d", reserved.ID, again.ID)
	}

	stats, err := svc.ComputeStats(pool.ID)
	if err != nil {
		t.Fatalf("compute stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Available != 2 || stats.Reserved != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestReserveKeyOutOfStock(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	if _, err := svc.ReserveKeyForOrder(pool.ID, order.ID); !errors.Is(err, ErrKeyOutOfStock) {
		t.Fatalf("expected ErrKeyOutOfStock, got %v", err)
	}
}

func TestConcurrentReserveAssignsEachKeyOnce(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-1", "KEY-2", "KEY-3")

	const workers = 8
	orders := make([]*models.Order, workers)
	for i := range orders {
		orders[i] = createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)
	}

	type outcome struct {
		key *models.Key
		err error
	}
	results := make([]outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			key, err := svc.ReserveKeyForOrder(pool.ID, orders[idx].ID)
			results[idx] = outcome{key: key, err: err}
		}(i)
	}
	wg.Wait()

	assigned := make(map[uint]int)
	succeeded := 0
	for _, res := range results {
		if res.err == nil {
			succeeded++
			assigned[res.key.ID]++
			continue
		}
		if !errors.Is(res.err, ErrKeyOutOfStock) {
			t.Fatalf("expected ErrKeyOutOfStock for losers, got %v", res.err)
		}
	}
	if succeeded != 3 {
		t.Fatalf("expected exactly 3 successful reservations, got %d", succeeded)
	}
	for keyID, times := range assigned {
		if times != 1 {
			t.Fatalf("key %d assigned %d times", keyID, times)
		}
	}
}

func TestInvalidateReservedKeyReassignsOrder(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A", "KEY-B", "KEY-C")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.InvalidateKey(InvalidateKeyInput{KeyID: reserved.ID, OwnerID: 1}); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	var replacement models.Key
	if err := db.Where("reserved_order_id = ? AND status = ?", order.ID, constants.KeyStatusReserved).
		First(&replacement).Error; err != nil {
		t.Fatalf("expected order to be re-reserved: %v", err)
	}
	if replacement.ID == reserved.ID {
		t.Fatalf("expected a different key after reassign")
	}

	var updated models.Order
	if err := db.First(&updated, order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if updated.AssignedKeyID == nil || *updated.AssignedKeyID != replacement.ID {
		t.Fatalf("expected assigned key %d, got %+v", replacement.ID, updated.AssignedKeyID)
	}

	stats, err := svc.ComputeStats(pool.ID)
	if err != nil {
		t.Fatalf("compute stats failed: %v", err)
	}
	if stats.Total != 3 || stats.Available != 1 || stats.Reserved != 1 || stats.Invalid != 1 {
		t.Fatalf("unexpected stats after reassign: %+v", stats)
	}
}

func TestInvalidateReservedKeyOutOfStockBlocksOrder(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-ONLY")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.InvalidateKey(InvalidateKeyInput{KeyID: reserved.ID, OwnerID: 1}); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	var updated models.Order
	if err := db.First(&updated, order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if !updated.DeliveryBlocked {
		t.Fatalf("expected delivery blocked after out-of-stock reassign")
	}
	if updated.AssignedKeyID != nil {
		t.Fatalf("expected assigned key cleared, got %d", *updated.AssignedKeyID)
	}
	if updated.Status != constants.OrderStatusPaid {
		t.Fatalf("expected order to stay paid, got %s", updated.Status)
	}
}

func TestInvalidateDeliveredKeyRejected(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.MarkDelivered(reserved.ID); err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if err := svc.InvalidateKey(InvalidateKeyInput{KeyID: reserved.ID, OwnerID: 1}); !errors.Is(err, ErrKeyStateInvalid) {
		t.Fatalf("expected ErrKeyStateInvalid for delivered key, got %v", err)
	}
}

func TestReleaseReservationReturnsKeyToPool(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A", "KEY-B")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.ReleaseReservation(order.ID); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	var key models.Key
	if err := db.First(&key, reserved.ID).Error; err != nil {
		t.Fatalf("reload key failed: %v", err)
	}
	if key.Status != constants.KeyStatusAvailable || key.ReservedOrderID != nil {
		t.Fatalf("expected key back to available, got %+v", key)
	}

	// 重复释放与无占用释放都是无害空操作
	if err := svc.ReleaseReservation(order.ID); err != nil {
		t.Fatalf("redundant release failed: %v", err)
	}

	stats, err := svc.ComputeStats(pool.ID)
	if err != nil {
		t.Fatalf("compute stats failed: %v", err)
	}
	if stats.Total != 2 || stats.Available != 2 || stats.Reserved != 0 {
		t.Fatalf("unexpected stats after release: %+v", stats)
	}
}

func TestReleaseReservationNeverTouchesDeliveredKey(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.MarkDelivered(reserved.ID); err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if err := svc.ReleaseReservation(order.ID); err != nil {
		t.Fatalf("release after delivery should be a no-op, got %v", err)
	}

	var key models.Key
	if err := db.First(&key, reserved.ID).Error; err != nil {
		t.Fatalf("reload key failed: %v", err)
	}
	if key.Status != constants.KeyStatusDelivered {
		t.Fatalf("expected delivered key untouched, got %s", key.Status)
	}
}

func TestMarkDeliveredRequiresReservedState(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A")

	var key models.Key
	if err := db.Where("pool_id = ?", pool.ID).First(&key).Error; err != nil {
		t.Fatalf("load key failed: %v", err)
	}
	if err := svc.MarkDelivered(key.ID); !errors.Is(err, ErrKeyStateInvalid) {
		t.Fatalf("expected ErrKeyStateInvalid for available key, got %v", err)
	}
	if err := svc.MarkDelivered(99999); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestEditKeyOnlyWhileAvailable(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "KEY-A", "KEY-B")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	var key models.Key
	if err := db.Where("pool_id = ? AND status = ?", pool.ID, constants.KeyStatusAvailable).
		Order("id asc").First(&key).Error; err != nil {
		t.Fatalf("load key failed: %v", err)
	}

	result, err := svc.EditKey(EditKeyInput{KeyID: key.ID, NewCode: "KEY-EDITED-12345", OwnerID: 1})
	if err != nil {
		t.Fatalf("edit key failed: %v", err)
	}
	if result.MaskedCode != vault.Mask("KEY-EDITED-12345") {
		t.Fatalf("unexpected masked code: %s", result.MaskedCode)
	}

	reserved, err := svc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := svc.EditKey(EditKeyInput{KeyID: reserved.ID, NewCode: "KEY-NOPE", OwnerID: 1}); !errors.Is(err, ErrKeyStateInvalid) {
		t.Fatalf("expected ErrKeyStateInvalid for reserved key, got %v", err)
	}
}

func TestRevealKeyEnforcesOwnershipAndAudits(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "STEAM-ABCD-EFGH")

	var key models.Key
	if err := db.Where("pool_id = ?", pool.ID).First(&key).Error; err != nil {
		t.Fatalf("load key failed: %v", err)
	}

	result, err := svc.RevealKey(RevealKeyInput{KeyID: key.ID, OwnerID: 1, RequestID: "req-1"})
	if err != nil {
		t.Fatalf("reveal failed: %v", err)
	}
	if result.Code != "STEAM-ABCD-EFGH" {
		t.Fatalf("unexpected plaintext: %s", result.Code)
	}

	if _, err := svc.RevealKey(RevealKeyInput{KeyID: key.ID, OwnerID: 99}); !errors.Is(err, ErrPoolOwnershipInvalid) {
		t.Fatalf("expected ErrPoolOwnershipInvalid, got %v", err)
	}

	var auditCount int64
	if err := db.Model(&models.KeyAuditLog{}).
		Where("pool_id = ? AND action = ?", pool.ID, constants.KeyAuditActionReveal).
		Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit logs failed: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("expected 1 reveal audit entry, got %d", auditCount)
	}
}

func TestListKeysReturnsMaskedCodes(t *testing.T) {
	svc, db := setupKeyPoolServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := svc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, svc, pool.ID, "STEAM-ABCD-EFGH")

	items, total, err := svc.ListKeys(ListKeysInput{PoolID: pool.ID, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list keys failed: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("unexpected list result: total=%d len=%d", total, len(items))
	}
	if items[0].MaskedCode != "***********EFGH" {
		t.Fatalf("unexpected masked code: %s", items[0].MaskedCode)
	}
}

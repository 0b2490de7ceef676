package service

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/repository"
	"github.com/keystock/internal/vault"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupFulfillmentServiceTest(t *testing.T) (*FulfillmentService, *KeyPoolService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:fulfillment_service_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
	sqlDB.SetMaxOpenConns(1)
	models.DB = db

	v, err := vault.New(bytes.Repeat([]byte{0x24}, 32))
	if err != nil {
		t.Fatalf("create vault failed: %v", err)
	}
	poolRepo := repository.NewKeyPoolRepository(db)
	keyRepo := repository.NewKeyRepository(db)
	offerRepo := repository.NewOfferRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	poolSvc := NewKeyPoolService(poolRepo, keyRepo, offerRepo, orderRepo,
		repository.NewKeyAuditLogRepository(db), v)
	fulfillSvc := NewFulfillmentService(orderRepo, offerRepo, poolRepo, keyRepo, poolSvc, nil)
	return fulfillSvc, poolSvc, db
}

func TestOnOrderPaidDeliversAutoKey(t *testing.T) {
	fulfillSvc, poolSvc, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := poolSvc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, poolSvc, pool.ID, "KEY-FIRST", "KEY-SECOND")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPendingPayment)

	if err := fulfillSvc.OnOrderPaid(order.ID); err != nil {
		t.Fatalf("on order paid failed: %v", err)
	}

	var updated models.Order
	if err := db.First(&updated, order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if updated.Status != constants.OrderStatusFulfilled {
		t.Fatalf("expected fulfilled order, got %s", updated.Status)
	}
	if updated.AssignedKeyID == nil {
		t.Fatalf("expected assigned key on fulfilled order")
	}
	if updated.DeliveryBlocked {
		t.Fatalf("expected delivery not blocked")
	}

	var key models.Key
	if err := db.First(&key, *updated.AssignedKeyID).Error; err != nil {
		t.Fatalf("reload key failed: %v", err)
	}
	if key.Status != constants.KeyStatusDelivered {
		t.Fatalf("expected delivered key, got %s", key.Status)
	}
	if key.ReservedOrderID == nil || *key.ReservedOrderID != order.ID {
		t.Fatalf("expected key bound to order %d, got %+v", order.ID, key.ReservedOrderID)
	}

	stats, err := poolSvc.ComputeStats(pool.ID)
	if err != nil {
		t.Fatalf("compute stats failed: %v", err)
	}
	if stats.Available != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats after delivery: %+v", stats)
	}

	var deliverAudit int64
	if err := db.Model(&models.KeyAuditLog{}).
		Where("pool_id = ? AND action = ?", pool.ID, constants.KeyAuditActionDeliver).
		Count(&deliverAudit).Error; err != nil {
		t.Fatalf("count audit logs failed: %v", err)
	}
	if deliverAudit != 1 {
		t.Fatalf("expected 1 deliver audit entry, got %d", deliverAudit)
	}
}

func TestOnOrderPaidToleratesDuplicateCallback(t *testing.T) {
	fulfillSvc, poolSvc, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := poolSvc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, poolSvc, pool.ID, "KEY-A", "KEY-B")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPendingPayment)

	if err := fulfillSvc.OnOrderPaid(order.ID); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if err := fulfillSvc.OnOrderPaid(order.ID); err != nil {
		t.Fatalf("duplicate callback failed: %v", err)
	}

	var deliveredCount int64
	if err := db.Model(&models.Key{}).
		Where("pool_id = ? AND status = ?", pool.ID, constants.KeyStatusDelivered).
		Count(&deliveredCount).Error; err != nil {
		t.Fatalf("count delivered keys failed: %v", err)
	}
	if deliveredCount != 1 {
		t.Fatalf("expected exactly 1 delivered key after duplicate callback, got %d", deliveredCount)
	}
}

func TestOnOrderPaidOutOfStockKeepsOrderPaid(t *testing.T) {
	fulfillSvc, poolSvc, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	if _, err := poolSvc.CreatePool(offer.ID); err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPendingPayment)

	if err := fulfillSvc.OnOrderPaid(order.ID); err != nil {
		t.Fatalf("on order paid should not fail on empty pool: %v", err)
	}

	var updated models.Order
	if err := db.First(&updated, order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if updated.Status != constants.OrderStatusPaid {
		t.Fatalf("paid order must stay paid on out-of-stock, got %s", updated.Status)
	}
	if !updated.DeliveryBlocked {
		t.Fatalf("expected delivery blocked flag")
	}
	if updated.PaidAt == nil {
		t.Fatalf("expected paid_at set")
	}
}

func TestOnOrderPaidManualSetsSLADueAt(t *testing.T) {
	fulfillSvc, _, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeManual)
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPendingPayment)

	if err := fulfillSvc.OnOrderPaid(order.ID); err != nil {
		t.Fatalf("on order paid failed: %v", err)
	}

	var updated models.Order
	if err := db.First(&updated, order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if updated.Status != constants.OrderStatusPaid {
		t.Fatalf("expected paid status for manual offer, got %s", updated.Status)
	}
	if updated.SLADueAt == nil || updated.PaidAt == nil {
		t.Fatalf("expected sla_due_at and paid_at set")
	}
	expected := updated.PaidAt.Add(time.Duration(offer.EstimatedDeliveryMinutes) * time.Minute)
	if diff := updated.SLADueAt.Sub(expected); diff < -time.Second || diff > time.Second {
		t.Fatalf("unexpected sla_due_at: got %v want %v", updated.SLADueAt, expected)
	}
}

func TestOnOrderPaidRejectsClosedOrder(t *testing.T) {
	fulfillSvc, _, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusCanceled)

	if err := fulfillSvc.OnOrderPaid(order.ID); !errors.Is(err, ErrOrderStatusInvalid) {
		t.Fatalf("expected ErrOrderStatusInvalid, got %v", err)
	}
}

func TestOnOrderCancelledReleasesReservation(t *testing.T) {
	fulfillSvc, poolSvc, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := poolSvc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, poolSvc, pool.ID, "KEY-A", "KEY-B")
	order := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)

	reserved, err := poolSvc.ReserveKeyForOrder(pool.ID, order.ID)
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	before, err := poolSvc.ComputeStats(pool.ID)
	if err != nil {
		t.Fatalf("compute stats failed: %v", err)
	}

	if err := fulfillSvc.OnOrderCancelled(order.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	var updated models.Order
	if err := db.First(&updated, order.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if updated.Status != constants.OrderStatusCanceled {
		t.Fatalf("expected canceled order, got %s", updated.Status)
	}

	var key models.Key
	if err := db.First(&key, reserved.ID).Error; err != nil {
		t.Fatalf("reload key failed: %v", err)
	}
	if key.Status != constants.KeyStatusAvailable || key.ReservedOrderID != nil {
		t.Fatalf("expected released key, got %+v", key)
	}

	after, err := poolSvc.ComputeStats(pool.ID)
	if err != nil {
		t.Fatalf("compute stats failed: %v", err)
	}
	if after.Total != before.Total {
		t.Fatalf("total must not change on release: before=%d after=%d", before.Total, after.Total)
	}
	if after.Available != before.Available+1 || after.Reserved != before.Reserved-1 {
		t.Fatalf("unexpected stats after release: before=%+v after=%+v", before, after)
	}

	var releaseAudit int64
	if err := db.Model(&models.KeyAuditLog{}).
		Where("pool_id = ? AND action = ?", pool.ID, constants.KeyAuditActionRelease).
		Count(&releaseAudit).Error; err != nil {
		t.Fatalf("count audit logs failed: %v", err)
	}
	if releaseAudit != 1 {
		t.Fatalf("expected 1 release audit entry, got %d", releaseAudit)
	}
}

func TestOnOrderExpiredOnlyClosesPendingOrders(t *testing.T) {
	fulfillSvc, poolSvc, db := setupFulfillmentServiceTest(t)
	offer := createTestOffer(t, db, 1, constants.DeliveryTypeAutoKey)
	pool, err := poolSvc.CreatePool(offer.ID)
	if err != nil {
		t.Fatalf("create pool failed: %v", err)
	}
	uploadTestKeys(t, poolSvc, pool.ID, "KEY-A")

	pending := createTestOrder(t, db, offer.ID, constants.OrderStatusPendingPayment)
	if err := fulfillSvc.OnOrderExpired(pending.ID); err != nil {
		t.Fatalf("expire pending failed: %v", err)
	}
	var expired models.Order
	if err := db.First(&expired, pending.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if expired.Status != constants.OrderStatusExpired {
		t.Fatalf("expected expired order, got %s", expired.Status)
	}

	paid := createTestOrder(t, db, offer.ID, constants.OrderStatusPaid)
	if err := fulfillSvc.OnOrderExpired(paid.ID); err != nil {
		t.Fatalf("expire on paid order should be a no-op, got %v", err)
	}
	var stillPaid models.Order
	if err := db.First(&stillPaid, paid.ID).Error; err != nil {
		t.Fatalf("reload order failed: %v", err)
	}
	if stillPaid.Status != constants.OrderStatusPaid {
		t.Fatalf("paid order must survive a late timeout, got %s", stillPaid.Status)
	}
}

func TestComputeOverdue(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	cases := []struct {
		name  string
		order *models.Order
		want  bool
	}{
		{"nil order", nil, false},
		{"paid past due", &models.Order{Status: constants.OrderStatusPaid, SLADueAt: &past}, true},
		{"paid not yet due", &models.Order{Status: constants.OrderStatusPaid, SLADueAt: &future}, false},
		{"paid without sla", &models.Order{Status: constants.OrderStatusPaid}, false},
		{"fulfilled past due", &models.Order{Status: constants.OrderStatusFulfilled, SLADueAt: &past}, false},
		{"pending past due", &models.Order{Status: constants.OrderStatusPendingPayment, SLADueAt: &past}, false},
		{"canceled past due", &models.Order{Status: constants.OrderStatusCanceled, SLADueAt: &past}, false},
	}
	for _, tc := range cases {
		if got := ComputeOverdue(tc.order, now); got != tc.want {
			t.Fatalf("%s: ComputeOverdue = %v, want %v", tc.name, got, tc.want)
		}
	}
}

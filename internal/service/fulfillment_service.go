package service

import (
	"errors"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/queue"
	"github.com/keystock/internal/repository"

	"gorm.io/gorm"
)

// FulfillmentService 订单交付协调服务。
// 把支付确认/取消/超时事件翻译成卡密占用与释放。
type FulfillmentService struct {
	orderRepo   repository.OrderRepository
	offerRepo   repository.OfferRepository
	poolRepo    repository.KeyPoolRepository
	keyRepo     repository.KeyRepository
	poolService *KeyPoolService
	queueClient *queue.Client
}

// NewFulfillmentService 创建交付协调服务
func NewFulfillmentService(
	orderRepo repository.OrderRepository,
	offerRepo repository.OfferRepository,
	poolRepo repository.KeyPoolRepository,
	keyRepo repository.KeyRepository,
	poolService *KeyPoolService,
	queueClient *queue.Client,
) *FulfillmentService {
	return &FulfillmentService{
		orderRepo:   orderRepo,
		offerRepo:   offerRepo,
		poolRepo:    poolRepo,
		keyRepo:     keyRepo,
		poolService: poolService,
		queueClient: queueClient,
	}
}

// OnOrderPaid 支付确认入口。回调至少一次投递，必须容忍重复调用。
// auto_key 商品在单个事务里完成占用+交付+订单完结；缺货时订单保持
// paid 并标记 delivery_blocked，支付成功绝不因交付失败被回滚。
// manual 商品只计算 SLA 截止时间，交付留给卖家显式操作。
func (s *FulfillmentService) OnOrderPaid(orderID uint) error {
	if orderID == 0 {
		return ErrInvalidRequest
	}
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return ErrOrderFetchFailed
	}
	if order == nil {
		return ErrOrderNotFound
	}
	switch order.Status {
	case constants.OrderStatusFulfilled:
		return nil
	case constants.OrderStatusCanceled, constants.OrderStatusExpired:
		return ErrOrderStatusInvalid
	}

	now := time.Now()
	paidAt := now
	if order.Status == constants.OrderStatusPendingPayment {
		affected, err := s.orderRepo.MarkPaid(orderID, now)
		if err != nil {
			return ErrOrderUpdateFailed
		}
		if affected == 0 {
			// 并发回调抢先落了 paid，重读后继续走交付
			order, err = s.orderRepo.GetByID(orderID)
			if err != nil || order == nil {
				return ErrOrderFetchFailed
			}
			if order.Status == constants.OrderStatusFulfilled {
				return nil
			}
			if order.Status != constants.OrderStatusPaid {
				return ErrOrderStatusInvalid
			}
		}
	}
	if order.PaidAt != nil {
		paidAt = *order.PaidAt
	}

	offer, err := s.offerRepo.GetByID(order.OfferID)
	if err != nil {
		return ErrOfferFetchFailed
	}
	if offer == nil {
		return ErrOfferNotFound
	}

	if offer.DeliveryType == constants.DeliveryTypeManual {
		dueAt := paidAt.Add(time.Duration(offer.EstimatedDeliveryMinutes) * time.Minute)
		if err := s.orderRepo.SetSLADueAt(orderID, dueAt, now); err != nil {
			return ErrOrderUpdateFailed
		}
		logger.Infow("order_manual_sla_set",
			"order_id", orderID,
			"display_code", order.DisplayCode,
			"sla_due_at", dueAt,
		)
		return nil
	}

	return s.deliverAutoKey(order, now)
}

// deliverAutoKey 占用并交付一条卡密，三步同事务：
// 占用 -> 交付 -> 订单 fulfilled。任一步失败整体回滚，订单留在 paid。
func (s *FulfillmentService) deliverAutoKey(order *models.Order, now time.Time) error {
	pool, err := s.poolRepo.GetByOfferID(order.OfferID)
	if err != nil {
		return ErrKeyPoolFetchFailed
	}
	if pool == nil {
		// 从未上传过卡密的商品等同缺货
		return s.blockDelivery(order, now)
	}

	var deliveredKeyID uint
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		keyRepo := s.keyRepo.WithTx(tx)
		orderRepo := s.orderRepo.WithTx(tx)

		key, err := s.poolService.reserveKey(keyRepo, pool.ID, order.ID, now)
		if err != nil {
			return err
		}
		if key.Status == constants.KeyStatusReserved {
			affected, err := keyRepo.MarkDelivered(key.ID, now)
			if err != nil {
				return ErrKeyUpdateFailed
			}
			if affected == 0 {
				return ErrKeyStateInvalid
			}
		}
		if _, err := orderRepo.MarkFulfilled(order.ID, key.ID, now); err != nil {
			return ErrOrderUpdateFailed
		}
		deliveredKeyID = key.ID
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrKeyOutOfStock) {
			return s.blockDelivery(order, now)
		}
		switch {
		case errors.Is(err, ErrKeyReserveConflict):
			return ErrKeyReserveConflict
		case errors.Is(err, ErrKeyStateInvalid):
			return ErrKeyStateInvalid
		default:
			return ErrOrderUpdateFailed
		}
	}

	logger.Infow("order_auto_key_delivered",
		"order_id", order.ID,
		"display_code", order.DisplayCode,
		"key_id", deliveredKeyID,
	)
	s.poolService.writeAudit(&models.KeyAuditLog{
		PoolID:  pool.ID,
		KeyID:   &deliveredKeyID,
		OrderID: &order.ID,
		Action:  constants.KeyAuditActionDeliver,
	})
	if s.queueClient != nil {
		if err := s.queueClient.EnqueueOrderDeliveryNote(queue.OrderDeliveryNotePayload{
			OrderID:     order.ID,
			DisplayCode: order.DisplayCode,
			Delivered:   true,
		}); err != nil {
			logger.Warnw("order_delivery_note_enqueue_failed",
				"order_id", order.ID,
				"error", err,
			)
		}
	}
	return nil
}

// blockDelivery 缺货路径：订单保持 paid，仅标记交付阻塞待人工处理
func (s *FulfillmentService) blockDelivery(order *models.Order, now time.Time) error {
	if err := s.orderRepo.SetDeliveryBlocked(order.ID, true, now); err != nil {
		return ErrOrderUpdateFailed
	}
	logger.Warnw("order_delivery_blocked_out_of_stock",
		"order_id", order.ID,
		"display_code", order.DisplayCode,
		"offer_id", order.OfferID,
	)
	if s.queueClient != nil {
		if err := s.queueClient.EnqueueOrderDeliveryNote(queue.OrderDeliveryNotePayload{
			OrderID:     order.ID,
			DisplayCode: order.DisplayCode,
			Delivered:   false,
		}); err != nil {
			logger.Warnw("order_delivery_note_enqueue_failed",
				"order_id", order.ID,
				"error", err,
			)
		}
	}
	return nil
}

// OnOrderCancelled 取消订单。持有未交付卡密时一并释放回库。
func (s *FulfillmentService) OnOrderCancelled(orderID uint) error {
	return s.closeOrder(orderID,
		[]string{constants.OrderStatusPendingPayment, constants.OrderStatusPaid},
		constants.OrderStatusCanceled,
	)
}

// OnOrderExpired 支付超时关单。仅对 pending_payment 生效：
// 超时任务触发时订单已支付则无害跳过。
func (s *FulfillmentService) OnOrderExpired(orderID uint) error {
	return s.closeOrder(orderID,
		[]string{constants.OrderStatusPendingPayment},
		constants.OrderStatusExpired,
	)
}

func (s *FulfillmentService) closeOrder(orderID uint, fromStatuses []string, toStatus string) error {
	if orderID == 0 {
		return ErrInvalidRequest
	}
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return ErrOrderFetchFailed
	}
	if order == nil {
		return ErrOrderNotFound
	}

	closed := false
	var releasedKey *models.Key
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		keyRepo := s.keyRepo.WithTx(tx)
		now := time.Now()

		affected, err := orderRepo.CloseFrom(orderID, fromStatuses, toStatus, now)
		if err != nil {
			return ErrOrderUpdateFailed
		}
		if affected == 0 {
			// 已是终态或状态不允许关单，保持幂等
			return nil
		}
		closed = true

		held, err := keyRepo.GetAssignedToOrder(orderID)
		if err != nil {
			return ErrKeyFetchFailed
		}
		released, err := keyRepo.ReleaseByOrder(orderID)
		if err != nil {
			return ErrKeyUpdateFailed
		}
		if released > 0 {
			if err := orderRepo.SetAssignedKey(orderID, nil, now); err != nil {
				return ErrOrderUpdateFailed
			}
			releasedKey = held
		}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyUpdateFailed):
			return ErrKeyUpdateFailed
		case errors.Is(err, ErrKeyFetchFailed):
			return ErrKeyFetchFailed
		default:
			return ErrOrderUpdateFailed
		}
	}
	if releasedKey != nil {
		s.poolService.writeAudit(&models.KeyAuditLog{
			PoolID:  releasedKey.PoolID,
			KeyID:   &releasedKey.ID,
			OrderID: &orderID,
			Action:  constants.KeyAuditActionRelease,
		})
	}
	if closed {
		logger.Infow("order_closed",
			"order_id", orderID,
			"display_code", order.DisplayCode,
			"status", toStatus,
		)
	}
	return nil
}

// ComputeOverdue 判定人工交付是否逾期。纯函数，永不落库：
// 只有 paid 且设置了 SLA 截止时间的订单才可能逾期。
func ComputeOverdue(order *models.Order, now time.Time) bool {
	if order == nil {
		return false
	}
	if order.Status != constants.OrderStatusPaid {
		return false
	}
	if order.SLADueAt == nil {
		return false
	}
	return now.After(*order.SLADueAt)
}

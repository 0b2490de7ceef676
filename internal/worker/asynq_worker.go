package worker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/provider"
	"github.com/keystock/internal/queue"
	"github.com/keystock/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskOrderTimeoutCancel, c.handleOrderTimeoutCancel)
	mux.HandleFunc(queue.TaskOrderDeliveryNote, c.handleOrderDeliveryNote)
}

// handleOrderTimeoutCancel 支付窗口耗尽后关闭仍未支付的订单。
// 任务触发时订单可能早已支付，协调器对这种情况做无害跳过。
func (c *Consumer) handleOrderTimeoutCancel(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_order_timeout_cancel_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.OrderTimeoutCancelPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_timeout_cancel_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		logger.Debugw("worker_order_timeout_cancel_skip_invalid_payload", "order_id", payload.OrderID)
		return nil
	}
	if c.FulfillmentService == nil {
		logger.Warnw("worker_order_timeout_cancel_skip_service_nil", "order_id", payload.OrderID)
		return nil
	}
	if err := c.FulfillmentService.OnOrderExpired(payload.OrderID); err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			logger.Debugw("worker_order_timeout_cancel_skip_order_not_found", "order_id", payload.OrderID)
			return nil
		}
		logger.Warnw("worker_order_timeout_cancel_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	return nil
}

// handleOrderDeliveryNote 买家侧交付通知。当前通道是结构化日志，
// 邮件/IM 通道接入时在这里分发。
func (c *Consumer) handleOrderDeliveryNote(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_order_delivery_note_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.OrderDeliveryNotePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_order_delivery_note_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		logger.Debugw("worker_order_delivery_note_skip_invalid_payload", "order_id", payload.OrderID)
		return nil
	}
	order, err := c.OrderRepo.GetByID(payload.OrderID)
	if err != nil {
		logger.Warnw("worker_order_delivery_note_fetch_order_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	if order == nil {
		logger.Debugw("worker_order_delivery_note_skip_order_not_found", "order_id", payload.OrderID)
		return nil
	}
	if payload.Delivered {
		logger.Infow("order_delivery_note",
			"order_id", order.ID,
			"display_code", order.DisplayCode,
			"guest_email", order.GuestEmail,
			"delivered", true,
		)
		return nil
	}
	logger.Warnw("order_delivery_note_pending",
		"order_id", order.ID,
		"display_code", order.DisplayCode,
		"guest_email", order.GuestEmail,
		"delivered", false,
	)
	return nil
}

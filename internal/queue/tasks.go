package queue

import (
	"encoding/json"

	"github.com/keystock/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderTimeoutCancel 待支付订单超时取消任务
	TaskOrderTimeoutCancel = constants.TaskOrderTimeoutCancel
	// TaskOrderDeliveryNote 交付通知任务
	TaskOrderDeliveryNote = constants.TaskOrderDeliveryNote
)

// OrderTimeoutCancelPayload 超时取消任务载荷
type OrderTimeoutCancelPayload struct {
	OrderID uint `json:"order_id"`
}

// OrderDeliveryNotePayload 交付通知任务载荷
type OrderDeliveryNotePayload struct {
	OrderID     uint   `json:"order_id"`
	DisplayCode string `json:"display_code"`
	Delivered   bool   `json:"delivered"`
}

// NewOrderTimeoutCancelTask 创建超时取消任务
func NewOrderTimeoutCancelTask(payload OrderTimeoutCancelPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderTimeoutCancel, body), nil
}

// NewOrderDeliveryNoteTask 创建交付通知任务
func NewOrderDeliveryNoteTask(payload OrderDeliveryNotePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrderDeliveryNote, body), nil
}

package public

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/keystock/internal/cache"
	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/http/response"
	"github.com/keystock/internal/service"

	"github.com/gin-gonic/gin"
)

const webhookSecretHeader = "X-Webhook-Secret"

// PaymentWebhookRequest 支付网关回调载荷
type PaymentWebhookRequest struct {
	EventID     string `json:"event_id" binding:"required"`
	EventType   string `json:"event_type" binding:"required"`
	DisplayCode string `json:"display_code" binding:"required"`
}

// PaymentWebhook 支付网关回调入口。
// 回调至少一次投递：事件号去重 + 订单状态机幂等，两层兜底。
func (h *Handler) PaymentWebhook(c *gin.Context) {
	log := requestLog(c)

	secret := strings.TrimSpace(h.Config.Security.WebhookSecret)
	if secret == "" {
		log.Errorw("payment_webhook_secret_missing")
		respondError(c, response.CodeUnauthorized, "webhook secret not configured", nil)
		return
	}
	provided := strings.TrimSpace(c.GetHeader(webhookSecretHeader))
	if subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) != 1 {
		log.Warnw("payment_webhook_secret_mismatch", "client_ip", c.ClientIP())
		respondError(c, response.CodeUnauthorized, "webhook secret invalid", nil)
		return
	}

	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnw("payment_webhook_payload_invalid", "error", err)
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	first, err := cache.MarkWebhookEvent(c.Request.Context(), req.EventID)
	if err != nil {
		log.Warnw("payment_webhook_dedupe_unavailable", "event_id", req.EventID, "error", err)
		first = true
	}
	if !first {
		log.Infow("payment_webhook_duplicate_dropped",
			"event_id", req.EventID,
			"event_type", req.EventType,
		)
		response.Success(c, gin.H{"accepted": true, "duplicate": true})
		return
	}

	order, err := h.OrderRepo.GetByDisplayCode(strings.TrimSpace(req.DisplayCode))
	if err != nil {
		respondError(c, response.CodeInternal, "order fetch failed", err)
		return
	}
	if order == nil {
		respondError(c, response.CodeNotFound, "order not found", nil)
		return
	}

	switch req.EventType {
	case constants.PaymentEventSucceeded:
		err = h.FulfillmentService.OnOrderPaid(order.ID)
	case constants.PaymentEventCanceled:
		err = h.FulfillmentService.OnOrderCancelled(order.ID)
	default:
		log.Infow("payment_webhook_event_ignored",
			"event_id", req.EventID,
			"event_type", req.EventType,
		)
		response.Success(c, gin.H{"accepted": true, "handled": false})
		return
	}
	if err != nil {
		log.Warnw("payment_webhook_handle_failed",
			"event_id", req.EventID,
			"event_type", req.EventType,
			"order_id", order.ID,
			"error", err,
		)
		switch {
		case errors.Is(err, service.ErrOrderStatusInvalid):
			respondError(c, response.CodeConflict, "order status does not allow this event", nil)
		default:
			respondError(c, response.CodeInternal, "webhook handle failed", err)
		}
		return
	}

	log.Infow("payment_webhook_processed",
		"event_id", req.EventID,
		"event_type", req.EventType,
		"order_id", order.ID,
		"display_code", order.DisplayCode,
	)
	response.Success(c, gin.H{"accepted": true, "handled": true, "order_id": order.ID})
}

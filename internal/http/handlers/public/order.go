package public

import (
	"errors"
	"strings"

	"github.com/keystock/internal/http/response"
	"github.com/keystock/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateGuestOrderRequest 游客下单请求
type CreateGuestOrderRequest struct {
	OfferID        uint   `json:"offer_id" binding:"required"`
	Email          string `json:"email" binding:"required"`
	AccessPassword string `json:"access_password" binding:"required"`
}

// CreateGuestOrder 创建游客订单
func (h *Handler) CreateGuestOrder(c *gin.Context) {
	var req CreateGuestOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	order, err := h.OrderService.CreateOrder(service.CreateOrderInput{
		OfferID:        req.OfferID,
		GuestEmail:     req.Email,
		AccessPassword: req.AccessPassword,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			respondError(c, response.CodeBadRequest, "order request invalid", nil)
		case errors.Is(err, service.ErrOrderPasswordRequired):
			respondError(c, response.CodeBadRequest, "guest order requires email and access password", nil)
		case errors.Is(err, service.ErrOfferNotFound):
			respondError(c, response.CodeNotFound, "offer not found", nil)
		case errors.Is(err, service.ErrOfferUnavailable):
			respondError(c, response.CodeBadRequest, "offer is not on sale", nil)
		case errors.Is(err, service.ErrOrderCodeExhausted):
			respondError(c, response.CodeInternal, "order code generation exhausted", err)
		default:
			respondError(c, response.CodeInternal, "order create failed", err)
		}
		return
	}

	requestLog(c).Infow("guest_order_created",
		"order_id", order.ID,
		"display_code", order.DisplayCode,
		"offer_id", order.OfferID,
		"client_ip", c.ClientIP(),
	)
	response.Success(c, gin.H{
		"order_id":     order.ID,
		"display_code": order.DisplayCode,
		"status":       order.Status,
		"amount":       order.Amount.StringFixed(2),
		"currency":     order.Currency,
		"expires_at":   order.ExpiresAt,
	})
}

// GetOrderByDisplayCode 按订单号查询订单，游客订单需携带访问密码
func (h *Handler) GetOrderByDisplayCode(c *gin.Context) {
	code := strings.TrimSpace(c.Param("display_code"))
	accessPassword := c.Query("access_password")

	view, err := h.OrderService.GetByDisplayCode(code, accessPassword)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			respondError(c, response.CodeBadRequest, "display code invalid", nil)
		case errors.Is(err, service.ErrOrderNotFound):
			respondError(c, response.CodeNotFound, "order not found", nil)
		case errors.Is(err, service.ErrOrderAccessDenied):
			respondError(c, response.CodeForbidden, "order access denied", nil)
		default:
			respondError(c, response.CodeInternal, "order fetch failed", err)
		}
		return
	}
	response.Success(c, view)
}

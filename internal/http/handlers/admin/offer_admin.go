package admin

import (
	"errors"
	"strconv"

	"github.com/keystock/internal/http/response"
	"github.com/keystock/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateOfferRequest 创建商品请求
type CreateOfferRequest struct {
	Title                    string `json:"title" binding:"required"`
	DeliveryType             string `json:"delivery_type" binding:"required"`
	EstimatedDeliveryMinutes int    `json:"estimated_delivery_minutes"`
	Price                    string `json:"price" binding:"required"`
	Currency                 string `json:"currency"`
}

// CreateOffer 创建商品
func (h *Handler) CreateOffer(c *gin.Context) {
	actorID, ok := getActorID(c)
	if !ok {
		return
	}
	var req CreateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	offer, err := h.OfferService.CreateOffer(service.CreateOfferInput{
		OwnerID:                  actorID,
		Title:                    req.Title,
		DeliveryType:             req.DeliveryType,
		EstimatedDeliveryMinutes: req.EstimatedDeliveryMinutes,
		Price:                    req.Price,
		Currency:                 req.Currency,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			respondError(c, response.CodeBadRequest, "offer invalid", nil)
		case errors.Is(err, service.ErrOfferCreateFailed):
			respondError(c, response.CodeInternal, "offer create failed", err)
		default:
			respondError(c, response.CodeInternal, "offer create failed", err)
		}
		return
	}

	response.Success(c, offer)
}

// GetOffers 获取当前商户的商品列表
func (h *Handler) GetOffers(c *gin.Context) {
	actorID, ok := getActorID(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	items, total, err := h.OfferService.ListOffers(actorID, page, pageSize)
	if err != nil {
		respondError(c, response.CodeInternal, "offer fetch failed", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, items, pagination)
}

// GetOffer 获取商品详情
func (h *Handler) GetOffer(c *gin.Context) {
	rawID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || rawID == 0 {
		respondError(c, response.CodeBadRequest, "offer id invalid", nil)
		return
	}
	offer, err := h.OfferService.GetOffer(uint(rawID))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOfferNotFound):
			respondError(c, response.CodeNotFound, "offer not found", nil)
		default:
			respondError(c, response.CodeInternal, "offer fetch failed", err)
		}
		return
	}
	response.Success(c, offer)
}

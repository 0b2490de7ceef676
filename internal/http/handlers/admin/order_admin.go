package admin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/keystock/internal/http/response"
	"github.com/keystock/internal/service"

	"github.com/gin-gonic/gin"
)

// GetOrders 按买家分页获取订单（含现算的逾期状态）
func (h *Handler) GetOrders(c *gin.Context) {
	if _, ok := getActorID(c); !ok {
		return
	}
	buyerID, err := strconv.ParseUint(strings.TrimSpace(c.Query("buyer_id")), 10, 64)
	if err != nil || buyerID == 0 {
		respondError(c, response.CodeBadRequest, "buyer id invalid", nil)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	items, total, err := h.OrderService.ListByBuyer(uint(buyerID), page, pageSize)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			respondError(c, response.CodeBadRequest, "buyer id invalid", nil)
		default:
			respondError(c, response.CodeInternal, "order fetch failed", err)
		}
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

package admin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/keystock/internal/http/response"
	"github.com/keystock/internal/service"

	"github.com/gin-gonic/gin"
)

// CreateKeyPoolRequest 创建卡密池请求
type CreateKeyPoolRequest struct {
	OfferID uint `json:"offer_id" binding:"required"`
}

// UploadKeysRequest 批量上传卡密请求
type UploadKeysRequest struct {
	PoolID uint     `json:"pool_id" binding:"required"`
	Codes  []string `json:"codes" binding:"required"`
}

// EditKeyRequest 编辑卡密请求
type EditKeyRequest struct {
	Code string `json:"code" binding:"required"`
}

// CreateKeyPool 为商品创建卡密池（幂等）
func (h *Handler) CreateKeyPool(c *gin.Context) {
	if _, ok := getActorID(c); !ok {
		return
	}
	var req CreateKeyPoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	pool, err := h.KeyPoolService.CreatePool(req.OfferID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOfferNotFound):
			respondError(c, response.CodeNotFound, "offer not found", nil)
		case errors.Is(err, service.ErrOfferNotAutoKey):
			respondError(c, response.CodeBadRequest, "offer is not auto key delivery", nil)
		case errors.Is(err, service.ErrKeyPoolCreateFailed):
			respondError(c, response.CodeInternal, "key pool create failed", err)
		default:
			respondError(c, response.CodeInternal, "key pool create failed", err)
		}
		return
	}

	response.Success(c, pool)
}

// UploadKeys 批量上传卡密
func (h *Handler) UploadKeys(c *gin.Context) {
	actorID, ok := getActorID(c)
	if !ok {
		return
	}
	var req UploadKeysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	result, err := h.KeyPoolService.UploadKeys(service.UploadKeysInput{
		PoolID:    req.PoolID,
		Codes:     req.Codes,
		ActorID:   actorID,
		RequestID: getRequestID(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyPoolNotFound):
			respondError(c, response.CodeNotFound, "key pool not found", nil)
		case errors.Is(err, service.ErrKeyBatchEmpty):
			respondError(c, response.CodeBadRequest, "key batch empty", nil)
		case errors.Is(err, service.ErrKeyBatchTooLarge):
			respondError(c, response.CodeBadRequest, "key batch too large", nil)
		case errors.Is(err, service.ErrKeyCodeInvalid):
			respondError(c, response.CodeBadRequest, "key code invalid", nil)
		case errors.Is(err, service.ErrKeyCreateFailed):
			respondError(c, response.CodeInternal, "key upload failed", err)
		default:
			respondError(c, response.CodeInternal, "key upload failed", err)
		}
		return
	}

	requestLog(c).Infow("admin_keys_uploaded",
		"pool_id", req.PoolID,
		"inserted", result.InsertedCount,
		"skipped_duplicates", result.SkippedDuplicateCount,
	)
	response.Success(c, result)
}

// GetKeyPoolStats 获取卡密池库存统计
func (h *Handler) GetKeyPoolStats(c *gin.Context) {
	poolID, err := strconv.ParseUint(strings.TrimSpace(c.Query("pool_id")), 10, 64)
	if err != nil || poolID == 0 {
		respondError(c, response.CodeBadRequest, "pool id invalid", nil)
		return
	}
	stats, err := h.KeyPoolService.ComputeStats(uint(poolID))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyPoolNotFound):
			respondError(c, response.CodeNotFound, "key pool not found", nil)
		default:
			respondError(c, response.CodeInternal, "key pool stats failed", err)
		}
		return
	}
	response.Success(c, stats)
}

// GetKeys 分页获取卡密列表（仅掩码）
func (h *Handler) GetKeys(c *gin.Context) {
	poolID, err := strconv.ParseUint(strings.TrimSpace(c.Query("pool_id")), 10, 64)
	if err != nil || poolID == 0 {
		respondError(c, response.CodeBadRequest, "pool id invalid", nil)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)
	status := strings.TrimSpace(c.Query("status"))

	items, total, err := h.KeyPoolService.ListKeys(service.ListKeysInput{
		PoolID:   uint(poolID),
		Status:   status,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrKeyPoolNotFound):
			respondError(c, response.CodeNotFound, "key pool not found", nil)
		default:
			respondError(c, response.CodeInternal, "key fetch failed", err)
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

// RevealKey 查看卡密明文（审计）
func (h *Handler) RevealKey(c *gin.Context) {
	actorID, ok := getActorID(c)
	if !ok {
		return
	}
	keyID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || keyID == 0 {
		respondError(c, response.CodeBadRequest, "key id invalid", nil)
		return
	}

	result, err := h.KeyPoolService.RevealKey(service.RevealKeyInput{
		KeyID:     uint(keyID),
		OwnerID:   actorID,
		RequestID: getRequestID(c),
	})
	if err != nil {
		respondKeyError(c, err, "key reveal failed")
		return
	}
	response.Success(c, result)
}

// UpdateKey 编辑卡密内容（仅 available 状态）
func (h *Handler) UpdateKey(c *gin.Context) {
	actorID, ok := getActorID(c)
	if !ok {
		return
	}
	keyID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || keyID == 0 {
		respondError(c, response.CodeBadRequest, "key id invalid", nil)
		return
	}
	var req EditKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, response.CodeBadRequest, "bad request", err)
		return
	}

	result, err := h.KeyPoolService.EditKey(service.EditKeyInput{
		KeyID:     uint(keyID),
		NewCode:   req.Code,
		OwnerID:   actorID,
		RequestID: getRequestID(c),
	})
	if err != nil {
		respondKeyError(c, err, "key update failed")
		return
	}
	response.Success(c, result)
}

// InvalidateKey 作废卡密
func (h *Handler) InvalidateKey(c *gin.Context) {
	actorID, ok := getActorID(c)
	if !ok {
		return
	}
	keyID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || keyID == 0 {
		respondError(c, response.CodeBadRequest, "key id invalid", nil)
		return
	}

	if err := h.KeyPoolService.InvalidateKey(service.InvalidateKeyInput{
		KeyID:     uint(keyID),
		OwnerID:   actorID,
		RequestID: getRequestID(c),
	}); err != nil {
		respondKeyError(c, err, "key invalidate failed")
		return
	}
	response.Success(c, gin.H{"key_id": keyID, "status": "invalid"})
}

// GetKeyAuditLogs 分页获取卡密审计日志
func (h *Handler) GetKeyAuditLogs(c *gin.Context) {
	poolID, err := strconv.ParseUint(strings.TrimSpace(c.Query("pool_id")), 10, 64)
	if err != nil || poolID == 0 {
		respondError(c, response.CodeBadRequest, "pool id invalid", nil)
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)
	action := strings.TrimSpace(c.Query("action"))

	items, total, err := h.KeyAuditLogRepo.ListByPool(uint(poolID), action, page, pageSize)
	if err != nil {
		respondError(c, response.CodeInternal, "audit log fetch failed", err)
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

// respondKeyError 单条卡密操作的统一错误映射
func respondKeyError(c *gin.Context, err error, internalMsg string) {
	switch {
	case errors.Is(err, service.ErrKeyNotFound):
		respondError(c, response.CodeNotFound, "key not found", nil)
	case errors.Is(err, service.ErrPoolOwnershipInvalid):
		respondError(c, response.CodeForbidden, "key pool ownership invalid", nil)
	case errors.Is(err, service.ErrKeyCodeInvalid):
		respondError(c, response.CodeBadRequest, "key code invalid", nil)
	case errors.Is(err, service.ErrKeyStateInvalid):
		respondError(c, response.CodeConflict, "key state does not allow this operation", nil)
	default:
		respondError(c, response.CodeInternal, internalMsg, err)
	}
}

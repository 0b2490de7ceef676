package service

import (
	"errors"
	"strings"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/repository"
	"github.com/keystock/internal/vault"

	"gorm.io/gorm"
)

// KeyPoolService 卡密池服务。负责卡密全生命周期：
// 上传、占用、查看、编辑、作废、释放、交付与库存统计。
type KeyPoolService struct {
	poolRepo  repository.KeyPoolRepository
	keyRepo   repository.KeyRepository
	offerRepo repository.OfferRepository
	orderRepo repository.OrderRepository
	auditRepo repository.KeyAuditLogRepository
	vault     *vault.Vault
}

// NewKeyPoolService 创建卡密池服务
func NewKeyPoolService(
	poolRepo repository.KeyPoolRepository,
	keyRepo repository.KeyRepository,
	offerRepo repository.OfferRepository,
	orderRepo repository.OrderRepository,
	auditRepo repository.KeyAuditLogRepository,
	v *vault.Vault,
) *KeyPoolService {
	return &KeyPoolService{
		poolRepo:  poolRepo,
		keyRepo:   keyRepo,
		offerRepo: offerRepo,
		orderRepo: orderRepo,
		auditRepo: auditRepo,
		vault:     v,
	}
}

// CreatePool 获取或创建商品的卡密池。幂等：已存在则直接返回。
func (s *KeyPoolService) CreatePool(offerID uint) (*models.KeyPool, error) {
	if offerID == 0 {
		return nil, ErrInvalidRequest
	}
	offer, err := s.offerRepo.GetByID(offerID)
	if err != nil {
		return nil, ErrOfferFetchFailed
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	if offer.DeliveryType != constants.DeliveryTypeAutoKey {
		return nil, ErrOfferNotAutoKey
	}

	pool, err := s.poolRepo.GetByOfferID(offerID)
	if err != nil {
		return nil, ErrKeyPoolFetchFailed
	}
	if pool != nil {
		return pool, nil
	}

	now := time.Now()
	pool = &models.KeyPool{OfferID: offerID, CreatedAt: now, UpdatedAt: now}
	if err := s.poolRepo.Create(pool); err != nil {
		// 并发创建时唯一索引兜底，重读即可
		existing, getErr := s.poolRepo.GetByOfferID(offerID)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, ErrKeyPoolCreateFailed
	}
	return pool, nil
}

// UploadKeysInput 批量上传卡密输入
type UploadKeysInput struct {
	PoolID    uint
	Codes     []string
	ActorID   uint
	RequestID string
}

// UploadKeysResult 批量上传卡密结果
type UploadKeysResult struct {
	InsertedCount         int `json:"inserted_count"`
	SkippedDuplicateCount int `json:"skipped_duplicate_count"`
}

// UploadKeys 批量上传卡密。重复卡密（按摘要判定）跳过并计数；
// 其余校验失败（空码、超长、批量超限）整批回滚，不落任何一条。
func (s *KeyPoolService) UploadKeys(input UploadKeysInput) (*UploadKeysResult, error) {
	if input.PoolID == 0 {
		return nil, ErrInvalidRequest
	}
	if len(input.Codes) == 0 {
		return nil, ErrKeyBatchEmpty
	}
	if len(input.Codes) > constants.KeyUploadMaxBatch {
		return nil, ErrKeyBatchTooLarge
	}

	pool, err := s.poolRepo.GetByID(input.PoolID)
	if err != nil {
		return nil, ErrKeyPoolFetchFailed
	}
	if pool == nil {
		return nil, ErrKeyPoolNotFound
	}

	type candidate struct {
		code string
		hash string
	}
	candidates := make([]candidate, 0, len(input.Codes))
	hashes := make([]string, 0, len(input.Codes))
	seen := make(map[string]struct{}, len(input.Codes))
	skipped := 0
	for _, raw := range input.Codes {
		code := strings.TrimSpace(raw)
		if code == "" || len(code) > constants.KeyCodeMaxLength {
			return nil, ErrKeyCodeInvalid
		}
		hash := vault.Hash(code)
		if _, ok := seen[hash]; ok {
			skipped++
			continue
		}
		seen[hash] = struct{}{}
		candidates = append(candidates, candidate{code: code, hash: hash})
		hashes = append(hashes, hash)
	}

	result := &UploadKeysResult{}
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		keyRepo := s.keyRepo.WithTx(tx)
		existing, err := keyRepo.ListExistingHashes(input.PoolID, hashes)
		if err != nil {
			return err
		}
		existingSet := make(map[string]struct{}, len(existing))
		for _, hash := range existing {
			existingSet[hash] = struct{}{}
		}

		now := time.Now()
		items := make([]models.Key, 0, len(candidates))
		for _, cand := range candidates {
			if _, ok := existingSet[cand.hash]; ok {
				skipped++
				continue
			}
			ciphertext, err := s.vault.Encrypt(cand.code)
			if err != nil {
				return ErrKeySealFailed
			}
			items = append(items, models.Key{
				PoolID:     input.PoolID,
				Ciphertext: ciphertext,
				CodeHash:   cand.hash,
				Status:     constants.KeyStatusAvailable,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		if len(items) > 0 {
			if err := keyRepo.CreateBatch(items); err != nil {
				return ErrKeyCreateFailed
			}
		}
		result.InsertedCount = len(items)
		result.SkippedDuplicateCount = skipped
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrKeySealFailed) {
			return nil, ErrKeySealFailed
		}
		return nil, ErrKeyCreateFailed
	}

	s.writeAudit(&models.KeyAuditLog{
		PoolID:    input.PoolID,
		Action:    constants.KeyAuditActionUpload,
		ActorID:   input.ActorID,
		RequestID: input.RequestID,
		DetailJSON: models.JSON{
			"inserted_count":          result.InsertedCount,
			"skipped_duplicate_count": result.SkippedDuplicateCount,
		},
	})
	return result, nil
}

// ReserveKeyForOrder 为订单占用一条可用卡密（按创建时间 FIFO）。
// 幂等：订单已持有 reserved/delivered 卡密时直接返回该卡密。
// 无可用库存返回 ErrKeyOutOfStock；持续争抢失败返回 ErrKeyReserveConflict。
func (s *KeyPoolService) ReserveKeyForOrder(poolID, orderID uint) (*models.Key, error) {
	if poolID == 0 || orderID == 0 {
		return nil, ErrInvalidRequest
	}
	return s.reserveKey(s.keyRepo, poolID, orderID, time.Now())
}

// reserveKey 有界乐观重试的原子占用。条件更新 (id AND status=available)
// 保证同一条卡密绝不会被两个订单同时占到。
func (s *KeyPoolService) reserveKey(keyRepo repository.KeyRepository, poolID, orderID uint, now time.Time) (*models.Key, error) {
	assigned, err := keyRepo.GetAssignedToOrder(orderID)
	if err != nil {
		return nil, ErrKeyFetchFailed
	}
	if assigned != nil {
		return assigned, nil
	}

	for attempt := 0; attempt < constants.ReserveMaxAttempts; attempt++ {
		oldest, err := keyRepo.OldestAvailable(poolID)
		if err != nil {
			return nil, ErrKeyFetchFailed
		}
		if oldest == nil {
			return nil, ErrKeyOutOfStock
		}
		affected, err := keyRepo.Claim(oldest.ID, orderID, now)
		if err != nil {
			return nil, ErrKeyUpdateFailed
		}
		if affected == 1 {
			oldest.Status = constants.KeyStatusReserved
			oldest.ReservedOrderID = &orderID
			oldest.ReservedAt = &now
			return oldest, nil
		}
		// 该行被并发请求抢走，换下一条最旧的可用卡密重试
	}
	logger.Warnw("key_reserve_contention_exhausted",
		"pool_id", poolID,
		"order_id", orderID,
		"attempts", constants.ReserveMaxAttempts,
	)
	return nil, ErrKeyReserveConflict
}

// RevealKeyInput 查看卡密明文输入
type RevealKeyInput struct {
	KeyID     uint
	OwnerID   uint
	RequestID string
}

// RevealKeyResult 查看卡密明文结果
type RevealKeyResult struct {
	KeyID  uint   `json:"key_id"`
	Code   string `json:"code"`
	Status string `json:"status"`
}

// RevealKey 解密并返回卡密明文。校验卡密所属池归属于调用方，
// 每次查看都会写入审计日志。
func (s *KeyPoolService) RevealKey(input RevealKeyInput) (*RevealKeyResult, error) {
	key, _, err := s.loadOwnedKey(input.KeyID, input.OwnerID)
	if err != nil {
		return nil, err
	}
	code, err := s.vault.Decrypt(key.Ciphertext)
	if err != nil {
		return nil, ErrKeyRevealFailed
	}

	s.writeAudit(&models.KeyAuditLog{
		PoolID:    key.PoolID,
		KeyID:     &key.ID,
		OrderID:   key.ReservedOrderID,
		Action:    constants.KeyAuditActionReveal,
		ActorID:   input.OwnerID,
		RequestID: input.RequestID,
		DetailJSON: models.JSON{
			"status": key.Status,
		},
	})
	return &RevealKeyResult{KeyID: key.ID, Code: code, Status: key.Status}, nil
}

// EditKeyInput 编辑卡密输入
type EditKeyInput struct {
	KeyID     uint
	NewCode   string
	OwnerID   uint
	RequestID string
}

// EditKeyResult 编辑卡密结果
type EditKeyResult struct {
	KeyID      uint   `json:"key_id"`
	MaskedCode string `json:"masked_code"`
}

// EditKey 替换卡密内容并重新加密、重算摘要。
// 仅限 available 状态：已被占用或已交付的卡密买家可能已经拿到，不允许改。
func (s *KeyPoolService) EditKey(input EditKeyInput) (*EditKeyResult, error) {
	code := strings.TrimSpace(input.NewCode)
	if code == "" || len(code) > constants.KeyCodeMaxLength {
		return nil, ErrKeyCodeInvalid
	}
	key, _, err := s.loadOwnedKey(input.KeyID, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if key.Status != constants.KeyStatusAvailable {
		return nil, ErrKeyStateInvalid
	}

	ciphertext, err := s.vault.Encrypt(code)
	if err != nil {
		return nil, ErrKeySealFailed
	}
	affected, err := s.keyRepo.UpdateCode(key.ID, ciphertext, vault.Hash(code), time.Now())
	if err != nil {
		// 摘要与池内其他卡密撞车会触发唯一索引
		return nil, ErrKeyCodeInvalid
	}
	if affected == 0 {
		return nil, ErrKeyStateInvalid
	}

	s.writeAudit(&models.KeyAuditLog{
		PoolID:    key.PoolID,
		KeyID:     &key.ID,
		Action:    constants.KeyAuditActionEdit,
		ActorID:   input.OwnerID,
		RequestID: input.RequestID,
	})
	return &EditKeyResult{KeyID: key.ID, MaskedCode: vault.Mask(code)}, nil
}

// InvalidateKeyInput 作废卡密输入
type InvalidateKeyInput struct {
	KeyID     uint
	OwnerID   uint
	RequestID string
}

// InvalidateKey 作废卡密（available/reserved -> invalid，终态）。
// 被占用的卡密作废后自动为其订单换占下一条最旧可用卡密；
// 换占无库存时订单标记 delivery_blocked，绝不悄悄丢单。
func (s *KeyPoolService) InvalidateKey(input InvalidateKeyInput) error {
	key, _, err := s.loadOwnedKey(input.KeyID, input.OwnerID)
	if err != nil {
		return err
	}
	if key.Status != constants.KeyStatusAvailable && key.Status != constants.KeyStatusReserved {
		return ErrKeyStateInvalid
	}

	var (
		reassignedKeyID *uint
		blockedOrderID  *uint
	)
	err = models.DB.Transaction(func(tx *gorm.DB) error {
		keyRepo := s.keyRepo.WithTx(tx)
		orderRepo := s.orderRepo.WithTx(tx)
		now := time.Now()

		affected, err := keyRepo.Invalidate(key.ID, now)
		if err != nil {
			return ErrKeyUpdateFailed
		}
		if affected == 0 {
			return ErrKeyStateInvalid
		}
		if key.Status != constants.KeyStatusReserved || key.ReservedOrderID == nil {
			return nil
		}

		orderID := *key.ReservedOrderID
		replacement, err := s.reserveKey(keyRepo, key.PoolID, orderID, now)
		if err != nil {
			if errors.Is(err, ErrKeyOutOfStock) {
				if err := orderRepo.SetAssignedKey(orderID, nil, now); err != nil {
					return ErrOrderUpdateFailed
				}
				if err := orderRepo.SetDeliveryBlocked(orderID, true, now); err != nil {
					return ErrOrderUpdateFailed
				}
				blockedOrderID = &orderID
				return nil
			}
			return err
		}
		if err := orderRepo.SetAssignedKey(orderID, &replacement.ID, now); err != nil {
			return ErrOrderUpdateFailed
		}
		reassignedKeyID = &replacement.ID
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyStateInvalid):
			return ErrKeyStateInvalid
		case errors.Is(err, ErrOrderUpdateFailed):
			return ErrOrderUpdateFailed
		case errors.Is(err, ErrKeyReserveConflict):
			return ErrKeyReserveConflict
		default:
			return ErrKeyUpdateFailed
		}
	}

	detail := models.JSON{"previous_status": key.Status}
	if reassignedKeyID != nil {
		detail["reassigned_key_id"] = *reassignedKeyID
	}
	if blockedOrderID != nil {
		detail["delivery_blocked_order_id"] = *blockedOrderID
	}
	s.writeAudit(&models.KeyAuditLog{
		PoolID:     key.PoolID,
		KeyID:      &key.ID,
		OrderID:    key.ReservedOrderID,
		Action:     constants.KeyAuditActionInvalidate,
		ActorID:    input.OwnerID,
		RequestID:  input.RequestID,
		DetailJSON: detail,
	})
	if reassignedKeyID != nil {
		s.writeAudit(&models.KeyAuditLog{
			PoolID:    key.PoolID,
			KeyID:     reassignedKeyID,
			OrderID:   key.ReservedOrderID,
			Action:    constants.KeyAuditActionReassign,
			ActorID:   input.OwnerID,
			RequestID: input.RequestID,
		})
	}
	return nil
}

// ReleaseReservation 释放订单占用的卡密（reserved -> available）。
// 订单未占用卡密或卡密已交付时为无害空操作，可重复调用。
func (s *KeyPoolService) ReleaseReservation(orderID uint) error {
	if orderID == 0 {
		return ErrInvalidRequest
	}
	held, err := s.keyRepo.GetAssignedToOrder(orderID)
	if err != nil {
		return ErrKeyFetchFailed
	}
	affected, err := s.keyRepo.ReleaseByOrder(orderID)
	if err != nil {
		return ErrKeyUpdateFailed
	}
	if affected > 0 {
		logger.Infow("key_reservation_released", "order_id", orderID)
		if held != nil {
			s.writeAudit(&models.KeyAuditLog{
				PoolID:  held.PoolID,
				KeyID:   &held.ID,
				OrderID: &orderID,
				Action:  constants.KeyAuditActionRelease,
			})
		}
	}
	return nil
}

// MarkDelivered 交付卡密（reserved -> delivered，终态）
func (s *KeyPoolService) MarkDelivered(keyID uint) error {
	if keyID == 0 {
		return ErrInvalidRequest
	}
	affected, err := s.keyRepo.MarkDelivered(keyID, time.Now())
	if err != nil {
		return ErrKeyUpdateFailed
	}
	if affected == 0 {
		key, err := s.keyRepo.GetByID(keyID)
		if err != nil {
			return ErrKeyFetchFailed
		}
		if key == nil {
			return ErrKeyNotFound
		}
		return ErrKeyStateInvalid
	}
	if key, err := s.keyRepo.GetByID(keyID); err == nil && key != nil {
		s.writeAudit(&models.KeyAuditLog{
			PoolID:  key.PoolID,
			KeyID:   &key.ID,
			OrderID: key.ReservedOrderID,
			Action:  constants.KeyAuditActionDeliver,
		})
	}
	return nil
}

// ComputeStats 统计池内各状态卡密数量。total 含 invalid 行（审计保留）。
func (s *KeyPoolService) ComputeStats(poolID uint) (*repository.PoolStats, error) {
	if poolID == 0 {
		return nil, ErrInvalidRequest
	}
	pool, err := s.poolRepo.GetByID(poolID)
	if err != nil {
		return nil, ErrKeyPoolFetchFailed
	}
	if pool == nil {
		return nil, ErrKeyPoolNotFound
	}
	stats, err := s.keyRepo.CountByPool(poolID)
	if err != nil {
		return nil, ErrKeyStatsFailed
	}
	return &stats, nil
}

// ListKeysInput 卡密列表输入
type ListKeysInput struct {
	PoolID   uint
	Status   string
	Page     int
	PageSize int
}

// MaskedKey 列表视图中的卡密（仅暴露掩码）
type MaskedKey struct {
	ID              uint       `json:"id"`
	PoolID          uint       `json:"pool_id"`
	Status          string     `json:"status"`
	MaskedCode      string     `json:"masked_code"`
	ReservedOrderID *uint      `json:"reserved_order_id,omitempty"`
	ReservedAt      *time.Time `json:"reserved_at,omitempty"`
	DeliveredAt     *time.Time `json:"delivered_at,omitempty"`
	InvalidatedAt   *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ListKeys 分页查询池内卡密，明文只以掩码形式出现
func (s *KeyPoolService) ListKeys(input ListKeysInput) ([]MaskedKey, int64, error) {
	if input.PoolID == 0 {
		return nil, 0, ErrInvalidRequest
	}
	items, total, err := s.keyRepo.ListByPool(input.PoolID, strings.TrimSpace(input.Status), input.Page, input.PageSize)
	if err != nil {
		return nil, 0, ErrKeyFetchFailed
	}
	masked := make([]MaskedKey, 0, len(items))
	for _, item := range items {
		code, err := s.vault.Decrypt(item.Ciphertext)
		if err != nil {
			return nil, 0, ErrKeyRevealFailed
		}
		masked = append(masked, MaskedKey{
			ID:              item.ID,
			PoolID:          item.PoolID,
			Status:          item.Status,
			MaskedCode:      vault.Mask(code),
			ReservedOrderID: item.ReservedOrderID,
			ReservedAt:      item.ReservedAt,
			DeliveredAt:     item.DeliveredAt,
			InvalidatedAt:   item.InvalidatedAt,
			CreatedAt:       item.CreatedAt,
		})
	}
	return masked, total, nil
}

// loadOwnedKey 加载卡密并校验其池归属于 ownerID 名下的商品
func (s *KeyPoolService) loadOwnedKey(keyID, ownerID uint) (*models.Key, *models.KeyPool, error) {
	if keyID == 0 || ownerID == 0 {
		return nil, nil, ErrInvalidRequest
	}
	key, err := s.keyRepo.GetByID(keyID)
	if err != nil {
		return nil, nil, ErrKeyFetchFailed
	}
	if key == nil {
		return nil, nil, ErrKeyNotFound
	}
	pool, err := s.poolRepo.GetByID(key.PoolID)
	if err != nil {
		return nil, nil, ErrKeyPoolFetchFailed
	}
	if pool == nil {
		return nil, nil, ErrKeyPoolNotFound
	}
	offer, err := s.offerRepo.GetByID(pool.OfferID)
	if err != nil {
		return nil, nil, ErrOfferFetchFailed
	}
	if offer == nil {
		return nil, nil, ErrOfferNotFound
	}
	if offer.OwnerID != ownerID {
		return nil, nil, ErrPoolOwnershipInvalid
	}
	return key, pool, nil
}

// writeAudit 审计写入失败只告警，不影响主流程
func (s *KeyPoolService) writeAudit(item *models.KeyAuditLog) {
	if s.auditRepo == nil {
		return
	}
	item.CreatedAt = time.Now()
	if err := s.auditRepo.Create(item); err != nil {
		logger.Warnw("key_audit_write_failed",
			"pool_id", item.PoolID,
			"action", item.Action,
			"error", err,
		)
	}
}

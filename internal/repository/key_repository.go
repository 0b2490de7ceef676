package repository

import (
	"errors"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/models"

	"gorm.io/gorm"
)

// KeyRepository 卡密库存数据访问接口。状态流转全部走条件更新，
// 以受影响行数判定竞争结果，不做读取后写回。
type KeyRepository interface {
	CreateBatch(items []models.Key) error
	GetByID(id uint) (*models.Key, error)
	ListByPool(poolID uint, status string, page, pageSize int) ([]models.Key, int64, error)
	ListExistingHashes(poolID uint, hashes []string) ([]string, error)
	GetAssignedToOrder(orderID uint) (*models.Key, error)
	OldestAvailable(poolID uint) (*models.Key, error)
	Claim(keyID, orderID uint, reservedAt time.Time) (int64, error)
	ReleaseByOrder(orderID uint) (int64, error)
	MarkDelivered(keyID uint, deliveredAt time.Time) (int64, error)
	Invalidate(keyID uint, invalidatedAt time.Time) (int64, error)
	UpdateCode(keyID uint, ciphertext, codeHash string, updatedAt time.Time) (int64, error)
	CountByPool(poolID uint) (PoolStats, error)
	WithTx(tx *gorm.DB) *GormKeyRepository
}

// PoolStats 卡密池库存统计；Total 含 invalid 行（保留审计）
type PoolStats struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Reserved  int64 `json:"reserved"`
	Delivered int64 `json:"delivered"`
	Invalid   int64 `json:"invalid"`
}

// GormKeyRepository GORM 实现
type GormKeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository 创建卡密仓库
func NewKeyRepository(db *gorm.DB) *GormKeyRepository {
	return &GormKeyRepository{db: db}
}

// WithTx 绑定事务
func (r *GormKeyRepository) WithTx(tx *gorm.DB) *GormKeyRepository {
	if tx == nil {
		return r
	}
	return &GormKeyRepository{db: tx}
}

// CreateBatch 批量创建卡密
func (r *GormKeyRepository) CreateBatch(items []models.Key) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.Create(&items).Error
}

// GetByID 根据 ID 获取卡密
func (r *GormKeyRepository) GetByID(id uint) (*models.Key, error) {
	var key models.Key
	if err := r.db.First(&key, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// ListByPool 按池获取卡密列表
func (r *GormKeyRepository) ListByPool(poolID uint, status string, page, pageSize int) ([]models.Key, int64, error) {
	if poolID == 0 {
		return nil, 0, errors.New("invalid pool id")
	}
	query := r.db.Model(&models.Key{}).Where("pool_id = ?", poolID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if pageSize > 0 {
		offset := (page - 1) * pageSize
		if offset < 0 {
			offset = 0
		}
		query = query.Limit(pageSize).Offset(offset)
	}

	var items []models.Key
	if err := query.Order("created_at asc, id asc").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListExistingHashes 返回池内已存在的摘要（上传去重用）
func (r *GormKeyRepository) ListExistingHashes(poolID uint, hashes []string) ([]string, error) {
	if poolID == 0 || len(hashes) == 0 {
		return []string{}, nil
	}
	var existing []string
	if err := r.db.Model(&models.Key{}).
		Where("pool_id = ? AND code_hash IN ?", poolID, hashes).
		Pluck("code_hash", &existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}

// GetAssignedToOrder 获取订单当前持有的卡密（reserved 或 delivered）
func (r *GormKeyRepository) GetAssignedToOrder(orderID uint) (*models.Key, error) {
	if orderID == 0 {
		return nil, errors.New("invalid order id")
	}
	var key models.Key
	err := r.db.Where("reserved_order_id = ? AND status IN ?",
		orderID, []string{constants.KeyStatusReserved, constants.KeyStatusDelivered}).
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// OldestAvailable 获取池内最旧的可用卡密（FIFO）
func (r *GormKeyRepository) OldestAvailable(poolID uint) (*models.Key, error) {
	if poolID == 0 {
		return nil, errors.New("invalid pool id")
	}
	var key models.Key
	err := r.db.Where("pool_id = ? AND status = ?", poolID, constants.KeyStatusAvailable).
		Order("created_at asc, id asc").
		First(&key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &key, nil
}

// Claim 原子占用卡密：仅当仍为 available 时置为 reserved 并绑定订单。
// 返回受影响行数；0 表示该卡密已被并发领走
func (r *GormKeyRepository) Claim(keyID, orderID uint, reservedAt time.Time) (int64, error) {
	if keyID == 0 || orderID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Key{}).
		Where("id = ? AND status = ?", keyID, constants.KeyStatusAvailable).
		Updates(map[string]interface{}{
			"status":            constants.KeyStatusReserved,
			"reserved_order_id": orderID,
			"reserved_at":       reservedAt,
			"updated_at":        reservedAt,
		})
	return result.RowsAffected, result.Error
}

// ReleaseByOrder 释放订单占用的卡密；已交付的卡密不受影响
func (r *GormKeyRepository) ReleaseByOrder(orderID uint) (int64, error) {
	if orderID == 0 {
		return 0, nil
	}
	now := time.Now()
	result := r.db.Model(&models.Key{}).
		Where("reserved_order_id = ? AND status = ?", orderID, constants.KeyStatusReserved).
		Updates(map[string]interface{}{
			"status":            constants.KeyStatusAvailable,
			"reserved_order_id": nil,
			"reserved_at":       nil,
			"updated_at":        now,
		})
	return result.RowsAffected, result.Error
}

// MarkDelivered 标记卡密已交付；仅 reserved 可以流转
func (r *GormKeyRepository) MarkDelivered(keyID uint, deliveredAt time.Time) (int64, error) {
	if keyID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Key{}).
		Where("id = ? AND status = ?", keyID, constants.KeyStatusReserved).
		Updates(map[string]interface{}{
			"status":       constants.KeyStatusDelivered,
			"delivered_at": deliveredAt,
			"updated_at":   deliveredAt,
		})
	return result.RowsAffected, result.Error
}

// Invalidate 作废卡密；available/reserved 可以流转，终态不可逆
func (r *GormKeyRepository) Invalidate(keyID uint, invalidatedAt time.Time) (int64, error) {
	if keyID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Key{}).
		Where("id = ? AND status IN ?", keyID,
			[]string{constants.KeyStatusAvailable, constants.KeyStatusReserved}).
		Updates(map[string]interface{}{
			"status":         constants.KeyStatusInvalid,
			"invalidated_at": invalidatedAt,
			"updated_at":     invalidatedAt,
		})
	return result.RowsAffected, result.Error
}

// UpdateCode 更新卡密内容；仅 available 状态允许
func (r *GormKeyRepository) UpdateCode(keyID uint, ciphertext, codeHash string, updatedAt time.Time) (int64, error) {
	if keyID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Key{}).
		Where("id = ? AND status = ?", keyID, constants.KeyStatusAvailable).
		Updates(map[string]interface{}{
			"ciphertext": ciphertext,
			"code_hash":  codeHash,
			"updated_at": updatedAt,
		})
	return result.RowsAffected, result.Error
}

// CountByPool 统计池内各状态卡密数量
func (r *GormKeyRepository) CountByPool(poolID uint) (PoolStats, error) {
	var stats PoolStats
	if poolID == 0 {
		return stats, errors.New("invalid pool id")
	}

	type countRow struct {
		Status string
		Total  int64
	}
	var rows []countRow
	if err := r.db.Model(&models.Key{}).
		Select("status, COUNT(*) as total").
		Where("pool_id = ?", poolID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return stats, err
	}

	for _, row := range rows {
		stats.Total += row.Total
		switch row.Status {
		case constants.KeyStatusAvailable:
			stats.Available = row.Total
		case constants.KeyStatusReserved:
			stats.Reserved = row.Total
		case constants.KeyStatusDelivered:
			stats.Delivered = row.Total
		case constants.KeyStatusInvalid:
			stats.Invalid = row.Total
		}
	}
	return stats, nil
}

package repository

import (
	"errors"

	"github.com/keystock/internal/models"

	"gorm.io/gorm"
)

// KeyAuditLogRepository 卡密审计日志数据访问接口
type KeyAuditLogRepository interface {
	Create(item *models.KeyAuditLog) error
	ListByPool(poolID uint, action string, page, pageSize int) ([]models.KeyAuditLog, int64, error)
	WithTx(tx *gorm.DB) *GormKeyAuditLogRepository
}

// GormKeyAuditLogRepository GORM 实现
type GormKeyAuditLogRepository struct {
	db *gorm.DB
}

// NewKeyAuditLogRepository 创建审计日志仓库
func NewKeyAuditLogRepository(db *gorm.DB) *GormKeyAuditLogRepository {
	return &GormKeyAuditLogRepository{db: db}
}

// WithTx 绑定事务
func (r *GormKeyAuditLogRepository) WithTx(tx *gorm.DB) *GormKeyAuditLogRepository {
	if tx == nil {
		return r
	}
	return &GormKeyAuditLogRepository{db: tx}
}

// Create 写入审计日志
func (r *GormKeyAuditLogRepository) Create(item *models.KeyAuditLog) error {
	return r.db.Create(item).Error
}

// ListByPool 按池查询审计日志
func (r *GormKeyAuditLogRepository) ListByPool(poolID uint, action string, page, pageSize int) ([]models.KeyAuditLog, int64, error) {
	if poolID == 0 {
		return nil, 0, errors.New("invalid pool id")
	}
	query := r.db.Model(&models.KeyAuditLog{}).Where("pool_id = ?", poolID)
	if action != "" {
		query = query.Where("action = ?", action)
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

	var items []models.KeyAuditLog
	if err := query.Order("id desc").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

package repository

import (
	"errors"

	"github.com/keystock/internal/models"

	"gorm.io/gorm"
)

// OfferRepository 商品数据访问接口
type OfferRepository interface {
	Create(offer *models.Offer) error
	GetByID(id uint) (*models.Offer, error)
	ListByOwner(ownerID uint, page, pageSize int) ([]models.Offer, int64, error)
	WithTx(tx *gorm.DB) *GormOfferRepository
}

// GormOfferRepository GORM 实现
type GormOfferRepository struct {
	db *gorm.DB
}

// NewOfferRepository 创建商品仓库
func NewOfferRepository(db *gorm.DB) *GormOfferRepository {
	return &GormOfferRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOfferRepository) WithTx(tx *gorm.DB) *GormOfferRepository {
	if tx == nil {
		return r
	}
	return &GormOfferRepository{db: tx}
}

// Create 创建商品
func (r *GormOfferRepository) Create(offer *models.Offer) error {
	return r.db.Create(offer).Error
}

// GetByID 根据 ID 获取商品
func (r *GormOfferRepository) GetByID(id uint) (*models.Offer, error) {
	var offer models.Offer
	if err := r.db.First(&offer, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &offer, nil
}

// ListByOwner 按卖家获取商品列表
func (r *GormOfferRepository) ListByOwner(ownerID uint, page, pageSize int) ([]models.Offer, int64, error) {
	if ownerID == 0 {
		return nil, 0, errors.New("invalid owner id")
	}
	query := r.db.Model(&models.Offer{}).Where("owner_id = ?", ownerID)

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

	var items []models.Offer
	if err := query.Order("id desc").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

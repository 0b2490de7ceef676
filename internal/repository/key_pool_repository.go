package repository

import (
	"errors"

	"github.com/keystock/internal/models"

	"gorm.io/gorm"
)

// KeyPoolRepository 卡密池数据访问接口
type KeyPoolRepository interface {
	Create(pool *models.KeyPool) error
	GetByID(id uint) (*models.KeyPool, error)
	GetByOfferID(offerID uint) (*models.KeyPool, error)
	WithTx(tx *gorm.DB) *GormKeyPoolRepository
}

// GormKeyPoolRepository GORM 实现
type GormKeyPoolRepository struct {
	db *gorm.DB
}

// NewKeyPoolRepository 创建卡密池仓库
func NewKeyPoolRepository(db *gorm.DB) *GormKeyPoolRepository {
	return &GormKeyPoolRepository{db: db}
}

// WithTx 绑定事务
func (r *GormKeyPoolRepository) WithTx(tx *gorm.DB) *GormKeyPoolRepository {
	if tx == nil {
		return r
	}
	return &GormKeyPoolRepository{db: tx}
}

// Create 创建卡密池
func (r *GormKeyPoolRepository) Create(pool *models.KeyPool) error {
	return r.db.Create(pool).Error
}

// GetByID 根据 ID 获取卡密池
func (r *GormKeyPoolRepository) GetByID(id uint) (*models.KeyPool, error) {
	var pool models.KeyPool
	if err := r.db.First(&pool, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

// GetByOfferID 根据商品 ID 获取卡密池
func (r *GormKeyPoolRepository) GetByOfferID(offerID uint) (*models.KeyPool, error) {
	if offerID == 0 {
		return nil, errors.New("invalid offer id")
	}
	var pool models.KeyPool
	if err := r.db.Where("offer_id = ?", offerID).First(&pool).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

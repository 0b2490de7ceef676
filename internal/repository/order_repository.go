package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/models"

	"gorm.io/gorm"
)

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetByDisplayCode(code string) (*models.Order, error)
	ListByBuyer(buyerID uint, page, pageSize int) ([]models.Order, int64, error)
	MarkPaid(orderID uint, paidAt time.Time) (int64, error)
	SetSLADueAt(orderID uint, dueAt time.Time, updatedAt time.Time) error
	MarkFulfilled(orderID, keyID uint, updatedAt time.Time) (int64, error)
	SetDeliveryBlocked(orderID uint, blocked bool, updatedAt time.Time) error
	SetAssignedKey(orderID uint, keyID *uint, updatedAt time.Time) error
	CloseFrom(orderID uint, fromStatuses []string, toStatus string, canceledAt time.Time) (int64, error)
	WithTx(tx *gorm.DB) *GormOrderRepository
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) *GormOrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Create 创建订单
func (r *GormOrderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// IsDuplicateDisplayCode 判断错误是否为展示编号唯一约束冲突
func IsDuplicateDisplayCode(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// sqlite/postgres 驱动未必翻译成 gorm.ErrDuplicatedKey，按消息兜底
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// GetByID 根据 ID 获取订单
func (r *GormOrderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByDisplayCode 根据展示编号获取订单
func (r *GormOrderRepository) GetByDisplayCode(code string) (*models.Order, error) {
	if code == "" {
		return nil, errors.New("invalid display code")
	}
	var order models.Order
	if err := r.db.Where("display_code = ?", code).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ListByBuyer 按买家获取订单列表
func (r *GormOrderRepository) ListByBuyer(buyerID uint, page, pageSize int) ([]models.Order, int64, error) {
	if buyerID == 0 {
		return nil, 0, errors.New("invalid buyer id")
	}
	query := r.db.Model(&models.Order{}).Where("buyer_id = ?", buyerID)

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

	var items []models.Order
	if err := query.Order("id desc").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// MarkPaid 标记订单已支付；仅待支付状态可流转（回调至少一次投递，重复调用返回 0 行）
func (r *GormOrderRepository) MarkPaid(orderID uint, paidAt time.Time) (int64, error) {
	if orderID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, constants.OrderStatusPendingPayment).
		Updates(map[string]interface{}{
			"status":     constants.OrderStatusPaid,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	return result.RowsAffected, result.Error
}

// SetSLADueAt 设置人工交付 SLA 截止时间
func (r *GormOrderRepository) SetSLADueAt(orderID uint, dueAt time.Time, updatedAt time.Time) error {
	if orderID == 0 {
		return nil
	}
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"sla_due_at": dueAt,
			"updated_at": updatedAt,
		}).Error
}

// MarkFulfilled 标记订单已交付完成；仅已支付状态可流转
func (r *GormOrderRepository) MarkFulfilled(orderID, keyID uint, updatedAt time.Time) (int64, error) {
	if orderID == 0 || keyID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, constants.OrderStatusPaid).
		Updates(map[string]interface{}{
			"status":           constants.OrderStatusFulfilled,
			"assigned_key_id":  keyID,
			"delivery_blocked": false,
			"updated_at":       updatedAt,
		})
	return result.RowsAffected, result.Error
}

// SetDeliveryBlocked 设置缺货交付阻塞标记
func (r *GormOrderRepository) SetDeliveryBlocked(orderID uint, blocked bool, updatedAt time.Time) error {
	if orderID == 0 {
		return nil
	}
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"delivery_blocked": blocked,
			"updated_at":       updatedAt,
		}).Error
}

// SetAssignedKey 更新订单绑定的卡密（作废重分配时使用；keyID 为 nil 表示解绑）
func (r *GormOrderRepository) SetAssignedKey(orderID uint, keyID *uint, updatedAt time.Time) error {
	if orderID == 0 {
		return nil
	}
	return r.db.Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"assigned_key_id": keyID,
			"updated_at":      updatedAt,
		}).Error
}

// CloseFrom 将订单从给定来源状态流转到取消/过期终态
func (r *GormOrderRepository) CloseFrom(orderID uint, fromStatuses []string, toStatus string, canceledAt time.Time) (int64, error) {
	if orderID == 0 || len(fromStatuses) == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status IN ?", orderID, fromStatuses).
		Updates(map[string]interface{}{
			"status":      toStatus,
			"canceled_at": canceledAt,
			"updated_at":  canceledAt,
		})
	return result.RowsAffected, result.Error
}

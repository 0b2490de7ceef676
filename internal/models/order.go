package models

import (
	"time"

	"gorm.io/gorm"
)

// Order 订单表
type Order struct {
	ID                 uint           `gorm:"primarykey" json:"id"`                                       // 主键
	DisplayCode        string         `gorm:"type:varchar(20);uniqueIndex;not null" json:"display_code"`  // 对外展示的订单编号（ORD_XXXXXXXXXX）
	BuyerID            uint           `gorm:"index" json:"buyer_id,omitempty"`                            // 买家ID（游客订单为 0）
	GuestEmail         string         `gorm:"index" json:"guest_email,omitempty"`                         // 游客邮箱
	AccessPasswordHash string         `gorm:"type:varchar(200)" json:"-"`                                 // 游客订单访问密码哈希
	OfferID            uint           `gorm:"index;not null" json:"offer_id"`                             // 商品ID
	Status             string         `gorm:"index;not null" json:"status"`                               // 订单状态
	Amount             Money          `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`        // 金额
	Currency           string         `gorm:"type:varchar(10);not null" json:"currency"`                  // 币种
	AssignedKeyID      *uint          `gorm:"index" json:"assigned_key_id,omitempty"`                     // 分配的卡密ID
	DeliveryBlocked    bool           `gorm:"not null;default:false" json:"delivery_blocked"`             // 缺货导致交付阻塞
	PaidAt             *time.Time     `gorm:"index" json:"paid_at"`                                       // 支付时间
	SLADueAt           *time.Time     `gorm:"index" json:"sla_due_at"`                                    // 人工交付 SLA 截止时间
	ExpiresAt          *time.Time     `gorm:"index" json:"expires_at"`                                    // 待支付过期时间
	CanceledAt         *time.Time     `json:"canceled_at"`                                                // 取消时间
	CreatedAt          time.Time      `gorm:"index" json:"created_at"`                                    // 创建时间
	UpdatedAt          time.Time      `gorm:"index" json:"updated_at"`                                    // 更新时间
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`                                             // 软删除时间
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}

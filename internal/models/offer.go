package models

import (
	"time"

	"gorm.io/gorm"
)

// Offer 在售商品表（数字密钥售卖条目）
type Offer struct {
	ID                       uint           `gorm:"primarykey" json:"id"`                                  // 主键
	OwnerID                  uint           `gorm:"index;not null" json:"owner_id"`                        // 卖家ID
	Title                    string         `gorm:"type:varchar(200);not null" json:"title"`               // 商品标题
	DeliveryType             string         `gorm:"index;not null" json:"delivery_type"`                   // 交付类型（auto_key/manual）
	EstimatedDeliveryMinutes int            `gorm:"not null;default:0" json:"estimated_delivery_minutes"`  // 人工交付承诺时长（分钟）
	Price                    Money          `gorm:"type:decimal(20,2);not null;default:0" json:"price"`    // 单价
	Currency                 string         `gorm:"type:varchar(10);not null" json:"currency"`             // 币种
	Status                   string         `gorm:"index;not null;default:on_sale" json:"status"`          // 上架状态
	CreatedAt                time.Time      `gorm:"index" json:"created_at"`                               // 创建时间
	UpdatedAt                time.Time      `gorm:"index" json:"updated_at"`                               // 更新时间
	DeletedAt                gorm.DeletedAt `gorm:"index" json:"-"`                                        // 软删除时间
}

// TableName 指定表名
func (Offer) TableName() string {
	return "offers"
}

package models

import (
	"time"
)

// KeyPool 卡密池表；每个商品恰好一个池，首次访问时惰性创建
type KeyPool struct {
	ID        uint      `gorm:"primarykey" json:"id"`                   // 主键
	OfferID   uint      `gorm:"uniqueIndex;not null" json:"offer_id"`   // 商品ID（一商品一池）
	CreatedAt time.Time `gorm:"index" json:"created_at"`                // 创建时间
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`                // 更新时间
}

// TableName 指定表名
func (KeyPool) TableName() string {
	return "key_pools"
}

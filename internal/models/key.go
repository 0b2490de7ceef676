package models

import (
	"time"
)

// Key 卡密库存表。密文落库，状态单调流转：
// available -> reserved -> delivered（终态）；available/reserved -> invalid（终态）；
// reserved -> available 仅限释放。invalid 行保留审计，永不物理删除。
type Key struct {
	ID              uint       `gorm:"primarykey" json:"id"`                                                                         // 主键
	PoolID          uint       `gorm:"not null;uniqueIndex:uniq_pool_code_hash;index:idx_pool_status,priority:1" json:"pool_id"`     // 卡密池ID
	Ciphertext      string     `gorm:"type:text;not null" json:"-"`                                                                  // 加密后的卡密内容
	CodeHash        string     `gorm:"type:varchar(64);not null;uniqueIndex:uniq_pool_code_hash" json:"-"`                           // 去重摘要（池内唯一）
	Status          string     `gorm:"not null;index:idx_pool_status,priority:2" json:"status"`                                      // 状态（available/reserved/delivered/invalid）
	ReservedOrderID *uint      `gorm:"index" json:"reserved_order_id,omitempty"`                                                     // 占用订单ID
	ReservedAt      *time.Time `json:"reserved_at"`                                                                                  // 占用时间
	DeliveredAt     *time.Time `json:"delivered_at"`                                                                                 // 交付时间
	InvalidatedAt   *time.Time `json:"invalidated_at"`                                                                               // 作废时间
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`                                                                      // 创建时间（FIFO 依据）
	UpdatedAt       time.Time  `gorm:"index" json:"updated_at"`                                                                      // 更新时间
}

// TableName 指定表名
func (Key) TableName() string {
	return "keys"
}

package models

import (
	"time"
)

// KeyAuditLog 卡密审计日志表；查看、作废等敏感操作全部留痕
type KeyAuditLog struct {
	ID         uint      `gorm:"primarykey" json:"id"`                     // 主键
	PoolID     uint      `gorm:"index;not null" json:"pool_id"`            // 卡密池ID
	KeyID      *uint     `gorm:"index" json:"key_id,omitempty"`            // 卡密ID（批量上传时为空）
	OrderID    *uint     `gorm:"index" json:"order_id,omitempty"`          // 关联订单ID
	Action     string    `gorm:"index;not null" json:"action"`             // 动作（reveal/invalidate/...）
	ActorID    uint      `gorm:"index" json:"actor_id"`                    // 操作者ID（系统操作为 0）
	RequestID  string    `gorm:"type:varchar(64)" json:"request_id"`       // 请求链路ID
	DetailJSON JSON      `gorm:"type:json" json:"detail,omitempty"`        // 明细
	CreatedAt  time.Time `gorm:"index" json:"created_at"`                  // 创建时间
}

// TableName 指定表名
func (KeyAuditLog) TableName() string {
	return "key_audit_logs"
}

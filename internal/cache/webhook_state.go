package cache

import (
	"context"
	"fmt"
	"time"
)

// 支付回调至少一次投递，事件号占位后重复投递直接丢弃。
// 缓存未启用时放行，幂等兜底交给订单状态机。
const webhookEventTTL = 24 * time.Hour

func webhookEventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

// MarkWebhookEvent 记录回调事件，返回是否首次出现
func MarkWebhookEvent(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	return SetNX(ctx, webhookEventKey(eventID), time.Now().Unix(), webhookEventTTL)
}



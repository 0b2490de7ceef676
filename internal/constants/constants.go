package constants

// 订单状态常量
const (
	OrderStatusPendingPayment = "pending_payment"
	OrderStatusPaid           = "paid"
	OrderStatusFulfilled      = "fulfilled"
	OrderStatusCanceled       = "canceled"
	OrderStatusExpired        = "expired"
)

// 密钥状态常量
const (
	KeyStatusAvailable = "available"
	KeyStatusReserved  = "reserved"
	KeyStatusDelivered = "delivered"
	KeyStatusInvalid   = "invalid"
)

// 交付类型常量
const (
	DeliveryTypeAutoKey = "auto_key"
	DeliveryTypeManual  = "manual"
)

// 商品上架状态常量
const (
	OfferStatusOnSale  = "on_sale"
	OfferStatusOffSale = "off_sale"
)

// 密钥审计动作常量
const (
	KeyAuditActionUpload     = "upload"
	KeyAuditActionReveal     = "reveal"
	KeyAuditActionEdit       = "edit"
	KeyAuditActionInvalidate = "invalidate"
	KeyAuditActionDeliver    = "deliver"
	KeyAuditActionRelease    = "release"
	KeyAuditActionReassign   = "reassign"
)

// 支付回调事件常量
const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventCanceled  = "payment.canceled"
)

// 队列常量
const (
	QueueDefault           = "default"
	TaskOrderTimeoutCancel = "order:timeout_cancel"
	TaskOrderDeliveryNote  = "order:delivery_note"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "ks"
)

// 币种常量
const (
	SiteCurrencyDefault = "USD"
)

// 批量上传限制常量
const (
	KeyUploadMaxBatch   = 1000
	KeyCodeMaxLength    = 512
	OrderExpireMinutes  = 15
	ReserveMaxAttempts  = 5
	DisplayCodeAttempts = 5
)

package service

import "errors"

// 通用错误
var (
	ErrNotFound       = errors.New("record not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// 商品相关错误
var (
	ErrOfferNotFound     = errors.New("offer not found")
	ErrOfferFetchFailed  = errors.New("failed to fetch offer")
	ErrOfferCreateFailed = errors.New("failed to create offer")
	ErrOfferNotAutoKey   = errors.New("offer does not use automatic key delivery")
	ErrOfferUnavailable  = errors.New("offer is not available")
)

// 卡密池相关错误
var (
	ErrKeyPoolNotFound      = errors.New("key pool not found")
	ErrKeyPoolFetchFailed   = errors.New("failed to fetch key pool")
	ErrKeyPoolCreateFailed  = errors.New("failed to create key pool")
	ErrPoolOwnershipInvalid = errors.New("key pool does not belong to operator")
)

// 卡密相关错误
var (
	ErrKeyCodeInvalid     = errors.New("key code is empty or too long")
	ErrKeyBatchTooLarge   = errors.New("key upload batch exceeds the allowed size")
	ErrKeyBatchEmpty      = errors.New("key upload batch is empty")
	ErrKeyNotFound        = errors.New("key not found")
	ErrKeyFetchFailed     = errors.New("failed to fetch key")
	ErrKeyCreateFailed    = errors.New("failed to create keys")
	ErrKeyUpdateFailed    = errors.New("failed to update key")
	ErrKeyStateInvalid    = errors.New("key is not in a state that allows this operation")
	ErrKeyOutOfStock      = errors.New("no available key in pool")
	ErrKeyReserveConflict = errors.New("key reservation conflicted with concurrent requests")
	ErrKeyStatsFailed     = errors.New("failed to compute key stats")
	ErrKeySealFailed      = errors.New("failed to seal key code")
	ErrKeyRevealFailed    = errors.New("failed to reveal key code")
)

// 订单相关错误
var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderFetchFailed      = errors.New("failed to fetch order")
	ErrOrderCreateFailed     = errors.New("failed to create order")
	ErrOrderUpdateFailed     = errors.New("failed to update order")
	ErrOrderStatusInvalid    = errors.New("order status does not allow this operation")
	ErrOrderCodeExhausted    = errors.New("failed to generate a unique order code")
	ErrOrderAccessDenied     = errors.New("order access password mismatch")
	ErrOrderPasswordRequired = errors.New("guest order requires an access password")
)

// 审计相关错误
var (
	ErrAuditWriteFailed = errors.New("failed to write audit log")
	ErrAuditFetchFailed = errors.New("failed to fetch audit logs")
)

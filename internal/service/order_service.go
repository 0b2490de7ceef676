package service

import (
	"strings"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/logger"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/queue"
	"github.com/keystock/internal/repository"
	"github.com/keystock/internal/vault"

	"golang.org/x/crypto/bcrypt"
)

// OrderService 订单服务。下单、查单，以及买家侧的交付内容读取。
type OrderService struct {
	orderRepo     repository.OrderRepository
	offerRepo     repository.OfferRepository
	keyRepo       repository.KeyRepository
	vault         *vault.Vault
	queueClient   *queue.Client
	expireMinutes int
}

// NewOrderService 创建订单服务
func NewOrderService(
	orderRepo repository.OrderRepository,
	offerRepo repository.OfferRepository,
	keyRepo repository.KeyRepository,
	v *vault.Vault,
	queueClient *queue.Client,
	expireMinutes int,
) *OrderService {
	if expireMinutes <= 0 {
		expireMinutes = constants.OrderExpireMinutes
	}
	return &OrderService{
		orderRepo:     orderRepo,
		offerRepo:     offerRepo,
		keyRepo:       keyRepo,
		vault:         v,
		queueClient:   queueClient,
		expireMinutes: expireMinutes,
	}
}

// CreateOrderInput 下单输入
type CreateOrderInput struct {
	OfferID        uint
	BuyerID        uint
	GuestEmail     string
	AccessPassword string
}

// CreateOrder 创建待支付订单。订单号碰撞时重新生成有限次；
// 游客订单（BuyerID 为 0）必须携带邮箱与访问密码。
func (s *OrderService) CreateOrder(input CreateOrderInput) (*models.Order, error) {
	if input.OfferID == 0 {
		return nil, ErrInvalidRequest
	}
	offer, err := s.offerRepo.GetByID(input.OfferID)
	if err != nil {
		return nil, ErrOfferFetchFailed
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	if offer.Status != constants.OfferStatusOnSale {
		return nil, ErrOfferUnavailable
	}

	guestEmail := strings.TrimSpace(input.GuestEmail)
	accessHash := ""
	if input.BuyerID == 0 {
		password := strings.TrimSpace(input.AccessPassword)
		if guestEmail == "" || password == "" {
			return nil, ErrOrderPasswordRequired
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, ErrOrderCreateFailed
		}
		accessHash = string(hashed)
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.expireMinutes) * time.Minute)
	var order *models.Order
	for attempt := 0; attempt < constants.DisplayCodeAttempts; attempt++ {
		code, err := GenerateDisplayCode()
		if err != nil {
			return nil, ErrOrderCreateFailed
		}
		candidate := &models.Order{
			DisplayCode:        code,
			BuyerID:            input.BuyerID,
			GuestEmail:         guestEmail,
			AccessPasswordHash: accessHash,
			OfferID:            offer.ID,
			Status:             constants.OrderStatusPendingPayment,
			Amount:             offer.Price,
			Currency:           offer.Currency,
			ExpiresAt:          &expiresAt,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		err = s.orderRepo.Create(candidate)
		if err == nil {
			order = candidate
			break
		}
		if !repository.IsDuplicateDisplayCode(err) {
			return nil, ErrOrderCreateFailed
		}
		// 订单号撞库，换一个继续
	}
	if order == nil {
		return nil, ErrOrderCodeExhausted
	}

	if s.queueClient != nil {
		if err := s.queueClient.EnqueueOrderTimeoutCancel(queue.OrderTimeoutCancelPayload{
			OrderID: order.ID,
		}, time.Until(expiresAt)); err != nil {
			logger.Warnw("order_timeout_cancel_enqueue_failed",
				"order_id", order.ID,
				"error", err,
			)
		}
	}
	logger.Infow("order_created",
		"order_id", order.ID,
		"display_code", order.DisplayCode,
		"offer_id", offer.ID,
		"expires_at", expiresAt,
	)
	return order, nil
}

// OrderView 买家侧订单视图
type OrderView struct {
	ID              uint       `json:"id"`
	DisplayCode     string     `json:"display_code"`
	OfferID         uint       `json:"offer_id"`
	Status          string     `json:"status"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	DeliveryPending bool       `json:"delivery_pending"`
	Overdue         bool       `json:"overdue"`
	KeyCode         string     `json:"key_code,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	SLADueAt        *time.Time `json:"sla_due_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// GetByDisplayCode 按订单号查单。游客订单校验访问密码；
// 已交付的订单附带卡密明文。缺货阻塞只对买家展示"交付处理中"。
func (s *OrderService) GetByDisplayCode(code, accessPassword string) (*OrderView, error) {
	code = strings.TrimSpace(code)
	if !IsValidDisplayCode(code) {
		return nil, ErrInvalidRequest
	}
	order, err := s.orderRepo.GetByDisplayCode(code)
	if err != nil {
		return nil, ErrOrderFetchFailed
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.AccessPasswordHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(order.AccessPasswordHash), []byte(strings.TrimSpace(accessPassword))); err != nil {
			return nil, ErrOrderAccessDenied
		}
	}
	return s.buildView(order)
}

// ListByBuyer 买家订单列表（逾期状态读取时现算）
func (s *OrderService) ListByBuyer(buyerID uint, page, pageSize int) ([]OrderView, int64, error) {
	if buyerID == 0 {
		return nil, 0, ErrInvalidRequest
	}
	orders, total, err := s.orderRepo.ListByBuyer(buyerID, page, pageSize)
	if err != nil {
		return nil, 0, ErrOrderFetchFailed
	}
	views := make([]OrderView, 0, len(orders))
	for i := range orders {
		view, err := s.buildView(&orders[i])
		if err != nil {
			return nil, 0, err
		}
		views = append(views, *view)
	}
	return views, total, nil
}

func (s *OrderService) buildView(order *models.Order) (*OrderView, error) {
	view := &OrderView{
		ID:              order.ID,
		DisplayCode:     order.DisplayCode,
		OfferID:         order.OfferID,
		Status:          order.Status,
		Amount:          order.Amount.StringFixed(2),
		Currency:        order.Currency,
		DeliveryPending: order.DeliveryBlocked,
		Overdue:         ComputeOverdue(order, time.Now()),
		PaidAt:          order.PaidAt,
		SLADueAt:        order.SLADueAt,
		ExpiresAt:       order.ExpiresAt,
		CreatedAt:       order.CreatedAt,
	}
	if order.Status == constants.OrderStatusFulfilled && order.AssignedKeyID != nil {
		key, err := s.keyRepo.GetByID(*order.AssignedKeyID)
		if err != nil {
			return nil, ErrKeyFetchFailed
		}
		if key != nil {
			code, err := s.vault.Decrypt(key.Ciphertext)
			if err != nil {
				return nil, ErrKeyRevealFailed
			}
			view.KeyCode = code
		}
	}
	return view, nil
}

package service

import (
	"strings"
	"time"

	"github.com/keystock/internal/constants"
	"github.com/keystock/internal/models"
	"github.com/keystock/internal/repository"

	"github.com/shopspring/decimal"
)

// OfferService 商品服务
type OfferService struct {
	offerRepo repository.OfferRepository
}

// NewOfferService 创建商品服务
func NewOfferService(offerRepo repository.OfferRepository) *OfferService {
	return &OfferService{offerRepo: offerRepo}
}

// CreateOfferInput 创建商品输入
type CreateOfferInput struct {
	OwnerID                  uint
	Title                    string
	DeliveryType             string
	EstimatedDeliveryMinutes int
	Price                    string
	Currency                 string
}

// CreateOffer 创建在售商品
func (s *OfferService) CreateOffer(input CreateOfferInput) (*models.Offer, error) {
	title := strings.TrimSpace(input.Title)
	if input.OwnerID == 0 || title == "" {
		return nil, ErrInvalidRequest
	}
	deliveryType := strings.TrimSpace(input.DeliveryType)
	switch deliveryType {
	case constants.DeliveryTypeAutoKey, constants.DeliveryTypeManual:
	default:
		return nil, ErrInvalidRequest
	}
	if deliveryType == constants.DeliveryTypeManual && input.EstimatedDeliveryMinutes <= 0 {
		return nil, ErrInvalidRequest
	}

	price, err := decimal.NewFromString(strings.TrimSpace(input.Price))
	if err != nil || price.IsNegative() {
		return nil, ErrInvalidRequest
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = constants.SiteCurrencyDefault
	}

	now := time.Now()
	offer := &models.Offer{
		OwnerID:                  input.OwnerID,
		Title:                    title,
		DeliveryType:             deliveryType,
		EstimatedDeliveryMinutes: input.EstimatedDeliveryMinutes,
		Price:                    models.NewMoneyFromDecimal(price),
		Currency:                 currency,
		Status:                   constants.OfferStatusOnSale,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := s.offerRepo.Create(offer); err != nil {
		return nil, ErrOfferCreateFailed
	}
	return offer, nil
}

// GetOffer 获取商品
func (s *OfferService) GetOffer(id uint) (*models.Offer, error) {
	if id == 0 {
		return nil, ErrInvalidRequest
	}
	offer, err := s.offerRepo.GetByID(id)
	if err != nil {
		return nil, ErrOfferFetchFailed
	}
	if offer == nil {
		return nil, ErrOfferNotFound
	}
	return offer, nil
}

// ListOffers 按卖家分页获取商品
func (s *OfferService) ListOffers(ownerID uint, page, pageSize int) ([]models.Offer, int64, error) {
	if ownerID == 0 {
		return nil, 0, ErrInvalidRequest
	}
	items, total, err := s.offerRepo.ListByOwner(ownerID, page, pageSize)
	if err != nil {
		return nil, 0, ErrOfferFetchFailed
	}
	return items, total, nil
}

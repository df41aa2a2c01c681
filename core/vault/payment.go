package vault

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	Percentage DiscountType = "PERCENTAGE"
	Fixed      DiscountType = "FIXED"
)

// Coupon is the outcome of a coupon validation. It is applied at checkout time
// and never stored on the cart.
type Coupon struct {
	Code          string          `json:"code,omitempty"`
	Valid         bool            `json:"valid"`
	DiscountType  DiscountType    `json:"discountType"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	Message       string          `json:"message,omitempty"`
}

type CouponCheck struct {
	Code      string `json:"code" validate:"required"`
	StoreID   ID     `json:"storeId"`
	BuyerID   ID     `json:"userTikTokId"`
	ProductID ID     `json:"productId,omitempty"`
}

type ShippingOption struct {
	Provider     string          `json:"provider"`
	Cost         decimal.Decimal `json:"valor"`
	DeliveryDate string          `json:"fecha_entrega,omitempty"`
}

type ShippingQuoteRequest struct {
	BuyerID   ID     `json:"userTikTokId"`
	StoreName string `json:"storeName"`
	CartID    ID     `json:"cartId,omitempty"`
	ProductID ID     `json:"productId,omitempty"`
}

type Bank struct {
	Code string `json:"bankCode"`
	Name string `json:"bankName"`
}

type StoreConfig struct {
	CartEnabled     bool `json:"cartEnabled"`
	CartTimeoutDays int  `json:"cartTimeoutDays"`
}

// FreeShipping is the carrier reported when no shipping option was chosen.
const FreeShipping = "envio_gratis"

type SaleProduct struct {
	ProductID ID              `json:"productId"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	VariantID *ID             `json:"productVariantId,omitempty"`
}

type SaleNew struct {
	BuyerID      ID              `json:"userTikTokId"`
	StoreName    string          `json:"storeName"`
	Products     []SaleProduct   `json:"products"`
	CouponCode   string          `json:"couponCode"`
	ShippingCost decimal.Decimal `json:"shippingCost"`
	Carrier      string          `json:"transportadora"`
	BankCode     string          `json:"bankCode"`

	// IdempotencyKey is sent as a header, never in the body.
	IdempotencyKey string `json:"-"`
}

type ExpiredSaleNew struct {
	CartID   ID     `json:"cartId"`
	BankCode string `json:"bankCode"`
	Token    string `json:"expiredCartToken"`

	IdempotencyKey string `json:"-"`
}

// Redirect is the payment gateway location a submitted sale resolves to.
type Redirect struct {
	URL       string    `json:"urlBanco"`
	CreatedAt time.Time `json:"createdAt"`
}

// PayRequest is what the buyer chooses when paying the vault right away.
// The buyer and store come from the session, never from the request body.
type PayRequest struct {
	BankCode   string `json:"bankCode" validate:"omitempty,bankcode"`
	CouponCode string `json:"couponCode"`
	BuyerID    ID     `json:"-"`
	StoreName  string `json:"-"`
}

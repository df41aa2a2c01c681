package vault

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTimeoutDays is the reservation window applied when the store
// configuration does not provide one.
const DefaultTimeoutDays = 2

type Cart struct {
	ID               ID              `json:"id"`
	Status           Status          `json:"status"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	ShippingCost     decimal.Decimal `json:"shippingCost"`
	ShippingProvider string          `json:"shippingProvider,omitempty"`
	DiscountAmount   decimal.Decimal `json:"discountAmount"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	TimeoutDays      int             `json:"timeoutDays"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
	Items            []Item          `json:"cartItems"`
	Buyer            Buyer           `json:"tiktokUser"`
	Store            Store           `json:"store"`
}

type Item struct {
	ID       ID              `json:"id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Subtotal decimal.Decimal `json:"subtotal"`
	AddedAt  time.Time       `json:"addedAt"`
	Product  Product         `json:"product"`
	Variant  *Variant        `json:"productVariant,omitempty"`
}

type Product struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"imageUrl"`
	Stock    int    `json:"stock"`
}

type Variant struct {
	ID    ID     `json:"id"`
	Color *Label `json:"color,omitempty"`
	Size  *Label `json:"size,omitempty"`
}

type Label struct {
	Name string `json:"name"`
}

type Buyer struct {
	ID      ID     `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address,omitempty"`
	City    *Label `json:"city,omitempty"`
}

type Store struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// OutOfStock reports whether the live product stock no longer covers the
// reserved quantity.
func (it Item) OutOfStock() bool {
	return it.Product.Stock < it.Quantity
}

// Item returns the line with the given id.
func (c *Cart) Item(id ID) (Item, bool) {
	if c == nil {
		return Item{}, false
	}
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Clone returns a deep copy so snapshots handed out never alias store state.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Items = make([]Item, len(c.Items))
	for i, it := range c.Items {
		if it.Variant != nil {
			v := *it.Variant
			v.Color = cloneLabel(v.Color)
			v.Size = cloneLabel(v.Size)
			it.Variant = &v
		}
		cp.Items[i] = it
	}
	cp.Buyer.City = cloneLabel(c.Buyer.City)
	return &cp
}

func cloneLabel(l *Label) *Label {
	if l == nil {
		return nil
	}
	cp := *l
	return &cp
}

type ItemNew struct {
	CartID    ID  `json:"cartId"`
	ProductID ID  `json:"productId" validate:"required"`
	Quantity  int `json:"quantity" validate:"required,gt=0"`
	VariantID *ID `json:"productVariantId,omitempty"`
}

type ItemUp struct {
	ItemID   ID  `json:"cartItemId"`
	Quantity int `json:"quantity" validate:"gte=0"`
}

type CartNew struct {
	BuyerID     ID     `json:"userTikTokId"`
	StoreName   string `json:"storeName"`
	TimeoutDays int    `json:"timeoutDays,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Extension postpones the expiration of an active cart. Exactly one of the
// fields is set.
type Extension struct {
	Days  int `json:"additionalDays,omitempty" validate:"gte=0,lte=30"`
	Hours int `json:"additionalHours,omitempty" validate:"gte=0,lte=720"`
}

func (e Extension) Valid() bool {
	return (e.Days > 0) != (e.Hours > 0)
}

func (e Extension) Duration() time.Duration {
	return time.Duration(e.Days)*24*time.Hour + time.Duration(e.Hours)*time.Hour
}

type ShippingUp struct {
	Cost     decimal.Decimal `json:"shippingCost"`
	Provider string          `json:"shippingProvider" validate:"required"`
}

// Package summary derives the cost breakdown of a vault and decides whether
// it can be checked out.
package summary

import (
	"github.com/comprepues/vault/core/vault"
	"github.com/shopspring/decimal"
)

const (
	ReasonStock = "Corrige el Stock para Continuar"
	ReasonEmpty = "Agrega Productos al Baúl"
)

var hundred = decimal.NewFromInt(100)

type Summary struct {
	Items          int             `json:"items"`
	Units          int             `json:"units"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	Discount       decimal.Decimal `json:"discount"`
	Shipping       decimal.Decimal `json:"shipping"`
	Total          decimal.Decimal `json:"total"`
	Computed       decimal.Decimal `json:"computed"`
	Provisional    bool            `json:"provisional"`
	HasStockIssues bool            `json:"hasStockIssues"`
	OutOfStock     []vault.ID      `json:"outOfStock,omitempty"`
	CanCheckout    bool            `json:"canCheckout"`
	BlockReason    string          `json:"blockReason,omitempty"`
	Coupon         *vault.Coupon   `json:"coupon,omitempty"`
	Display        Display         `json:"display"`
}

// Display carries the amounts already formatted in COP.
type Display struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

// Compute builds the summary of cart. A valid coupon replaces the discount
// stored on the cart; an invalid one is ignored. The server total stays the
// displayed figure; when the local arithmetic disagrees with it the local
// figure is kept in Computed and the summary is marked provisional.
func Compute(cart *vault.Cart, coupon *vault.Coupon) Summary {
	var s Summary
	if cart == nil {
		s.BlockReason = ReasonEmpty
		s.Display = display(s)
		return s
	}

	s.Items = len(cart.Items)
	for _, it := range cart.Items {
		s.Units += it.Quantity
		s.Subtotal = s.Subtotal.Add(it.Subtotal)
		if it.OutOfStock() {
			s.HasStockIssues = true
			s.OutOfStock = append(s.OutOfStock, it.ID)
		}
	}

	s.Discount = cart.DiscountAmount
	if coupon != nil && coupon.Valid {
		s.Discount = CouponDiscount(*coupon, s.Subtotal)
		cp := *coupon
		s.Coupon = &cp
	}
	s.Discount = clamp(s.Discount, s.Subtotal)

	s.Shipping = cart.ShippingCost
	if s.Shipping.IsNegative() {
		s.Shipping = decimal.Zero
	}

	s.Computed = s.Subtotal.Sub(s.Discount).Add(s.Shipping)
	s.Total = cart.TotalAmount
	if !s.Computed.Equal(s.Total) {
		s.Provisional = true
	}

	switch {
	case s.Items == 0:
		s.BlockReason = ReasonEmpty
	case s.HasStockIssues:
		s.BlockReason = ReasonStock
	default:
		s.CanCheckout = true
	}

	s.Display = display(s)
	return s
}

// CouponDiscount is the amount a coupon takes off subtotal, never more than
// the subtotal itself.
func CouponDiscount(c vault.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var d decimal.Decimal
	switch c.DiscountType {
	case vault.Percentage:
		d = subtotal.Mul(c.DiscountValue).Div(hundred)
	case vault.Fixed:
		d = c.DiscountValue
	}
	return clamp(d, subtotal)
}

func clamp(d, limit decimal.Decimal) decimal.Decimal {
	if d.IsNegative() || limit.IsNegative() {
		return decimal.Zero
	}
	return decimal.Min(d, limit)
}

func display(s Summary) Display {
	return Display{
		Subtotal: vault.Format(s.Subtotal),
		Discount: vault.Format(s.Discount),
		Shipping: vault.Format(s.Shipping),
		Total:    vault.Format(s.Total),
	}
}

// Err reports why the summary blocks checkout, or nil.
func (s Summary) Err() error {
	switch s.BlockReason {
	case ReasonEmpty:
		return vault.ErrEmptyCart
	case ReasonStock:
		return vault.ErrStockIssues
	}
	return nil
}

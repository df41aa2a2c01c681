// Package checkout turns a vault into a sale. The active vault can be paid
// right away; an expired one is paid through the link the backend sends to
// the buyer.
package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/comprepues/vault/core/backend"
	"github.com/comprepues/vault/core/summary"
	"github.com/comprepues/vault/core/vault"
	"github.com/comprepues/vault/validate"
	"github.com/sirupsen/logrus"
)

const (
	msgSale     = "Error al procesar la venta"
	msgPay      = "Error al procesar el pago"
	msgCoupon   = "Error al validar el cupón."
	msgBanks    = "Error al cargar los bancos"
	msgShipping = "Error al cotizar el envío"
	msgExpired  = "Error al cargar el carrito"
)

type Backend interface {
	CreateSale(ctx context.Context, ns vault.SaleNew) (vault.Redirect, error)
	ExpiredCart(ctx context.Context, cartID vault.ID, token string) (*vault.Cart, error)
	SaleFromExpiredCart(ctx context.Context, ns vault.ExpiredSaleNew) (vault.Redirect, error)
	StoreConfig(ctx context.Context, storeName string) (vault.StoreConfig, error)
	StoreByName(ctx context.Context, storeName string) (vault.Store, error)
	Banks(ctx context.Context, storeName string) ([]vault.Bank, error)
	ValidateCoupon(ctx context.Context, cc vault.CouponCheck) (vault.Coupon, error)
	QuoteShipping(ctx context.Context, qr vault.ShippingQuoteRequest) ([]vault.ShippingOption, error)
}

type Service struct {
	be  Backend
	log logrus.FieldLogger

	paying sync.Map
	keys   sync.Map
}

func New(be Backend, log logrus.FieldLogger) *Service {
	return &Service{be: be, log: log}
}

func userError(err error, fallback string) error {
	return &vault.UserError{Message: backend.Message(err, fallback), Err: err}
}

// PayCart creates the sale for the active vault and returns the gateway
// location. Only one payment per cart can be in flight, and an attempt the
// backend did not answer for sure lends its idempotency key to the next one.
func (s *Service) PayCart(ctx context.Context, cart *vault.Cart, req vault.PayRequest) (vault.Redirect, error) {
	if req.BankCode == "" {
		return vault.Redirect{}, vault.ErrNoBankSelected
	}
	if cart == nil {
		return vault.Redirect{}, vault.ErrNoCart
	}
	if cart.Status != vault.Active {
		return vault.Redirect{}, vault.ErrNotActive
	}
	if err := summary.Compute(cart, nil).Err(); err != nil {
		return vault.Redirect{}, err
	}

	if _, loaded := s.paying.LoadOrStore(cart.ID, struct{}{}); loaded {
		return vault.Redirect{}, vault.ErrBusy
	}
	defer s.paying.Delete(cart.ID)

	ns := newSale(cart, req)
	key, _ := s.keys.LoadOrStore(cart.ID, validate.GenerateID())
	ns.IdempotencyKey = key.(string)
	log := s.log.WithFields(logrus.Fields{
		"cart_id":  cart.ID,
		"buyer_id": ns.BuyerID,
		"store":    ns.StoreName,
	})

	red, err := s.be.CreateSale(ctx, ns)
	if settled(err) {
		s.keys.Delete(cart.ID)
	}
	if err != nil {
		log.WithError(err).Warn(msgSale)
		return vault.Redirect{}, userError(err, msgSale)
	}

	log.Info("sale created")
	return red, nil
}

// settled reports whether the backend gave a definite answer to a sale. An
// unsettled sale may exist, so the next attempt repeats its idempotency key.
func settled(err error) bool {
	return err == nil || !backend.IsRetryable(err)
}

func newSale(cart *vault.Cart, req vault.PayRequest) vault.SaleNew {
	ns := vault.SaleNew{
		BuyerID:      req.BuyerID,
		StoreName:    req.StoreName,
		Products:     make([]vault.SaleProduct, 0, len(cart.Items)),
		CouponCode:   req.CouponCode,
		ShippingCost: cart.ShippingCost,
		Carrier:      cart.ShippingProvider,
		BankCode:     req.BankCode,
	}
	if ns.BuyerID.IsZero() {
		ns.BuyerID = cart.Buyer.ID
	}
	if ns.StoreName == "" {
		ns.StoreName = cart.Store.Name
	}
	if ns.Carrier == "" {
		ns.Carrier = vault.FreeShipping
	}

	for _, it := range cart.Items {
		sp := vault.SaleProduct{
			ProductID: it.Product.ID,
			Quantity:  it.Quantity,
			Price:     it.Price,
		}
		if it.Variant != nil {
			id := it.Variant.ID
			sp.VariantID = &id
		}
		ns.Products = append(ns.Products, sp)
	}
	return ns
}

// ValidateCoupon checks code against the store the buyer shops in.
func (s *Service) ValidateCoupon(ctx context.Context, buyerID vault.ID, storeName, code string, productID vault.ID) (vault.Coupon, error) {
	store, err := s.be.StoreByName(ctx, storeName)
	if err != nil {
		return vault.Coupon{}, userError(fmt.Errorf("resolving store[%s]: %w", storeName, err), msgCoupon)
	}

	cp, err := s.be.ValidateCoupon(ctx, vault.CouponCheck{
		Code:      code,
		StoreID:   store.ID,
		BuyerID:   buyerID,
		ProductID: productID,
	})
	if err != nil {
		return vault.Coupon{}, userError(err, msgCoupon)
	}
	return cp, nil
}

func (s *Service) QuoteShipping(ctx context.Context, qr vault.ShippingQuoteRequest) ([]vault.ShippingOption, error) {
	opts, err := s.be.QuoteShipping(ctx, qr)
	if err != nil {
		return nil, userError(err, msgShipping)
	}
	return opts, nil
}

func (s *Service) Banks(ctx context.Context, storeName string) ([]vault.Bank, error) {
	banks, err := s.be.Banks(ctx, storeName)
	if err != nil {
		return nil, userError(err, msgBanks)
	}
	return banks, nil
}

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/comprepues/vault/core/vault"
	"github.com/comprepues/vault/validate"
	"github.com/shopspring/decimal"
)

// CreateSale registers an immediate sale and returns where the buyer pays.
func (c *Client) CreateSale(ctx context.Context, ns vault.SaleNew) (vault.Redirect, error) {
	const op = "create sale"

	raw, err := c.send(ctx, op, http.MethodPost, c.endpoint(nil, "sales"), ns, idempotent(ns.IdempotencyKey))
	if err != nil {
		return vault.Redirect{}, err
	}
	return parseRedirect(op, raw)
}

// SaleFromExpiredCart turns an expired cart into a sale. The possession token
// authorizes the call.
func (c *Client) SaleFromExpiredCart(ctx context.Context, ns vault.ExpiredSaleNew) (vault.Redirect, error) {
	const op = "sale from expired cart"

	raw, err := c.send(ctx, op, http.MethodPost, c.endpoint(nil, "sales", "from-expired-cart"), ns, idempotent(ns.IdempotencyKey))
	if err != nil {
		return vault.Redirect{}, err
	}
	return parseRedirect(op, raw)
}

// IdempotencyHeader carries the key of every sale submission. Submissions
// without a key get a fresh one.
const IdempotencyHeader = "Idempotency-Key"

func idempotent(key string) http.Header {
	if key == "" {
		key = validate.GenerateID()
	}
	return http.Header{IdempotencyHeader: {key}}
}

// parseRedirect requires a usable gateway url; an answer without one is a
// rejection even when it claims success.
func parseRedirect(op string, raw json.RawMessage) (vault.Redirect, error) {
	if raw == nil {
		return vault.Redirect{}, &Error{Kind: Rejected, Op: op, Err: errEmpty}
	}

	var r vault.Redirect
	if err := decode(op, raw, &r); err != nil {
		return vault.Redirect{}, err
	}
	if r.URL == "" || r.URL == "undefined" {
		return vault.Redirect{}, &Error{Kind: Rejected, Op: op, Message: message(raw)}
	}
	return r, nil
}

// StoreConfig reads the public configuration of a store. Missing fields take
// the defaults the storefront assumes: vault enabled, two days timeout.
func (c *Client) StoreConfig(ctx context.Context, storeName string) (vault.StoreConfig, error) {
	const op = "store config"

	raw, err := c.do(ctx, op, http.MethodGet, c.endpoint(nil, "store-config", "public", storeName), nil)
	if err != nil {
		return vault.StoreConfig{}, err
	}

	cfg := vault.StoreConfig{CartEnabled: true, CartTimeoutDays: vault.DefaultTimeoutDays}
	if raw == nil {
		return cfg, nil
	}

	var wire struct {
		CartEnabled     *bool `json:"cartEnabled"`
		CartTimeoutDays int   `json:"cartTimeoutDays"`
	}
	if err := decode(op, raw, &wire); err != nil {
		return vault.StoreConfig{}, err
	}
	if wire.CartEnabled != nil {
		cfg.CartEnabled = *wire.CartEnabled
	}
	if wire.CartTimeoutDays > 0 {
		cfg.CartTimeoutDays = wire.CartTimeoutDays
	}
	return cfg, nil
}

// StoreByName resolves the store reference, needed by coupon validation.
func (c *Client) StoreByName(ctx context.Context, storeName string) (vault.Store, error) {
	const op = "store by name"

	raw, err := c.do(ctx, op, http.MethodGet, c.endpoint(nil, "stores", "name", storeName), nil)
	if err != nil {
		return vault.Store{}, err
	}
	if raw == nil {
		return vault.Store{}, &Error{Kind: NotFound, Op: op, Err: errEmpty}
	}

	var s vault.Store
	if err := decode(op, raw, &s); err != nil {
		return vault.Store{}, err
	}
	return s, nil
}

// Banks lists the banks a store accepts. An empty store name selects the
// default list.
func (c *Client) Banks(ctx context.Context, storeName string) ([]vault.Bank, error) {
	const op = "banks"

	if storeName == "" {
		storeName = "default"
	}

	raw, err := c.do(ctx, op, http.MethodGet, c.endpoint(nil, "payment", "banks", storeName), nil)
	if err != nil {
		return nil, err
	}

	banks := []vault.Bank{}
	if raw == nil {
		return banks, nil
	}
	if err := decode(op, raw, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

// ValidateCoupon asks whether a coupon applies. An invalid coupon is not an
// error: the returned Coupon has Valid unset and carries the reason.
func (c *Client) ValidateCoupon(ctx context.Context, cc vault.CouponCheck) (vault.Coupon, error) {
	const op = "validate coupon"

	raw, err := c.do(ctx, op, http.MethodPost, c.endpoint(nil, "coupons", "validate"), cc)
	if err != nil {
		return vault.Coupon{}, err
	}

	cp := vault.Coupon{Code: cc.Code}
	if raw == nil {
		return cp, nil
	}
	if err := decode(op, raw, &cp); err != nil {
		return vault.Coupon{}, err
	}
	cp.Code = cc.Code
	return cp, nil
}

// QuoteShipping flattens the provider keyed quote into a list ordered by
// cost, then provider.
func (c *Client) QuoteShipping(ctx context.Context, qr vault.ShippingQuoteRequest) ([]vault.ShippingOption, error) {
	const op = "shipping quote"

	raw, err := c.do(ctx, op, http.MethodPost, c.endpoint(nil, "shipments", "shipment-quote"), qr)
	if err != nil {
		return nil, err
	}

	opts := []vault.ShippingOption{}
	if raw == nil {
		return opts, nil
	}

	if raw[0] == '[' {
		if err := decode(op, raw, &opts); err != nil {
			return nil, err
		}
	} else {
		var byProvider map[string]struct {
			Cost         decimal.Decimal `json:"valor"`
			DeliveryDate string          `json:"fecha_entrega"`
		}
		if err := decode(op, raw, &byProvider); err != nil {
			return nil, err
		}
		for provider, q := range byProvider {
			opts = append(opts, vault.ShippingOption{
				Provider:     provider,
				Cost:         q.Cost,
				DeliveryDate: q.DeliveryDate,
			})
		}
	}

	sort.Slice(opts, func(i, j int) bool {
		if d := opts[i].Cost.Cmp(opts[j].Cost); d != 0 {
			return d < 0
		}
		return opts[i].Provider < opts[j].Provider
	})
	return opts, nil
}

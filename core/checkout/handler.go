package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/api/weberr"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/fault"
	"github.com/comprepues/vault/core/vault"
)

type expiredPay struct {
	BankCode string `json:"bankCode" validate:"omitempty,bankcode"`
	Token    string `json:"token"`
}

type couponCheck struct {
	Code      string   `json:"code" validate:"required,max=64"`
	ProductID vault.ID `json:"productId"`
}

type shippingQuote struct {
	CartID    vault.ID `json:"cartId"`
	ProductID vault.ID `json:"productId"`
}

func HandleExpiredShow(flows *Flows) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		cartID := vault.ID(web.Param(r, "cart_id"))
		token := r.URL.Query().Get("token")

		v, err := flows.Load(ctx, cartID, token)
		if err != nil {
			return fault.Web(fmt.Errorf("loading expired vault[%s]: %w", cartID, err))
		}

		return web.Respond(ctx, w, v, http.StatusOK)
	}
}

// HandleExpiredPay takes the token from the query or, failing that, from the
// body.
func HandleExpiredPay(flows *Flows) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		cartID := vault.ID(web.Param(r, "cart_id"))

		var req expiredPay
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}
		if tk := r.URL.Query().Get("token"); tk != "" {
			req.Token = tk
		}

		red, err := flows.Submit(ctx, cartID, req.Token, req.BankCode)
		if err != nil {
			return fault.Web(fmt.Errorf("paying expired vault[%s]: %w", cartID, err))
		}

		return web.Respond(ctx, w, red, http.StatusOK)
	}
}

// HandleBanks lists the banks of the store in the query, or the default list.
func HandleBanks(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		banks, err := svc.Banks(ctx, r.URL.Query().Get("storeName"))
		if err != nil {
			return fault.Web(fmt.Errorf("listing banks: %w", err))
		}

		return web.Respond(ctx, w, banks, http.StatusOK)
	}
}

func HandleValidateCoupon(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("buyer not authenticated"))
		}

		var req couponCheck
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		cp, err := svc.ValidateCoupon(ctx, clm.BuyerID, clm.StoreName, req.Code, req.ProductID)
		if err != nil {
			return fault.Web(fmt.Errorf("validating coupon[%s]: %w", req.Code, err))
		}

		return web.Respond(ctx, w, cp, http.StatusOK)
	}
}

func HandleQuoteShipping(svc *Service) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("buyer not authenticated"))
		}

		var req shippingQuote
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		opts, err := svc.QuoteShipping(ctx, vault.ShippingQuoteRequest{
			BuyerID:   clm.BuyerID,
			StoreName: clm.StoreName,
			CartID:    req.CartID,
			ProductID: req.ProductID,
		})
		if err != nil {
			return fault.Web(fmt.Errorf("quoting shipping: %w", err))
		}

		return web.Respond(ctx, w, opts, http.StatusOK)
	}
}

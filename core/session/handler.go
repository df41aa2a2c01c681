package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/comprepues/vault/api/background"
	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/api/weberr"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/fault"
	"github.com/comprepues/vault/core/lineitem"
	"github.com/comprepues/vault/core/summary"
	"github.com/comprepues/vault/core/vault"
	"github.com/shopspring/decimal"
)

const reloadTimeout = 15 * time.Second

// Coupons validates the coupon a buyer types in the summary.
type Coupons interface {
	ValidateCoupon(ctx context.Context, buyerID vault.ID, storeName, code string, productID vault.ID) (vault.Coupon, error)
}

type sessionOpen struct {
	BuyerID   vault.ID `json:"buyerId" validate:"required"`
	StoreName string   `json:"storeName" validate:"required,max=120"`
	Token     string   `json:"token" validate:"required"`
}

type itemAdd struct {
	ProductID vault.ID  `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
	VariantID *vault.ID `json:"productVariantId"`
}

type itemSet struct {
	Quantity int  `json:"quantity" validate:"gte=0"`
	Confirm  bool `json:"confirm"`
	Cancel   bool `json:"cancel"`
}

type shippingSet struct {
	Cost     decimal.Decimal `json:"shippingCost"`
	Provider string          `json:"shippingProvider" validate:"max=64"`
}

// View is what every vault endpoint answers with.
type View struct {
	Cart      *vault.Cart     `json:"cart"`
	Summary   summary.Summary `json:"summary"`
	Cached    bool            `json:"cached"`
	Busy      bool            `json:"busy"`
	LastError string          `json:"lastError,omitempty"`
}

type lineView struct {
	Line lineitem.State `json:"line"`
	View
}

func view(v *Vault) View {
	st := v.Store.State()
	return View{
		Cart:      st.Cart,
		Summary:   summary.Compute(st.Cart, nil),
		Cached:    st.Cached,
		Busy:      st.Busy,
		LastError: st.LastError,
	}
}

// current resolves the vault of the authenticated buyer, reopening it when
// the session outlived its registry entry.
func current(ctx context.Context, reg *Registry) (*Vault, error) {
	clm, err := claims.Get(ctx)
	if err != nil {
		return nil, weberr.NotAuthorized(errors.New("buyer not authenticated"))
	}

	v, err := reg.Open(ctx, clm)
	if err != nil {
		return nil, fault.Web(fmt.Errorf("opening vault of buyer[%s]: %w", clm.BuyerID, err))
	}
	return v, nil
}

func HandleOpen(reg *Registry, sm *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var req sessionOpen
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		clm := claims.Claims{BuyerID: req.BuyerID, StoreName: req.StoreName, Token: req.Token}

		v, err := reg.Open(ctx, clm)
		if err != nil {
			return fault.Web(fmt.Errorf("opening vault of buyer[%s]: %w", clm.BuyerID, err))
		}

		if err := claims.Open(ctx, sm, clm); err != nil {
			return fmt.Errorf("binding buyer[%s] to the session: %w", clm.BuyerID, err)
		}

		return web.Respond(ctx, w, view(v), http.StatusCreated)
	}
}

func HandleClose(reg *Registry, sm *scs.SessionManager) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		clm, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(errors.New("buyer not authenticated"))
		}

		reg.Close(clm)
		if err := claims.Close(ctx, sm); err != nil {
			return err
		}

		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}
}

func HandleShow(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		if _, err := v.Store.Load(ctx); err != nil {
			return fault.Web(fmt.Errorf("loading vault: %w", err))
		}

		return web.Respond(ctx, w, view(v), http.StatusOK)
	}
}

func HandleCreate(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		if _, err := v.Store.Create(ctx); err != nil {
			return fault.Web(fmt.Errorf("creating vault: %w", err))
		}

		return web.Respond(ctx, w, view(v), http.StatusCreated)
	}
}

func HandleAddItem(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		var req itemAdd
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		if err := v.Store.AddItem(ctx, req.ProductID, req.Quantity, req.VariantID); err != nil {
			return fault.Web(fmt.Errorf("adding product[%s]: %w", req.ProductID, err))
		}

		return web.Respond(ctx, w, view(v), http.StatusCreated)
	}
}

// HandleSetQuantity edits a line. Zero only asks for confirmation unless the
// request confirms it; cancel drops a pending removal.
func HandleSetQuantity(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		itemID := vault.ID(web.Param(r, "id"))

		var req itemSet
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		lc := v.Line(itemID)

		var st lineitem.State
		switch {
		case req.Cancel:
			st, err = lc.CancelRemoval()
		case req.Quantity == 0 && req.Confirm:
			err = remove(ctx, v, lc)
		default:
			st, err = lc.SetQuantity(ctx, req.Quantity)
		}
		if errors.Is(err, vault.ErrItemNotFound) {
			v.DropLine(itemID)
		}
		if err != nil {
			return fault.Web(fmt.Errorf("updating item[%s]: %w", itemID, err))
		}

		return web.Respond(ctx, w, lineView{Line: st, View: view(v)}, http.StatusOK)
	}
}

func HandleRemoveItem(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		itemID := vault.ID(web.Param(r, "id"))
		if err := remove(ctx, v, v.Line(itemID)); err != nil {
			return fault.Web(fmt.Errorf("removing item[%s]: %w", itemID, err))
		}

		return web.Respond(ctx, w, view(v), http.StatusOK)
	}
}

func remove(ctx context.Context, v *Vault, lc *lineitem.Controller) error {
	if _, err := lc.State(); err != nil {
		v.DropLine(lc.ItemID())
		return err
	}
	if _, err := lc.RequestRemoval(ctx); err != nil && !errors.Is(err, vault.ErrRemovalNotConfirmed) {
		return err
	}
	if err := lc.ConfirmRemoval(ctx); err != nil {
		return err
	}
	v.DropLine(lc.ItemID())
	return nil
}

func HandleExtend(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		var ext vault.Extension
		if err := web.DecodeValid(w, r, &ext); err != nil {
			return err
		}

		if err := v.Timer.ExtendTime(ctx, ext); err != nil {
			return fault.Web(fmt.Errorf("extending vault: %w", err))
		}

		return web.Respond(ctx, w, view(v), http.StatusOK)
	}
}

func HandleSetShipping(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		var req shippingSet
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		up := vault.ShippingUp{Cost: req.Cost, Provider: req.Provider}
		if err := v.Store.SetShipping(ctx, up); err != nil {
			return fault.Web(fmt.Errorf("setting shipping: %w", err))
		}

		return web.Respond(ctx, w, view(v), http.StatusOK)
	}
}

func HandleTimer(reg *Registry) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		tv, ok := v.Timer.View()
		if !ok {
			return fault.Web(fmt.Errorf("counting down: %w", vault.ErrNoCart), weberr.WithFields(map[string]interface{}{
				"buyer_id": v.Claims.BuyerID,
			}))
		}

		return web.Respond(ctx, w, tv, http.StatusOK)
	}
}

// HandleSummary computes the cost summary, applying the coupon in the query
// when the backend accepts it.
func HandleSummary(reg *Registry, coupons Coupons) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		var cp *vault.Coupon
		if code := r.URL.Query().Get("coupon"); code != "" {
			c, err := coupons.ValidateCoupon(ctx, v.Claims.BuyerID, v.Claims.StoreName, code, "")
			if err != nil {
				return fault.Web(fmt.Errorf("validating coupon[%s]: %w", code, err))
			}
			cp = &c
		}

		return web.Respond(ctx, w, summary.Compute(v.Store.Snapshot(), cp), http.StatusOK)
	}
}

// HandleCheckout pays the vault now. The snapshot is refreshed in the
// background once the backend took the sale.
func HandleCheckout(reg *Registry, bg *background.Background) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		v, err := current(ctx, reg)
		if err != nil {
			return err
		}

		var req vault.PayRequest
		if err := web.DecodeValid(w, r, &req); err != nil {
			return err
		}

		red, err := v.Timer.ProcessNow(ctx, req)
		if err != nil {
			return fault.Web(fmt.Errorf("paying vault: %w", err))
		}
		v.Store.Forget(ctx)

		rctx := context.WithoutCancel(ctx)
		bg.Go("reload paid vault", func() {
			ctx, cancel := context.WithTimeout(rctx, reloadTimeout)
			defer cancel()
			// Failures are logged by the store.
			_, _ = v.Store.Load(ctx)
		})

		return web.Respond(ctx, w, red, http.StatusOK)
	}
}

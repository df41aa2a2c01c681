package api

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/comprepues/vault/api/background"
	"github.com/comprepues/vault/api/middleware"
	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/core/checkout"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/session"
	"github.com/comprepues/vault/rate"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	CorsOrigin string
	Log        logrus.FieldLogger
	Session    *scs.SessionManager
	Registry   *session.Registry
	Checkout   *checkout.Service
	Expired    *checkout.Flows
	Limiter    *rate.Limiter
	Background *background.Background
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, claims.LoadAndSave(cfg.Session))
	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log, "/health"))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	if cfg.CorsOrigin != "" {
		a.mw = append(a.mw, middleware.Cors(cfg.CorsOrigin))

		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			w.WriteHeader(http.StatusNoContent)
			return nil
		}

		a.Handle(http.MethodOptions, "/{path:.*}", h)
	}

	authen := claims.Authenticate(cfg.Session)

	var limit web.Middleware
	if cfg.Limiter != nil {
		limit = middleware.RateLimit(cfg.Limiter)
	}

	a.Handle(http.MethodGet, "/health", handleHealth)

	a.Handle(http.MethodPost, "/session", session.HandleOpen(cfg.Registry, cfg.Session))
	a.Handle(http.MethodDelete, "/session", session.HandleClose(cfg.Registry, cfg.Session), authen)

	a.Handle(http.MethodGet, "/vault", session.HandleShow(cfg.Registry), authen)
	a.Handle(http.MethodPost, "/vault", session.HandleCreate(cfg.Registry), authen)
	a.Handle(http.MethodPost, "/vault/items", session.HandleAddItem(cfg.Registry), authen)
	a.Handle(http.MethodPut, "/vault/items/{id}", session.HandleSetQuantity(cfg.Registry), authen)
	a.Handle(http.MethodDelete, "/vault/items/{id}", session.HandleRemoveItem(cfg.Registry), authen)
	a.Handle(http.MethodPut, "/vault/extend", session.HandleExtend(cfg.Registry), authen)
	a.Handle(http.MethodPut, "/vault/shipping", session.HandleSetShipping(cfg.Registry), authen)
	a.Handle(http.MethodGet, "/vault/timer", session.HandleTimer(cfg.Registry), authen)
	a.Handle(http.MethodGet, "/vault/summary", session.HandleSummary(cfg.Registry, cfg.Checkout), authen)
	a.Handle(http.MethodPost, "/vault/checkout", session.HandleCheckout(cfg.Registry, cfg.Background), authen)

	a.Handle(http.MethodGet, "/expired/{cart_id}", checkout.HandleExpiredShow(cfg.Expired), limit)
	a.Handle(http.MethodPost, "/expired/{cart_id}/pay", checkout.HandleExpiredPay(cfg.Expired), limit)

	a.Handle(http.MethodGet, "/banks", checkout.HandleBanks(cfg.Checkout))
	a.Handle(http.MethodPost, "/coupons/validate", checkout.HandleValidateCoupon(cfg.Checkout), authen)
	a.Handle(http.MethodPost, "/shipping/quote", checkout.HandleQuoteShipping(cfg.Checkout), authen)

	return a.Router
}

func handleHealth(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status := struct {
		Status string `json:"status"`
	}{"ok"}
	return web.Respond(ctx, w, status, http.StatusOK)
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {

	handler = web.WrapMiddleware(mw, handler)

	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {

			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}

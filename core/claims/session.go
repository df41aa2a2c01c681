package claims

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/api/weberr"
	"github.com/comprepues/vault/core/vault"
)

const (
	buyerKey = "buyer_id"
	storeKey = "store_name"
	tokenKey = "token"
)

// LoadAndSave loads the session of the request and commits it once the
// handler returns.
func LoadAndSave(sm *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			var herr error
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				herr = handler(r.Context(), w, r)
			})

			sm.LoadAndSave(next).ServeHTTP(w, r.WithContext(ctx))
			return herr
		}
		return h
	}
	return m
}

// Open binds the claims to the session, renewing its token.
func Open(ctx context.Context, sm *scs.SessionManager, c Claims) error {
	if err := sm.RenewToken(ctx); err != nil {
		return fmt.Errorf("renewing session token: %w", err)
	}

	sm.Put(ctx, buyerKey, c.BuyerID.String())
	sm.Put(ctx, storeKey, c.StoreName)
	sm.Put(ctx, tokenKey, c.Token)
	return nil
}

// Close drops the session altogether.
func Close(ctx context.Context, sm *scs.SessionManager) error {
	if err := sm.Destroy(ctx); err != nil {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}

// FromSession reads the claims bound to the session.
func FromSession(ctx context.Context, sm *scs.SessionManager) (Claims, bool) {
	buyer := sm.GetString(ctx, buyerKey)
	if buyer == "" {
		return Claims{}, false
	}

	return Claims{
		BuyerID:   vault.ID(buyer),
		StoreName: sm.GetString(ctx, storeKey),
		Token:     sm.GetString(ctx, tokenKey),
	}, true
}

// Authenticate rejects requests without an open buyer session and puts the
// claims in the context of the others.
func Authenticate(sm *scs.SessionManager) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			c, ok := FromSession(ctx, sm)
			if !ok {
				return weberr.NotAuthorized(errors.New("buyer session not open"))
			}

			return handler(Set(ctx, c), w, r)
		}
		return h
	}
	return m
}

package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/api/weberr"
	"github.com/comprepues/vault/rate"
)

// RateLimit refuses clients, identified by remote address, that exceed the
// limiter.
func RateLimit(l *rate.Limiter) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}

			if !l.Check(host) {
				err := errors.New("rate limit exceeded")
				return weberr.NewCodedError(err, "demasiadas solicitudes, intenta más tarde", "rate_limited", http.StatusTooManyRequests,
					weberr.WithFields(map[string]interface{}{"client": host}))
			}

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

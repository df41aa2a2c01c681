package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/comprepues/vault/api/web"
	"github.com/comprepues/vault/random"
)

const (
	RequestIDHeader = "X-Request-Id"

	DefaultRequestIDLengthLimit = 128
)

type reqIDKeyCtx int

const reqIDKey reqIDKeyCtx = 1

var reqID int64

var reqPrefix string

func init() {
	p, err := random.Token(10)
	if err != nil {
		p = "vault"
	}
	reqPrefix = p
}

// RequestID takes the request id from the incoming header or mints one, and
// echoes it back so the storefront can quote it.
func RequestID() web.Middleware {
	lengthLimit := DefaultRequestIDLengthLimit
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = fmt.Sprintf("%s-%d", reqPrefix, atomic.AddInt64(&reqID, 1))
			} else if lengthLimit >= 0 && len(id) > lengthLimit {
				id = id[:lengthLimit]
			}
			ctx = context.WithValue(ctx, reqIDKey, id)
			w.Header().Set(RequestIDHeader, id)

			return handler(ctx, w, r)
		}
		return h
	}
	return m
}

// WithRequestID returns ctx carrying id, for calls made outside a request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reqIDKey, id)
}

func ContextRequestID(ctx context.Context) (reqID string) {
	if id, ok := ctx.Value(reqIDKey).(string); ok {
		reqID = id
	}
	return
}

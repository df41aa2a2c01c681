package claims

import (
	"context"
	"errors"

	"github.com/comprepues/vault/core/vault"
)

// Claims identify the buyer a request acts for: who they are, in which
// store, and the bearer token the backend expects for them.
type Claims struct {
	BuyerID   vault.ID
	StoreName string
	Token     string
}

type ctxKey int

const claimsKey ctxKey = 1

func Set(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func Get(ctx context.Context) (Claims, error) {
	v, ok := ctx.Value(claimsKey).(Claims)
	if !ok {
		return Claims{}, errors.New("claim value missing from context")
	}
	return v, nil
}

// Key identifies the buyer and store pair the claims belong to.
func (c Claims) Key() string {
	return c.StoreName + "/" + c.BuyerID.String()
}

package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/comprepues/vault/core/timeleft"
	"github.com/comprepues/vault/core/vault"
)

// ActiveCart fetches the active cart of the buyer in the store. It returns
// nil without error when the buyer has none.
func (c *Client) ActiveCart(ctx context.Context, buyerID vault.ID, storeName string) (*vault.Cart, error) {
	const op = "active cart"

	q := url.Values{"storeName": {storeName}}
	raw, err := c.do(ctx, op, http.MethodGet, c.endpoint(q, "cart", "user", buyerID.String()), nil)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseActiveCart(op, raw)
}

// parseActiveCart accepts a single cart or a list of carts. From a list the
// first ACTIVE cart wins, else the first one.
func parseActiveCart(op string, raw json.RawMessage) (*vault.Cart, error) {
	if raw == nil {
		return nil, nil
	}

	if raw[0] == '[' {
		var carts []vault.Cart
		if err := decode(op, raw, &carts); err != nil {
			return nil, err
		}
		if len(carts) == 0 {
			return nil, nil
		}
		for i := range carts {
			if carts[i].Status == vault.Active {
				return &carts[i], nil
			}
		}
		return &carts[0], nil
	}

	return parseCart(op, raw)
}

func parseCart(op string, raw json.RawMessage) (*vault.Cart, error) {
	if raw == nil {
		return nil, nil
	}

	var cart vault.Cart
	if err := decode(op, raw, &cart); err != nil {
		return nil, err
	}
	if cart.ID.IsZero() {
		return nil, nil
	}
	return &cart, nil
}

// CreateCart creates the buyer's cart. The backend answers with the existing
// active cart when there is one.
func (c *Client) CreateCart(ctx context.Context, nc vault.CartNew) (*vault.Cart, error) {
	const op = "create cart"

	raw, err := c.do(ctx, op, http.MethodPost, c.endpoint(nil, "cart", "create"), nc)
	if err != nil {
		return nil, err
	}
	return parseCart(op, raw)
}

func (c *Client) AddItem(ctx context.Context, ni vault.ItemNew) error {
	_, err := c.do(ctx, "add item", http.MethodPost, c.endpoint(nil, "cart", "add-item"), ni)
	return err
}

func (c *Client) UpdateItem(ctx context.Context, up vault.ItemUp) error {
	_, err := c.do(ctx, "update item", http.MethodPut, c.endpoint(nil, "cart", "update-item"), up)
	return err
}

func (c *Client) RemoveItem(ctx context.Context, itemID vault.ID) error {
	_, err := c.do(ctx, "remove item", http.MethodDelete, c.endpoint(nil, "cart", "remove-item", itemID.String()), nil)
	return err
}

func (c *Client) Extend(ctx context.Context, cartID vault.ID, ext vault.Extension) error {
	_, err := c.do(ctx, "extend cart", http.MethodPut, c.endpoint(nil, "cart", "extend", cartID.String()), ext)
	return err
}

func (c *Client) SetShipping(ctx context.Context, cartID vault.ID, up vault.ShippingUp) error {
	_, err := c.do(ctx, "set shipping", http.MethodPut, c.endpoint(nil, "cart", cartID.String(), "shipping"), up)
	return err
}

// TimeRemaining asks the backend for the authoritative countdown.
func (c *Client) TimeRemaining(ctx context.Context, cartID vault.ID) (timeleft.Remaining, error) {
	const op = "time remaining"

	raw, err := c.do(ctx, op, http.MethodGet, c.endpoint(nil, "cart", "time-remaining", cartID.String()), nil)
	if err != nil {
		return timeleft.Remaining{}, err
	}
	if raw == nil {
		return timeleft.Remaining{}, &Error{Kind: Upstream, Op: op, Err: errEmpty}
	}

	var r timeleft.Remaining
	if err := decode(op, raw, &r); err != nil {
		return timeleft.Remaining{}, err
	}
	return r, nil
}

// ExpiredCart loads an expired cart through its possession token. No bearer
// token is involved.
func (c *Client) ExpiredCart(ctx context.Context, cartID vault.ID, token string) (*vault.Cart, error) {
	const op = "expired cart"

	q := url.Values{"token": {token}}
	raw, err := c.do(ctx, op, http.MethodGet, c.endpoint(q, "cart", "expired", cartID.String()), nil)
	if err != nil {
		return nil, err
	}

	cart, err := parseCart(op, raw)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, &Error{Kind: NotFound, Op: op, Message: "Carrito no encontrado o enlace inválido"}
	}
	return cart, nil
}

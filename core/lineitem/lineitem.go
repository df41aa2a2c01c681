// Package lineitem edits the quantity of one vault line. The local quantity
// moves first and falls back to the snapshot when the backend refuses it.
// Dropping to zero asks for confirmation before anything is removed.
package lineitem

import (
	"context"
	"sync"

	"github.com/comprepues/vault/core/vault"
	"github.com/shopspring/decimal"
)

// RemovalPrompt is the question shown while a removal waits for an answer.
const RemovalPrompt = "¿Eliminar este producto del baúl?"

type Store interface {
	Snapshot() *vault.Cart
	UpdateItem(ctx context.Context, itemID vault.ID, quantity int) error
	RemoveItem(ctx context.Context, itemID vault.ID) error
}

type State struct {
	ItemID         vault.ID        `json:"itemId"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Stock          int             `json:"stock"`
	Price          decimal.Decimal `json:"price"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	OutOfStock     bool            `json:"outOfStock"`
	PendingRemoval bool            `json:"pendingRemoval"`
	Prompt         string          `json:"prompt,omitempty"`
}

type Controller struct {
	store  Store
	itemID vault.ID

	mu       sync.Mutex
	quantity int
	previous int
	pending  bool
	dirty    bool
}

func New(store Store, itemID vault.ID) *Controller {
	return &Controller{store: store, itemID: itemID}
}

func (c *Controller) ItemID() vault.ID { return c.itemID }

func (c *Controller) item() (vault.Item, error) {
	it, ok := c.store.Snapshot().Item(c.itemID)
	if !ok {
		return vault.Item{}, vault.ErrItemNotFound
	}
	return it, nil
}

// State evaluates the line against the live snapshot.
func (c *Controller) State() (State, error) {
	it, err := c.item()
	if err != nil {
		return State{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state(it), nil
}

// state needs c.mu held.
func (c *Controller) state(it vault.Item) State {
	q := it.Quantity
	if c.dirty || c.pending {
		q = c.quantity
	}

	st := State{
		ItemID:         it.ID,
		Name:           it.Product.Name,
		Quantity:       q,
		Stock:          it.Product.Stock,
		Price:          it.Price,
		Subtotal:       it.Subtotal,
		OutOfStock:     it.Product.Stock < q,
		PendingRemoval: c.pending,
	}
	if c.pending {
		st.Prompt = RemovalPrompt
	}
	return st
}

func clamp(n, stock int) int {
	if n > stock {
		n = stock
	}
	if n < 0 {
		n = 0
	}
	return n
}

// SetQuantity clamps n to [0, stock]. Zero only marks the line for removal;
// ConfirmRemoval or CancelRemoval settles it.
func (c *Controller) SetQuantity(ctx context.Context, n int) (State, error) {
	it, err := c.item()
	if err != nil {
		return State{}, err
	}

	n = clamp(n, it.Product.Stock)

	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return State{}, vault.ErrRemovalNotConfirmed
	}
	if n == 0 {
		c.previous = it.Quantity
		c.quantity = 0
		c.pending = true
		st := c.state(it)
		c.mu.Unlock()
		return st, nil
	}
	if n == it.Quantity {
		c.dirty = false
		st := c.state(it)
		c.mu.Unlock()
		return st, nil
	}
	c.quantity = n
	c.dirty = true
	c.mu.Unlock()

	err = c.store.UpdateItem(ctx, c.itemID, n)

	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()

	if err != nil {
		return State{}, err
	}
	return c.State()
}

// Increment adds one unit while stock allows it.
func (c *Controller) Increment(ctx context.Context) (State, error) {
	st, err := c.State()
	if err != nil {
		return State{}, err
	}
	if st.Quantity >= st.Stock {
		return st, nil
	}
	return c.SetQuantity(ctx, st.Quantity+1)
}

func (c *Controller) Decrement(ctx context.Context) (State, error) {
	st, err := c.State()
	if err != nil {
		return State{}, err
	}
	return c.SetQuantity(ctx, st.Quantity-1)
}

// RequestRemoval marks the line for removal, the same as setting zero.
func (c *Controller) RequestRemoval(ctx context.Context) (State, error) {
	return c.SetQuantity(ctx, 0)
}

// ConfirmRemoval removes the line marked for removal. On failure the line
// keeps its previous quantity.
func (c *Controller) ConfirmRemoval(ctx context.Context) error {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return vault.ErrNoPendingRemoval
	}
	c.mu.Unlock()

	err := c.store.RemoveItem(ctx, c.itemID)

	c.mu.Lock()
	c.pending = false
	c.quantity = c.previous
	c.mu.Unlock()

	return err
}

// CancelRemoval restores the quantity held before removal was requested.
func (c *Controller) CancelRemoval() (State, error) {
	c.mu.Lock()
	c.pending = false
	c.quantity = c.previous
	c.mu.Unlock()

	return c.State()
}

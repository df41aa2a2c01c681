// Package cartstore owns the snapshot of the active vault of one buyer in one
// store. Every mutation goes to the backend and is followed by a full reload;
// the snapshot is only ever replaced by what the backend answered.
package cartstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/comprepues/vault/core/backend"
	"github.com/comprepues/vault/core/vault"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	msgLoad        = "Error al cargar el carrito"
	msgCreate      = "Error al crear el carrito"
	msgAddItem     = "Error al agregar producto"
	msgUpdateItem  = "Error al actualizar producto"
	msgRemoveItem  = "Error al eliminar producto"
	msgExtend      = "Error al extender tiempo"
	msgSetShipping = "Error al actualizar el envío"
)

type Backend interface {
	ActiveCart(ctx context.Context, buyerID vault.ID, storeName string) (*vault.Cart, error)
	CreateCart(ctx context.Context, nc vault.CartNew) (*vault.Cart, error)
	AddItem(ctx context.Context, ni vault.ItemNew) error
	UpdateItem(ctx context.Context, up vault.ItemUp) error
	RemoveItem(ctx context.Context, itemID vault.ID) error
	Extend(ctx context.Context, cartID vault.ID, ext vault.Extension) error
	SetShipping(ctx context.Context, cartID vault.ID, up vault.ShippingUp) error
}

type Config struct {
	BuyerID     vault.ID
	StoreName   string
	TimeoutDays int
}

// State is a consistent view of the store at one instant.
type State struct {
	Cart      *vault.Cart `json:"cart"`
	Cached    bool        `json:"cached"`
	Busy      bool        `json:"busy"`
	LastError string      `json:"lastError,omitempty"`
}

type Store struct {
	cfg   Config
	be    Backend
	cache Cache
	key   string
	log   logrus.FieldLogger

	loads singleflight.Group
	busy  atomic.Bool
	seq   atomic.Uint64

	mu      sync.RWMutex
	cart    *vault.Cart
	applied uint64
	cached  bool
	lastErr error
}

// New builds a store. cache may be nil.
func New(cfg Config, be Backend, cache Cache, log logrus.FieldLogger) *Store {
	if cfg.TimeoutDays <= 0 {
		cfg.TimeoutDays = vault.DefaultTimeoutDays
	}
	return &Store{
		cfg:   cfg,
		be:    be,
		cache: cache,
		key:   Key(cfg.BuyerID, cfg.StoreName),
		log: log.WithFields(logrus.Fields{
			"buyer_id": cfg.BuyerID,
			"store":    cfg.StoreName,
		}),
	}
}

// Warm seeds the store with the cached snapshot, unless a backend answer has
// already been applied.
func (s *Store) Warm(ctx context.Context) {
	if s.cache == nil {
		return
	}

	cart, err := s.cache.Get(ctx, s.key)
	if err != nil {
		s.log.WithError(err).Warn("reading cached snapshot")
		return
	}
	if cart == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.applied > 0 {
		return
	}
	s.cart = cart
	s.cached = true
}

func (s *Store) Snapshot() *vault.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Clone()
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := State{
		Cart:   s.cart.Clone(),
		Cached: s.cached,
		Busy:   s.busy.Load(),
	}
	if s.lastErr != nil {
		st.LastError = vault.Message(s.lastErr)
	}
	return st
}

func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *Store) Busy() bool {
	return s.busy.Load()
}

type loaded struct {
	seq  uint64
	cart *vault.Cart
}

// Load fetches the active cart. Concurrent loads share one backend call. The
// returned cart is nil when the buyer has none.
func (s *Store) Load(ctx context.Context) (*vault.Cart, error) {
	v, err, _ := s.loads.Do(s.key, func() (interface{}, error) {
		seq := s.seq.Add(1)
		cart, err := s.be.ActiveCart(ctx, s.cfg.BuyerID, s.cfg.StoreName)
		return loaded{seq: seq, cart: cart}, err
	})
	if err != nil {
		return nil, s.fail(err, msgLoad)
	}

	l := v.(loaded)
	s.apply(ctx, l.seq, l.cart)
	return s.Snapshot(), nil
}

// reload follows a mutation. It never joins a load issued before the
// mutation completed.
func (s *Store) reload(ctx context.Context) error {
	seq := s.seq.Add(1)
	cart, err := s.be.ActiveCart(ctx, s.cfg.BuyerID, s.cfg.StoreName)
	if err != nil {
		return s.fail(err, msgLoad)
	}
	s.apply(ctx, seq, cart)
	return nil
}

// apply installs cart unless a snapshot from a later request is already in
// place, or the cart moves to a status it cannot reach from the confirmed one.
func (s *Store) apply(ctx context.Context, seq uint64, cart *vault.Cart) bool {
	s.mu.Lock()
	if seq < s.applied {
		s.mu.Unlock()
		s.log.WithField("seq", seq).Debug("discarding stale snapshot")
		return false
	}
	if err := s.admit(cart); err != nil {
		s.mu.Unlock()
		s.log.WithField("seq", seq).WithError(err).Warn("discarding snapshot")
		return false
	}
	s.applied = seq
	s.cart = cart.Clone()
	s.cached = false
	s.lastErr = nil
	s.mu.Unlock()

	if s.cache == nil {
		return true
	}

	var err error
	if cart == nil {
		err = s.cache.Delete(ctx, s.key)
	} else {
		err = s.cache.Set(ctx, s.key, cart)
	}
	if err != nil {
		s.log.WithError(err).Warn("writing cached snapshot")
	}
	return true
}

// admit checks cart against the confirmed snapshot. A cached snapshot is
// never held against the backend. s.mu must be held.
func (s *Store) admit(cart *vault.Cart) error {
	if cart == nil {
		return nil
	}
	if !cart.Status.Valid() {
		return fmt.Errorf("cart[%s] has unknown status %q", cart.ID, cart.Status)
	}

	cur := s.cart
	if cur == nil || s.cached || cur.ID != cart.ID {
		return nil
	}
	if !cur.Status.CanTransition(cart.Status) {
		return fmt.Errorf("cart[%s] can't go from %s to %s", cart.ID, cur.Status, cart.Status)
	}
	return nil
}

func (s *Store) fail(err error, fallback string) error {
	ue := &vault.UserError{Message: backend.Message(err, fallback), Err: err}

	s.mu.Lock()
	s.lastErr = ue
	s.mu.Unlock()

	log := s.log.WithError(err)
	if c := s.Snapshot(); c != nil {
		log = log.WithField("cart_id", c.ID)
	}
	log.Warn(fallback)
	return ue
}

// reject records a local validation failure. Nothing reaches the backend.
func (s *Store) reject(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

// guard runs fn unless another mutation is in flight.
func (s *Store) guard(fn func() error) error {
	if !s.busy.CompareAndSwap(false, true) {
		return vault.ErrBusy
	}
	defer s.busy.Store(false)
	return fn()
}

// Create makes sure the buyer has an active cart. Holding an active snapshot
// already, no backend call is made.
func (s *Store) Create(ctx context.Context) (*vault.Cart, error) {
	if c := s.confirmed(); c != nil && c.Status == vault.Active {
		return c, nil
	}

	var cart *vault.Cart
	err := s.guard(func() error {
		var err error
		cart, err = s.create(ctx)
		return err
	})
	return cart, err
}

func (s *Store) create(ctx context.Context) (*vault.Cart, error) {
	seq := s.seq.Add(1)
	cart, err := s.be.CreateCart(ctx, vault.CartNew{
		BuyerID:     s.cfg.BuyerID,
		StoreName:   s.cfg.StoreName,
		TimeoutDays: s.cfg.TimeoutDays,
	})
	if err != nil {
		return nil, s.fail(err, msgCreate)
	}

	if cart == nil {
		if err := s.reload(ctx); err != nil {
			return nil, err
		}
		if cart = s.Snapshot(); cart == nil {
			return nil, s.fail(vault.ErrNoCart, msgCreate)
		}
		return cart, nil
	}

	s.log.WithField("cart_id", cart.ID).Info("vault created")
	s.apply(ctx, seq, cart)
	return cart.Clone(), nil
}

// confirmed returns the snapshot only when it came from the backend.
func (s *Store) confirmed() *vault.Cart {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached {
		return nil
	}
	return s.cart.Clone()
}

// current returns the backend confirmed snapshot, loading it when only a
// cached one is held.
func (s *Store) current(ctx context.Context) (*vault.Cart, error) {
	s.mu.RLock()
	cached := s.cached || s.applied == 0
	s.mu.RUnlock()

	if cached {
		if err := s.reload(ctx); err != nil {
			return nil, err
		}
	}
	return s.Snapshot(), nil
}

// Confirmed returns the vault as the backend last answered it, loading it
// when only a cached snapshot is held. A cached snapshot is never returned.
func (s *Store) Confirmed(ctx context.Context) (*vault.Cart, error) {
	cart, err := s.current(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached := s.cached
	s.mu.RUnlock()
	if cached {
		return nil, s.fail(errors.New("only a cached snapshot is held"), msgLoad)
	}

	if cart == nil {
		return nil, vault.ErrNoCart
	}
	return cart, nil
}

func (s *Store) active(ctx context.Context) (*vault.Cart, error) {
	cart, err := s.current(ctx)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, s.reject(vault.ErrNoCart)
	}
	if cart.Status != vault.Active {
		return nil, s.reject(vault.ErrNotActive)
	}
	return cart, nil
}

// AddItem reserves quantity units of a product, creating the vault first when
// the buyer has none.
func (s *Store) AddItem(ctx context.Context, productID vault.ID, quantity int, variantID *vault.ID) error {
	if quantity <= 0 {
		return s.reject(vault.ErrInvalidQuantity)
	}

	return s.guard(func() error {
		cart, err := s.current(ctx)
		if err != nil {
			return err
		}
		if cart == nil {
			if cart, err = s.create(ctx); err != nil {
				return err
			}
		}
		if cart.Status != vault.Active {
			return s.reject(vault.ErrNotActive)
		}

		err = s.be.AddItem(ctx, vault.ItemNew{
			CartID:    cart.ID,
			ProductID: productID,
			Quantity:  quantity,
			VariantID: variantID,
		})
		if err != nil {
			return s.fail(err, msgAddItem)
		}
		return s.reload(ctx)
	})
}

// UpdateItem sets the quantity of a line. Zero removes the line.
func (s *Store) UpdateItem(ctx context.Context, itemID vault.ID, quantity int) error {
	if quantity < 0 {
		return s.reject(vault.ErrInvalidQuantity)
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, itemID)
	}

	return s.guard(func() error {
		cart, err := s.active(ctx)
		if err != nil {
			return err
		}
		if _, ok := cart.Item(itemID); !ok {
			return s.reject(vault.ErrItemNotFound)
		}

		if err := s.be.UpdateItem(ctx, vault.ItemUp{ItemID: itemID, Quantity: quantity}); err != nil {
			return s.fail(err, msgUpdateItem)
		}
		return s.reload(ctx)
	})
}

func (s *Store) RemoveItem(ctx context.Context, itemID vault.ID) error {
	return s.guard(func() error {
		cart, err := s.active(ctx)
		if err != nil {
			return err
		}
		if _, ok := cart.Item(itemID); !ok {
			return s.reject(vault.ErrItemNotFound)
		}

		if err := s.be.RemoveItem(ctx, itemID); err != nil {
			return s.fail(err, msgRemoveItem)
		}
		return s.reload(ctx)
	})
}

// Extend postpones the expiration of the active vault.
func (s *Store) Extend(ctx context.Context, ext vault.Extension) error {
	if !ext.Valid() {
		return s.reject(vault.ErrInvalidExtension)
	}

	return s.guard(func() error {
		cart, err := s.active(ctx)
		if err != nil {
			return err
		}

		if err := s.be.Extend(ctx, cart.ID, ext); err != nil {
			return s.fail(err, msgExtend)
		}
		s.log.WithFields(logrus.Fields{
			"cart_id": cart.ID,
			"days":    ext.Days,
			"hours":   ext.Hours,
		}).Info("vault extended")
		return s.reload(ctx)
	})
}

// SetShipping records the carrier chosen for the vault.
func (s *Store) SetShipping(ctx context.Context, up vault.ShippingUp) error {
	if up.Cost.IsNegative() {
		return s.reject(vault.ErrInvalidShipping)
	}
	if up.Provider == "" {
		up.Provider = vault.FreeShipping
	}

	return s.guard(func() error {
		cart, err := s.active(ctx)
		if err != nil {
			return err
		}

		if err := s.be.SetShipping(ctx, cart.ID, up); err != nil {
			return s.fail(err, msgSetShipping)
		}
		return s.reload(ctx)
	})
}

// Forget drops the cached snapshot, used once the vault was paid.
func (s *Store) Forget(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, s.key); err != nil {
		s.log.WithError(err).Warn("deleting cached snapshot")
	}
}

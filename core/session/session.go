// Package session keeps one vault per open buyer session: its store, its
// countdown and the editors of its lines. A session ends when the buyer
// closes it, when it idles past the configured timeout or when the server
// shuts down, and every interval it owns stops with it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/comprepues/vault/core/cartimer"
	"github.com/comprepues/vault/core/cartstore"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/lineitem"
	"github.com/comprepues/vault/core/timeleft"
	"github.com/comprepues/vault/core/vault"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultSweep       = time.Minute
)

// Backend is what a session needs from the backend on behalf of its buyer.
type Backend interface {
	cartstore.Backend
	TimeRemaining(ctx context.Context, cartID vault.ID) (timeleft.Remaining, error)
	StoreConfig(ctx context.Context, storeName string) (vault.StoreConfig, error)
}

// Connect returns the backend acting for the buyer of c.
type Connect func(c claims.Claims) Backend

type Config struct {
	Timer       cartimer.Config
	IdleTimeout time.Duration
	Sweep       time.Duration
}

// Vault is the state bound to one buyer session.
type Vault struct {
	Claims claims.Claims
	Store  *cartstore.Store
	Timer  *cartimer.Timer

	mu      sync.Mutex
	lines   map[vault.ID]*lineitem.Controller
	touched time.Time
}

// Line returns the editor of a line, keeping its pending state across
// requests.
func (v *Vault) Line(itemID vault.ID) *lineitem.Controller {
	v.mu.Lock()
	defer v.mu.Unlock()

	lc, ok := v.lines[itemID]
	if !ok {
		lc = lineitem.New(v.Store, itemID)
		v.lines[itemID] = lc
	}
	return lc
}

// DropLine forgets the editor of a line that left the vault.
func (v *Vault) DropLine(itemID vault.ID) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.lines, itemID)
}

// payer completes pay requests with the identity of the session.
type payer struct {
	next   cartimer.Payer
	claims claims.Claims
}

func (p payer) PayCart(ctx context.Context, cart *vault.Cart, req vault.PayRequest) (vault.Redirect, error) {
	req.BuyerID = p.claims.BuyerID
	req.StoreName = p.claims.StoreName
	return p.next.PayCart(ctx, cart, req)
}

type Registry struct {
	cfg     Config
	clock   clockwork.Clock
	connect Connect
	cache   cartstore.Cache
	payer   cartimer.Payer
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	vaults map[string]*Vault
	done   chan struct{}
}

// New builds a registry. cache may be nil.
func New(cfg Config, clock clockwork.Clock, connect Connect, cache cartstore.Cache, p cartimer.Payer, log logrus.FieldLogger) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Sweep <= 0 {
		cfg.Sweep = DefaultSweep
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:     cfg,
		clock:   clock,
		connect: connect,
		cache:   cache,
		payer:   p,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		vaults:  make(map[string]*Vault),
	}
}

// Open returns the vault of the session, building it on first use. A store
// with the vault feature turned off gets ErrVaultDisabled.
func (r *Registry) Open(ctx context.Context, c claims.Claims) (*Vault, error) {
	if v, ok := r.Get(c); ok {
		return v, nil
	}

	be := r.connect(c)
	log := r.log.WithFields(logrus.Fields{
		"buyer_id": c.BuyerID,
		"store":    c.StoreName,
	})

	cfg, err := be.StoreConfig(ctx, c.StoreName)
	switch {
	case err != nil:
		log.WithError(err).Debug("store config unavailable, keeping defaults")
		cfg = vault.StoreConfig{CartEnabled: true, CartTimeoutDays: vault.DefaultTimeoutDays}
	case !cfg.CartEnabled:
		return nil, vault.ErrVaultDisabled
	}

	store := cartstore.New(cartstore.Config{
		BuyerID:     c.BuyerID,
		StoreName:   c.StoreName,
		TimeoutDays: cfg.CartTimeoutDays,
	}, be, r.cache, r.log)
	store.Warm(ctx)

	v := &Vault{
		Claims:  c,
		Store:   store,
		Timer:   cartimer.New(r.cfg.Timer, r.clock, store, be, payer{next: r.payer, claims: c}, log),
		lines:   make(map[vault.ID]*lineitem.Controller),
		touched: r.clock.Now(),
	}

	r.mu.Lock()
	if cur, ok := r.vaults[c.Key()]; ok {
		r.mu.Unlock()
		return cur, nil
	}
	r.vaults[c.Key()] = v
	r.mu.Unlock()

	if _, err := store.Load(ctx); err != nil {
		log.WithError(err).Warn("first load of the vault failed")
	}

	// A Close or Sweep during the load already dropped the entry.
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.vaults[c.Key()] != v {
		log.Info("vault session closed while opening")
		return nil, vault.ErrSessionClosed
	}
	v.Timer.Start(r.ctx)

	log.Info("vault session opened")
	return v, nil
}

// Get returns the vault of an open session and marks it as used.
func (r *Registry) Get(c claims.Claims) (*Vault, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.vaults[c.Key()]
	if !ok {
		return nil, false
	}

	v.mu.Lock()
	v.touched = r.clock.Now()
	v.mu.Unlock()
	return v, true
}

// Close ends the session of c and stops its countdown.
func (r *Registry) Close(c claims.Claims) bool {
	r.mu.Lock()
	v, ok := r.vaults[c.Key()]
	delete(r.vaults, c.Key())
	r.mu.Unlock()

	if !ok {
		return false
	}
	v.Timer.Stop()
	r.log.WithFields(logrus.Fields{
		"buyer_id": c.BuyerID,
		"store":    c.StoreName,
	}).Info("vault session closed")
	return true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.vaults)
}

// Sweep closes the sessions idle for longer than the idle timeout.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	var idle []*Vault
	for k, v := range r.vaults {
		v.mu.Lock()
		last := v.touched
		v.mu.Unlock()

		if now.Sub(last) > r.cfg.IdleTimeout {
			idle = append(idle, v)
			delete(r.vaults, k)
		}
	}
	r.mu.Unlock()

	for _, v := range idle {
		v.Timer.Stop()
	}
	if len(idle) > 0 {
		r.log.WithField("sessions", len(idle)).Info("idle vault sessions closed")
	}
	return len(idle)
}

// Start runs the idle sweep until Shutdown.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done != nil {
		return
	}
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)

		t := r.clock.NewTicker(r.cfg.Sweep)
		defer t.Stop()

		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.Chan():
				r.Sweep()
			}
		}
	}(r.done)
}

// Shutdown stops the sweep and closes every session.
func (r *Registry) Shutdown() {
	r.cancel()

	r.mu.Lock()
	done := r.done
	vaults := r.vaults
	r.vaults = make(map[string]*Vault)
	r.mu.Unlock()

	if done != nil {
		<-done
	}
	for _, v := range vaults {
		v.Timer.Stop()
	}
}

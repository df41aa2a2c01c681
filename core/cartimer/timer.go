// Package cartimer tracks the countdown of the active vault. A local tick
// recomputes the remaining time every second and a slower poll takes the
// backend value; reaching expiry triggers a single reload of the store.
package cartimer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comprepues/vault/core/timeleft"
	"github.com/comprepues/vault/core/vault"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTick = time.Second
	DefaultPoll = 10 * time.Second
)

type Store interface {
	Snapshot() *vault.Cart
	Confirmed(ctx context.Context) (*vault.Cart, error)
	Load(ctx context.Context) (*vault.Cart, error)
	Extend(ctx context.Context, ext vault.Extension) error
}

type Poller interface {
	TimeRemaining(ctx context.Context, cartID vault.ID) (timeleft.Remaining, error)
}

type Payer interface {
	PayCart(ctx context.Context, cart *vault.Cart, req vault.PayRequest) (vault.Redirect, error)
}

type Config struct {
	Tick time.Duration
	Poll time.Duration
}

type Source string

const (
	Local  Source = "local"
	Server Source = "server"
)

type View struct {
	CartID    vault.ID           `json:"cartId"`
	Remaining timeleft.Remaining `json:"remaining"`
	Urgency   timeleft.Urgency   `json:"urgency"`
	Message   string             `json:"message"`
	Progress  float64            `json:"progress"`
	Clock     string             `json:"clock"`
	Source    Source             `json:"source"`
	Extending bool               `json:"extending"`
}

type Timer struct {
	cfg    Config
	clock  clockwork.Clock
	store  Store
	poller Poller
	payer  Payer
	log    logrus.FieldLogger

	extending atomic.Bool

	mu          sync.Mutex
	view        *View
	reloadedFor time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(cfg Config, clock clockwork.Clock, store Store, poller Poller, payer Payer, log logrus.FieldLogger) *Timer {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Poll <= 0 {
		cfg.Poll = DefaultPoll
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{
		cfg:    cfg,
		clock:  clock,
		store:  store,
		poller: poller,
		payer:  payer,
		log:    log,
	}
}

// Start launches the tick and poll loops. They run until Stop is called or
// ctx is done. Starting a running timer does nothing.
func (t *Timer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})

	t.tick()
	go t.run(ctx, t.done)
}

// Stop cancels the loops and waits for them to return.
func (t *Timer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Timer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	tick := t.clock.NewTicker(t.cfg.Tick)
	defer tick.Stop()

	poll := t.clock.NewTicker(t.cfg.Poll)
	defer poll.Stop()

	t.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			t.lockedTick(ctx)
		case <-poll.Chan():
			t.poll(ctx)
		}
	}
}

// View returns the last computed countdown, computing it when none is held
// yet. ok is false while there is no vault to track.
func (t *Timer) View() (v View, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.view == nil {
		t.tick()
	}
	if t.view == nil {
		return View{}, false
	}
	v = *t.view
	v.Extending = t.extending.Load()
	return v, true
}

func (t *Timer) lockedTick(ctx context.Context) {
	t.mu.Lock()
	expiresAt, expired := t.tick()
	t.mu.Unlock()

	if expired {
		t.reload(ctx, expiresAt)
	}
}

// tick recomputes the countdown from the snapshot. t.mu must be held.
func (t *Timer) tick() (time.Time, bool) {
	cart := t.store.Snapshot()
	if cart == nil || cart.Status.IsTerminal() {
		t.view = nil
		return time.Time{}, false
	}

	r := timeleft.Remaining{Expired: true}
	if cart.Status == vault.Active {
		r = timeleft.Compute(cart.ExpiresAt, t.clock.Now())
	}
	t.view = newView(cart, r, Local)

	return cart.ExpiresAt, r.Expired && cart.Status == vault.Active
}

func (t *Timer) poll(ctx context.Context) {
	cart := t.store.Snapshot()
	if cart == nil || cart.Status != vault.Active {
		return
	}

	r, err := t.poller.TimeRemaining(ctx, cart.ID)
	if err != nil {
		if ctx.Err() == nil {
			t.log.WithError(err).WithField("cart_id", cart.ID).Warn("polling remaining time")
		}
		return
	}

	t.mu.Lock()
	t.view = newView(cart, r, Server)
	t.mu.Unlock()

	if r.Expired {
		t.reload(ctx, cart.ExpiresAt)
	}
}

// reload asks the store for the backend state once per observed expiration
// instant. Failures are logged only.
func (t *Timer) reload(ctx context.Context, expiresAt time.Time) {
	t.mu.Lock()
	if t.reloadedFor.Equal(expiresAt) {
		t.mu.Unlock()
		return
	}
	t.reloadedFor = expiresAt
	t.mu.Unlock()

	log := t.log.WithField("expires_at", expiresAt)
	log.Info("vault reached expiry, reloading")

	if _, err := t.store.Load(ctx); err != nil && ctx.Err() == nil {
		log.WithError(err).Warn("reloading expired vault")
	}
}

func newView(cart *vault.Cart, r timeleft.Remaining, src Source) *View {
	window := timeleft.DefaultWindow
	if cart.TimeoutDays > 0 {
		window = time.Duration(cart.TimeoutDays) * 24 * time.Hour
	}

	return &View{
		CartID:    cart.ID,
		Remaining: r,
		Urgency:   timeleft.Classify(r),
		Message:   timeleft.Message(r),
		Progress:  timeleft.Progress(r, window),
		Clock:     r.Clock(),
		Source:    src,
	}
}

// ExtendTime postpones the expiration. Only one extension runs at a time.
func (t *Timer) ExtendTime(ctx context.Context, ext vault.Extension) error {
	if !t.extending.CompareAndSwap(false, true) {
		return vault.ErrExtendInFlight
	}
	defer t.extending.Store(false)

	if err := t.store.Extend(ctx, ext); err != nil {
		return err
	}

	t.mu.Lock()
	t.tick()
	t.mu.Unlock()
	return nil
}

// ProcessNow pays the vault right away, whatever time is left. The sale is
// built from the vault the backend confirmed.
func (t *Timer) ProcessNow(ctx context.Context, req vault.PayRequest) (vault.Redirect, error) {
	cart, err := t.store.Confirmed(ctx)
	if err != nil {
		return vault.Redirect{}, err
	}
	return t.payer.PayCart(ctx, cart, req)
}

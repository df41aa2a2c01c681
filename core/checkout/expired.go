package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/comprepues/vault/core/summary"
	"github.com/comprepues/vault/core/vault"
	"github.com/comprepues/vault/validate"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// DefaultFlowTTL bounds how long an expired link flow is remembered without
// activity.
const DefaultFlowTTL = 30 * time.Minute

// ExpiredView is what the buyer sees when opening the link of an expired
// vault.
type ExpiredView struct {
	Cart    *vault.Cart       `json:"cart"`
	Summary summary.Summary   `json:"summary"`
	Banks   []vault.Bank      `json:"banks"`
	Config  vault.StoreConfig `json:"config"`
}

// Flow is the checkout of one expired cart reached through its possession
// token. It accepts a single submission per load.
type Flow struct {
	be     Backend
	log    logrus.FieldLogger
	cartID vault.ID
	token  string

	mu        sync.Mutex
	loaded    bool
	submitted bool
	key       string
	touched   time.Time
}

func newFlow(be Backend, cartID vault.ID, token string, log logrus.FieldLogger) *Flow {
	return &Flow{
		be:     be,
		cartID: cartID,
		token:  token,
		log:    log.WithField("cart_id", cartID),
	}
}

// Load reads the expired cart, the store configuration and the bank list.
// Only the cart is mandatory: a failing configuration keeps the defaults and
// a failing bank list leaves it empty.
func (f *Flow) Load(ctx context.Context) (ExpiredView, error) {
	if f.token == "" {
		return ExpiredView{}, vault.ErrMissingToken
	}

	cart, err := f.be.ExpiredCart(ctx, f.cartID, f.token)
	if err != nil {
		f.log.WithError(err).Warn(msgExpired)
		return ExpiredView{}, userError(err, msgExpired)
	}

	cfg := vault.StoreConfig{CartEnabled: true, CartTimeoutDays: vault.DefaultTimeoutDays}
	if name := cart.Store.Name; name != "" {
		c, err := f.be.StoreConfig(ctx, name)
		switch {
		case err != nil:
			f.log.WithError(err).Debug("store config unavailable, keeping defaults")
		case !c.CartEnabled:
			return ExpiredView{}, vault.ErrVaultDisabled
		default:
			cfg = c
		}
	}

	banks, err := f.be.Banks(ctx, "")
	if err != nil {
		f.log.WithError(err).Debug("bank list unavailable")
		banks = []vault.Bank{}
	}

	v := ExpiredView{
		Cart:    cart,
		Summary: summary.Compute(cart, nil),
		Banks:   banks,
		Config:  cfg,
	}

	f.mu.Lock()
	f.loaded = true
	f.submitted = false
	f.mu.Unlock()

	return v, nil
}

// Submit pays the loaded cart with the given bank. The bank is checked before
// anything else and a second submission needs a fresh Load, whatever the
// outcome of the first.
func (f *Flow) Submit(ctx context.Context, bankCode string) (vault.Redirect, error) {
	if bankCode == "" {
		return vault.Redirect{}, vault.ErrNoBankSelected
	}

	f.mu.Lock()
	if !f.loaded {
		f.mu.Unlock()
		return vault.Redirect{}, vault.ErrNoCart
	}
	if f.submitted {
		f.mu.Unlock()
		return vault.Redirect{}, vault.ErrAlreadySubmitted
	}
	f.submitted = true
	if f.key == "" {
		f.key = validate.GenerateID()
	}
	key := f.key
	f.mu.Unlock()

	red, err := f.be.SaleFromExpiredCart(ctx, vault.ExpiredSaleNew{
		CartID:         f.cartID,
		BankCode:       bankCode,
		Token:          f.token,
		IdempotencyKey: key,
	})
	if settled(err) {
		f.mu.Lock()
		f.key = ""
		f.mu.Unlock()
	}
	if err != nil {
		f.log.WithError(err).Warn(msgPay)
		return vault.Redirect{}, userError(err, msgPay)
	}

	f.log.WithField("bank", bankCode).Info("expired vault submitted")
	return red, nil
}

// Flows keeps the expired link flows opened by buyers, keyed by cart and
// token, and forgets the idle ones.
type Flows struct {
	be    Backend
	clock clockwork.Clock
	ttl   time.Duration
	log   logrus.FieldLogger

	mu    sync.Mutex
	flows map[string]*Flow
}

func NewFlows(be Backend, clock clockwork.Clock, ttl time.Duration, log logrus.FieldLogger) *Flows {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	return &Flows{
		be:    be,
		clock: clock,
		ttl:   ttl,
		log:   log,
		flows: make(map[string]*Flow),
	}
}

func flowKey(cartID vault.ID, token string) string {
	return cartID.String() + "|" + token
}

// Load starts a fresh flow for the link, replacing any previous one.
func (fs *Flows) Load(ctx context.Context, cartID vault.ID, token string) (ExpiredView, error) {
	_, v, err := fs.open(ctx, cartID, token)
	return v, err
}

func (fs *Flows) open(ctx context.Context, cartID vault.ID, token string) (*Flow, ExpiredView, error) {
	fs.Prune()

	f := newFlow(fs.be, cartID, token, fs.log)
	v, err := f.Load(ctx)
	if err != nil {
		return nil, ExpiredView{}, err
	}

	fs.mu.Lock()
	f.touched = fs.clock.Now()
	fs.flows[flowKey(cartID, token)] = f
	fs.mu.Unlock()

	return f, v, nil
}

// Submit pays through the flow of the link, loading it first when the buyer
// never opened it here.
func (fs *Flows) Submit(ctx context.Context, cartID vault.ID, token, bankCode string) (vault.Redirect, error) {
	if bankCode == "" {
		return vault.Redirect{}, vault.ErrNoBankSelected
	}
	if token == "" {
		return vault.Redirect{}, vault.ErrMissingToken
	}

	fs.mu.Lock()
	f, ok := fs.flows[flowKey(cartID, token)]
	if ok {
		f.touched = fs.clock.Now()
	}
	fs.mu.Unlock()

	if !ok {
		var err error
		if f, _, err = fs.open(ctx, cartID, token); err != nil {
			return vault.Redirect{}, err
		}
	}

	return f.Submit(ctx, bankCode)
}

// Prune drops the flows idle for longer than the ttl and reports how many
// were dropped.
func (fs *Flows) Prune() int {
	now := fs.clock.Now()

	fs.mu.Lock()
	defer fs.mu.Unlock()

	var n int
	for k, f := range fs.flows {
		if now.Sub(f.touched) > fs.ttl {
			delete(fs.flows, k)
			n++
		}
	}
	return n
}

func (fs *Flows) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.flows)
}

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/comprepues/vault/core/cartstore"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/timeleft"
	"github.com/comprepues/vault/core/vault"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var base = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type fakeBackend struct {
	mu     sync.Mutex
	cart   *vault.Cart
	config vault.StoreConfig
	cfgErr error
	loads  atomic.Int32
	polls  atomic.Int32
	tokens []string

	loadHook func()
}

func (f *fakeBackend) ActiveCart(ctx context.Context, buyerID vault.ID, storeName string) (*vault.Cart, error) {
	f.loads.Add(1)
	if f.loadHook != nil {
		f.loadHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cart.Clone(), nil
}

func (f *fakeBackend) CreateCart(ctx context.Context, nc vault.CartNew) (*vault.Cart, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cart = &vault.Cart{ID: "7", Status: vault.Active, ExpiresAt: base.Add(48 * time.Hour), TimeoutDays: nc.TimeoutDays}
	return f.cart.Clone(), nil
}

func (f *fakeBackend) AddItem(ctx context.Context, ni vault.ItemNew) error { return nil }

func (f *fakeBackend) UpdateItem(ctx context.Context, up vault.ItemUp) error { return nil }

func (f *fakeBackend) RemoveItem(ctx context.Context, itemID vault.ID) error { return nil }

func (f *fakeBackend) Extend(ctx context.Context, cartID vault.ID, ext vault.Extension) error {
	return nil
}

func (f *fakeBackend) SetShipping(ctx context.Context, cartID vault.ID, up vault.ShippingUp) error {
	return nil
}

func (f *fakeBackend) TimeRemaining(ctx context.Context, cartID vault.ID) (timeleft.Remaining, error) {
	f.polls.Add(1)
	return timeleft.Remaining{}, errors.New("unreachable")
}

func (f *fakeBackend) StoreConfig(ctx context.Context, storeName string) (vault.StoreConfig, error) {
	return f.config, f.cfgErr
}

type fakePayer struct {
	mu  sync.Mutex
	req vault.PayRequest
}

func (f *fakePayer) PayCart(ctx context.Context, cart *vault.Cart, req vault.PayRequest) (vault.Redirect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.req = req
	return vault.Redirect{URL: "https://banco.example/pse/9"}, nil
}

type registrySuite struct {
	suite.Suite

	clock *clockwork.FakeClock
	be    *fakeBackend
	payer *fakePayer
	reg   *Registry
	buyer claims.Claims
}

func TestRegistry(t *testing.T) {
	suite.Run(t, new(registrySuite))
}

func (s *registrySuite) SetupTest() {
	log := logrus.New()
	log.SetOutput(io.Discard)

	s.clock = clockwork.NewFakeClockAt(base)
	s.be = &fakeBackend{
		config: vault.StoreConfig{CartEnabled: true, CartTimeoutDays: 3},
		cart: &vault.Cart{
			ID:        "7",
			Status:    vault.Active,
			ExpiresAt: base.Add(5 * time.Hour),
			Items: []vault.Item{{
				ID:       "1",
				Quantity: 2,
				Price:    decimal.NewFromInt(10000),
				Subtotal: decimal.NewFromInt(20000),
				Product:  vault.Product{ID: "10", Stock: 5},
			}},
		},
	}
	s.payer = &fakePayer{}
	s.buyer = claims.Claims{BuyerID: "42", StoreName: "moda", Token: "tk"}

	connect := func(c claims.Claims) Backend {
		s.be.mu.Lock()
		s.be.tokens = append(s.be.tokens, c.Token)
		s.be.mu.Unlock()
		return s.be
	}
	s.reg = New(Config{IdleTimeout: time.Hour, Sweep: time.Minute}, s.clock, connect, cartstore.NewMemoryCache(time.Hour), s.payer, log)
}

func (s *registrySuite) TearDownTest() {
	s.reg.Shutdown()
}

func (s *registrySuite) TestOpenLoadsAndStartsTimer() {
	v, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	s.Equal(vault.ID("7"), v.Store.Snapshot().ID)
	tv, ok := v.Timer.View()
	s.Require().True(ok)
	s.Equal(timeleft.Warning, tv.Urgency)
	s.Equal([]string{"tk"}, s.be.tokens)

	again, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)
	s.Same(v, again)
	s.Equal(1, s.reg.Len())
}

func (s *registrySuite) TestDisabledStoreRefusesVault() {
	s.be.config = vault.StoreConfig{CartEnabled: false}

	_, err := s.reg.Open(context.Background(), s.buyer)
	s.ErrorIs(err, vault.ErrVaultDisabled)
	s.Zero(s.reg.Len())
	s.Zero(s.be.loads.Load())
}

func (s *registrySuite) TestFailingStoreConfigKeepsDefaults() {
	s.be.cfgErr = errors.New("down")
	s.be.cart = nil

	v, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	cart, err := v.Store.Create(context.Background())
	s.Require().NoError(err)
	s.Equal(vault.DefaultTimeoutDays, cart.TimeoutDays)
}

func (s *registrySuite) TestStoreTimeoutComesFromConfig() {
	s.be.cart = nil

	v, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	cart, err := v.Store.Create(context.Background())
	s.Require().NoError(err)
	s.Equal(3, cart.TimeoutDays)
}

func (s *registrySuite) TestCloseStopsSession() {
	_, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	s.True(s.reg.Close(s.buyer))
	s.False(s.reg.Close(s.buyer))
	_, ok := s.reg.Get(s.buyer)
	s.False(ok)
}

func (s *registrySuite) TestCloseDuringFirstLoadNeverStartsTimer() {
	entered := make(chan struct{})
	release := make(chan struct{})
	s.be.loadHook = func() {
		close(entered)
		<-release
	}

	opened := make(chan error, 1)
	go func() {
		_, err := s.reg.Open(context.Background(), s.buyer)
		opened <- err
	}()

	<-entered
	s.True(s.reg.Close(s.buyer))
	close(release)

	s.ErrorIs(<-opened, vault.ErrSessionClosed)
	s.Zero(s.reg.Len())

	for i := 0; i < 3; i++ {
		s.clock.Advance(10 * time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	s.Zero(s.be.polls.Load())
}

func (s *registrySuite) TestSweepClosesIdleSessions() {
	other := claims.Claims{BuyerID: "43", StoreName: "moda", Token: "tk2"}

	_, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)
	s.clock.Advance(40 * time.Minute)
	_, err = s.reg.Open(context.Background(), other)
	s.Require().NoError(err)

	s.clock.Advance(30 * time.Minute)
	_, ok := s.reg.Get(other)
	s.Require().True(ok)

	s.Equal(1, s.reg.Sweep())
	_, ok = s.reg.Get(s.buyer)
	s.False(ok)
	_, ok = s.reg.Get(other)
	s.True(ok)
}

func (s *registrySuite) TestStartSweepsOnTicker() {
	_, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	s.reg.Start()
	s.clock.BlockUntil(3)
	s.clock.Advance(2 * time.Hour)

	s.Eventually(func() bool { return s.reg.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func (s *registrySuite) TestPaymentCarriesSessionIdentity() {
	v, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	red, err := v.Timer.ProcessNow(context.Background(), vault.PayRequest{BankCode: "1022", BuyerID: "666", StoreName: "otra"})
	s.Require().NoError(err)
	s.Equal("https://banco.example/pse/9", red.URL)

	s.payer.mu.Lock()
	defer s.payer.mu.Unlock()
	s.Equal(vault.ID("42"), s.payer.req.BuyerID)
	s.Equal("moda", s.payer.req.StoreName)
	s.Equal("1022", s.payer.req.BankCode)
}

func (s *registrySuite) TestLinesKeepPendingRemoval() {
	v, err := s.reg.Open(context.Background(), s.buyer)
	s.Require().NoError(err)

	st, err := v.Line("1").SetQuantity(context.Background(), 0)
	s.Require().NoError(err)
	s.True(st.PendingRemoval)

	st, err = v.Line("1").State()
	s.Require().NoError(err)
	s.True(st.PendingRemoval)

	v.DropLine("1")
	st, err = v.Line("1").State()
	s.Require().NoError(err)
	s.False(st.PendingRemoval)
}

func TestShutdownWithoutStart(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	be := &fakeBackend{config: vault.StoreConfig{CartEnabled: true}}
	reg := New(Config{}, clockwork.NewFakeClockAt(base), func(claims.Claims) Backend { return be }, nil, &fakePayer{}, log)

	_, err := reg.Open(context.Background(), claims.Claims{BuyerID: "1", StoreName: "moda"})
	require.NoError(t, err)

	reg.Shutdown()
	assert.Zero(t, reg.Len())
}

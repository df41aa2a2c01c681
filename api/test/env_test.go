package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/comprepues/vault/api"
	"github.com/comprepues/vault/api/background"
	"github.com/comprepues/vault/core/backend"
	"github.com/comprepues/vault/core/cartimer"
	"github.com/comprepues/vault/core/cartstore"
	"github.com/comprepues/vault/core/checkout"
	"github.com/comprepues/vault/core/claims"
	"github.com/comprepues/vault/core/session"
	"github.com/comprepues/vault/core/vault"
	"github.com/comprepues/vault/rate"
	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	storeOpen   = "moda"
	storeClosed = "cerrada"

	expiredID     = "99"
	expiredToken  = "tk-99"
	closedID      = "98"
	closedToken   = "tk-98"
	gatewayURL    = "https://pse.example/pay/"
	validCoupon   = "DESC10"
	productPrice  = 25000
	productStock  = 10
	defaultBank   = "1022"
	bearerPrefix  = "Bearer "
	unknownBuyer  = "404"
	envRateBurst  = 10
	envFlowTTL    = time.Minute
	envIdleExpiry = time.Hour
)

// TestEnv runs the api against an in memory storefront backend.
type TestEnv struct {
	*httptest.Server
	Backend *fakeBackend

	bg       *background.Background
	registry *session.Registry
	limiter  *rate.Limiter
}

func NewTestEnv(t *testing.T, name string) (*TestEnv, error) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := log.WithField("test", name)

	fb := newFakeBackend()
	bsrv := httptest.NewServer(fb.routes())

	be, err := backend.New(backend.Config{BaseURL: bsrv.URL + "/api", Timeout: 5 * time.Second}, nil, entry)
	if err != nil {
		bsrv.Close()
		return nil, fmt.Errorf("building backend client: %w", err)
	}

	clock := clockwork.NewRealClock()
	svc := checkout.New(be, entry)
	flows := checkout.NewFlows(be, clock, envFlowTTL, entry)

	connect := func(c claims.Claims) session.Backend {
		return be.WithToken(c.Token)
	}
	registry := session.New(session.Config{
		Timer:       cartimer.Config{Tick: time.Second, Poll: time.Minute},
		IdleTimeout: envIdleExpiry,
		Sweep:       time.Minute,
	}, clock, connect, cartstore.NewMemoryCache(time.Hour), svc, entry)

	sm := scs.New()
	limiter := rate.NewLimiter(envRateBurst, time.Minute, rate.Every(time.Hour))
	bg := background.New(entry)

	h := api.APIMux(api.APIConfig{
		Log:        entry,
		Session:    sm,
		Registry:   registry,
		Checkout:   svc,
		Expired:    flows,
		Limiter:    limiter,
		Background: bg,
	})

	env := &TestEnv{
		Server:   httptest.NewServer(h),
		Backend:  fb,
		bg:       bg,
		registry: registry,
		limiter:  limiter,
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	env.Client().Jar = jar

	t.Cleanup(func() {
		env.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bg.Shutdown(ctx); err != nil {
			t.Errorf("background tasks: %v", err)
		}
		registry.Shutdown()
		limiter.Stop()
		bsrv.Close()
	})
	return env, nil
}

// do sends body as json and decodes the answer into out when it is not nil.
func (env *TestEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = strings.NewReader(string(b))
	}

	r, err := http.NewRequest(method, env.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	w, err := env.Client().Do(r)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Body.Close()

	if out != nil && w.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return w.StatusCode
}

func (env *TestEnv) openSession(t *testing.T, buyerID string) {
	t.Helper()

	body := map[string]string{"buyerId": buyerID, "storeName": storeOpen, "token": "bearer-" + buyerID}
	if code := env.do(t, http.MethodPost, "/session", body, nil); code != http.StatusCreated {
		t.Fatalf("can't open session: status code %d", code)
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// fakeBackend is the storefront backend, holding one store with carts and a
// closed store.
type fakeBackend struct {
	mu       sync.Mutex
	carts    map[string]*vault.Cart
	byBuyer  map[string]string
	nextCart int
	nextItem int

	bearers  []string
	keys     []string
	sales    []vault.SaleNew
	expSales []vault.ExpiredSaleNew
}

func newFakeBackend() *fakeBackend {
	fb := &fakeBackend{
		carts:    make(map[string]*vault.Cart),
		byBuyer:  make(map[string]string),
		nextCart: 1,
		nextItem: 100,
	}

	for id, store := range map[string]string{expiredID: storeOpen, closedID: storeClosed} {
		fb.carts[id] = &vault.Cart{
			ID:          vault.ID(id),
			Status:      vault.Expired,
			TotalAmount: decimal.NewFromInt(productPrice),
			ExpiresAt:   time.Now().Add(-time.Hour),
			TimeoutDays: vault.DefaultTimeoutDays,
			Store:       vault.Store{ID: "5", Name: store},
			Items: []vault.Item{{
				ID:       "1",
				Quantity: 1,
				Price:    decimal.NewFromInt(productPrice),
				Subtotal: decimal.NewFromInt(productPrice),
				Product:  vault.Product{ID: "10", Name: "Blusa", Stock: productStock},
			}},
		}
	}
	return fb
}

func (fb *fakeBackend) routes() http.Handler {
	root := mux.NewRouter()
	r := root.PathPrefix("/api").Subrouter()

	r.HandleFunc("/cart/user/{buyer}", fb.activeCart).Methods(http.MethodGet)
	r.HandleFunc("/cart/create", fb.createCart).Methods(http.MethodPost)
	r.HandleFunc("/cart/add-item", fb.addItem).Methods(http.MethodPost)
	r.HandleFunc("/cart/update-item", fb.updateItem).Methods(http.MethodPut)
	r.HandleFunc("/cart/remove-item/{item}", fb.removeItem).Methods(http.MethodDelete)
	r.HandleFunc("/cart/time-remaining/{cart}", fb.timeRemaining).Methods(http.MethodGet)
	r.HandleFunc("/cart/expired/{cart}", fb.expiredCart).Methods(http.MethodGet)
	r.HandleFunc("/sales", fb.createSale).Methods(http.MethodPost)
	r.HandleFunc("/sales/from-expired-cart", fb.expiredSale).Methods(http.MethodPost)
	r.HandleFunc("/store-config/public/{store}", fb.storeConfig).Methods(http.MethodGet)
	r.HandleFunc("/stores/name/{store}", fb.storeByName).Methods(http.MethodGet)
	r.HandleFunc("/payment/banks/{store}", fb.banks).Methods(http.MethodGet)
	r.HandleFunc("/coupons/validate", fb.validateCoupon).Methods(http.MethodPost)

	h := func(w http.ResponseWriter, req *http.Request) {
		fb.mu.Lock()
		if a := req.Header.Get("Authorization"); strings.HasPrefix(a, bearerPrefix) {
			fb.bearers = append(fb.bearers, strings.TrimPrefix(a, bearerPrefix))
		}
		if k := req.Header.Get(backend.IdempotencyHeader); k != "" {
			fb.keys = append(fb.keys, k)
		}
		fb.mu.Unlock()

		root.ServeHTTP(w, req)
	}
	return http.HandlerFunc(h)
}

func reply(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if status >= http.StatusBadRequest {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": data})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func (fb *fakeBackend) activeCart(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	buyer := mux.Vars(r)["buyer"]
	if buyer == unknownBuyer {
		reply(w, http.StatusInternalServerError, "database down")
		return
	}

	id, ok := fb.byBuyer[buyer+"/"+r.URL.Query().Get("storeName")]
	if !ok {
		reply(w, http.StatusNotFound, "Carrito no encontrado")
		return
	}
	reply(w, http.StatusOK, fb.carts[id])
}

func (fb *fakeBackend) createCart(w http.ResponseWriter, r *http.Request) {
	var nc vault.CartNew
	if err := json.NewDecoder(r.Body).Decode(&nc); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	key := nc.BuyerID.String() + "/" + nc.StoreName
	if id, ok := fb.byBuyer[key]; ok {
		reply(w, http.StatusOK, fb.carts[id])
		return
	}

	id := strconv.Itoa(fb.nextCart)
	fb.nextCart++

	now := time.Now()
	cart := &vault.Cart{
		ID:          vault.ID(id),
		Status:      vault.Active,
		ExpiresAt:   now.Add(time.Duration(nc.TimeoutDays) * 24 * time.Hour),
		TimeoutDays: nc.TimeoutDays,
		CreatedAt:   now,
		UpdatedAt:   now,
		Buyer:       vault.Buyer{ID: nc.BuyerID},
		Store:       vault.Store{ID: "5", Name: nc.StoreName},
		Items:       []vault.Item{},
	}
	fb.carts[id] = cart
	fb.byBuyer[key] = id
	reply(w, http.StatusCreated, cart)
}

func (fb *fakeBackend) total(cart *vault.Cart) {
	sum := decimal.Zero
	for i := range cart.Items {
		it := &cart.Items[i]
		it.Subtotal = it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		sum = sum.Add(it.Subtotal)
	}
	cart.TotalAmount = sum
}

func (fb *fakeBackend) addItem(w http.ResponseWriter, r *http.Request) {
	var ni vault.ItemNew
	if err := json.NewDecoder(r.Body).Decode(&ni); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	cart, ok := fb.carts[ni.CartID.String()]
	if !ok || cart.Status != vault.Active {
		reply(w, http.StatusNotFound, "Carrito no encontrado")
		return
	}

	for i := range cart.Items {
		if cart.Items[i].Product.ID == ni.ProductID {
			cart.Items[i].Quantity += ni.Quantity
			fb.total(cart)
			reply(w, http.StatusOK, cart)
			return
		}
	}

	cart.Items = append(cart.Items, vault.Item{
		ID:       vault.ID(strconv.Itoa(fb.nextItem)),
		Quantity: ni.Quantity,
		Price:    decimal.NewFromInt(productPrice),
		AddedAt:  time.Now(),
		Product:  vault.Product{ID: ni.ProductID, Name: "Producto " + ni.ProductID.String(), Stock: productStock},
	})
	fb.nextItem++
	fb.total(cart)
	reply(w, http.StatusCreated, cart)
}

// item finds the line and its cart. Callers hold the lock.
func (fb *fakeBackend) item(id vault.ID) (*vault.Cart, int) {
	for _, cart := range fb.carts {
		for i := range cart.Items {
			if cart.Items[i].ID == id {
				return cart, i
			}
		}
	}
	return nil, -1
}

func (fb *fakeBackend) updateItem(w http.ResponseWriter, r *http.Request) {
	var up vault.ItemUp
	if err := json.NewDecoder(r.Body).Decode(&up); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	cart, i := fb.item(up.ItemID)
	if cart == nil {
		reply(w, http.StatusNotFound, "Item no encontrado")
		return
	}
	cart.Items[i].Quantity = up.Quantity
	fb.total(cart)
	reply(w, http.StatusOK, cart)
}

func (fb *fakeBackend) removeItem(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	cart, i := fb.item(vault.ID(mux.Vars(r)["item"]))
	if cart == nil {
		reply(w, http.StatusNotFound, "Item no encontrado")
		return
	}
	cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
	fb.total(cart)
	reply(w, http.StatusOK, cart)
}

func (fb *fakeBackend) timeRemaining(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	cart, ok := fb.carts[mux.Vars(r)["cart"]]
	var left time.Duration
	if ok {
		left = time.Until(cart.ExpiresAt)
	}
	fb.mu.Unlock()

	if !ok {
		reply(w, http.StatusNotFound, "Carrito no encontrado")
		return
	}
	if left < 0 {
		left = 0
	}

	reply(w, http.StatusOK, map[string]any{
		"days":    int(left.Hours()) / 24,
		"hours":   int(left.Hours()) % 24,
		"minutes": int(left.Minutes()) % 60,
		"seconds": int(left.Seconds()) % 60,
		"expired": left == 0,
	})
}

func (fb *fakeBackend) expiredCart(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := mux.Vars(r)["cart"]
	tokens := map[string]string{expiredID: expiredToken, closedID: closedToken}
	if tokens[id] == "" || tokens[id] != r.URL.Query().Get("token") {
		reply(w, http.StatusNotFound, "Carrito no encontrado o enlace inválido")
		return
	}
	reply(w, http.StatusOK, fb.carts[id])
}

func (fb *fakeBackend) createSale(w http.ResponseWriter, r *http.Request) {
	var ns vault.SaleNew
	if err := json.NewDecoder(r.Body).Decode(&ns); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.sales = append(fb.sales, ns)
	if id, ok := fb.byBuyer[ns.BuyerID.String()+"/"+ns.StoreName]; ok {
		fb.carts[id].Status = vault.Completed
		delete(fb.byBuyer, ns.BuyerID.String()+"/"+ns.StoreName)
	}
	reply(w, http.StatusCreated, vault.Redirect{URL: gatewayURL + strconv.Itoa(len(fb.sales)), CreatedAt: time.Now()})
}

func (fb *fakeBackend) expiredSale(w http.ResponseWriter, r *http.Request) {
	var ns vault.ExpiredSaleNew
	if err := json.NewDecoder(r.Body).Decode(&ns); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.expSales = append(fb.expSales, ns)
	reply(w, http.StatusCreated, vault.Redirect{URL: gatewayURL + "expired-" + ns.CartID.String(), CreatedAt: time.Now()})
}

func (fb *fakeBackend) storeConfig(w http.ResponseWriter, r *http.Request) {
	store := mux.Vars(r)["store"]
	reply(w, http.StatusOK, vault.StoreConfig{CartEnabled: store != storeClosed, CartTimeoutDays: 3})
}

func (fb *fakeBackend) storeByName(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, vault.Store{ID: "5", Name: mux.Vars(r)["store"]})
}

func (fb *fakeBackend) banks(w http.ResponseWriter, r *http.Request) {
	reply(w, http.StatusOK, []vault.Bank{
		{Code: defaultBank, Name: "Banco Unión"},
		{Code: "1007", Name: "Bancolombia"},
	})
}

func (fb *fakeBackend) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var cc vault.CouponCheck
	if err := json.NewDecoder(r.Body).Decode(&cc); err != nil {
		reply(w, http.StatusBadRequest, err.Error())
		return
	}

	if cc.Code != validCoupon {
		reply(w, http.StatusOK, vault.Coupon{Valid: false, Message: "Cupón no válido"})
		return
	}
	reply(w, http.StatusOK, vault.Coupon{Valid: true, DiscountType: vault.Percentage, DiscountValue: decimal.NewFromInt(10)})
}

func (fb *fakeBackend) snapshot() (sales []vault.SaleNew, expSales []vault.ExpiredSaleNew, keys, bearers []string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return append(sales, fb.sales...), append(expSales, fb.expSales...),
		append(keys, fb.keys...), append(bearers, fb.bearers...)
}

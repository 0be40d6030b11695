package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
	"github.com/ariefcatur/go-marketplace-core/internal/metrics"
	"github.com/ariefcatur/go-marketplace-core/internal/orders"
	"github.com/ariefcatur/go-marketplace-core/internal/payments"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
	"github.com/ariefcatur/go-marketplace-core/internal/redisx"
	"github.com/ariefcatur/go-marketplace-core/internal/sequence"
	"github.com/ariefcatur/go-marketplace-core/internal/wishlist"
)

var (
	buyer  = auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer}
	seller = auth.Identity{UserID: "seller-1", Role: auth.RoleSeller}
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []segkafka.Message
	err  error
}

func (p *fakePublisher) Send(_ context.Context, key, value []byte, headers ...segkafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, segkafka.Message{Key: key, Value: value, Headers: headers})
	return nil
}

// downWriter is a Kafka writer whose broker is unreachable.
type downWriter struct{ calls int }

func (w *downWriter) WriteMessages(context.Context, ...segkafka.Message) error {
	w.calls++
	return errors.New("kafka: no brokers reachable")
}

func (w *downWriter) Close() error { return nil }

type testEnv struct {
	router   http.Handler
	verifier *auth.Verifier
	ledger   *inventory.Ledger
	webhooks *WebhookHandler
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	cat := catalog.NewMemory(
		catalog.Product{ID: "p-mug", Title: "Mug", PriceCents: 1000, Currency: "USD", Approved: true, SellerID: "seller-1"},
		catalog.Product{ID: "p-pen", Title: "Pen", PriceCents: 250, Currency: "USD", Approved: true, SellerID: "seller-2"},
	)
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), nil, nil)
	require.NoError(t, ledger.SetStock(ctx, inventory.Stock{ProductID: "p-mug", Available: 5}))
	require.NoError(t, ledger.SetStock(ctx, inventory.Stock{ProductID: "p-pen", Available: 5}))
	engine, err := pricing.New(pricing.DefaultConfig())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	carts, err := cart.NewService(cart.Deps{
		Repo:           cart.NewRedisRepository(rdb),
		Catalog:        cat,
		Stock:          ledger,
		Pricing:        engine,
		PaymentMethods: []string{"card", "cod"},
	})
	require.NoError(t, err)
	osvc, err := orders.NewService(orders.Deps{
		Repo:        orders.NewMemoryRepository(),
		Ledger:      ledger,
		Catalog:     cat,
		Pricing:     engine,
		Sequence:    sequence.NewMemory(0),
		Cart:        carts,
		StatusCache: redisx.NewStatusCache(rdb),
	})
	require.NoError(t, err)
	rec, err := payments.NewReconciler(payments.Deps{
		Repo:    payments.NewMemoryRepository(),
		Orders:  osvc,
		Gateway: payments.NewSandboxGateway(),
		Dedup:   redisx.NewDeduper(rdb, "httpx-test"),
		Methods: []string{"card", "cod"},
		Timeout: time.Second,
	})
	require.NoError(t, err)
	wl, err := wishlist.NewService(wishlist.Deps{
		Repo:    wishlist.NewMemoryRepository(),
		Catalog: cat,
		Stock:   ledger,
		Cart:    carts,
	})
	require.NoError(t, err)

	verifier, err := auth.NewVerifier("test-secret")
	require.NoError(t, err)
	webhooks := &WebhookHandler{Secret: "whsec_test", Reconciler: rec, Service: "httpx-test"}
	router := NewRouter(Deps{
		Verifier:  verifier,
		Cart:      &CartHandler{Carts: carts},
		Orders:    &OrdersHandler{Orders: osvc, Carts: carts, Payments: rec, Idem: redisx.NewIdempotency(rdb)},
		Wishlists: &WishlistHandler{Wishlists: wl},
		Payments:  &PaymentsHandler{Payments: rec},
		Webhooks:  webhooks,
		Metrics:   metrics.New(prometheus.NewRegistry()),
	})
	return &testEnv{router: router, verifier: verifier, ledger: ledger, webhooks: webhooks}
}

func (e *testEnv) token(t *testing.T, id auth.Identity) string {
	t.Helper()
	tok, err := e.verifier.Sign(id, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, as *auth.Identity, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, *as))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

type orderResp struct {
	ID             string   `json:"id"`
	Number         string   `json:"orderNumber"`
	Status         string   `json:"status"`
	PaymentStatus  string   `json:"paymentStatus"`
	RefundedAmount int64    `json:"refundedAmount"`
	NextStatuses   []string `json:"nextStatuses"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorBody](t, rr).Error.Code
}

// checkoutReady fills buyer's cart with one mug and the checkout preferences.
func (e *testEnv) checkoutReady(t *testing.T) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/v1/cart/items", &buyer, addItemReq{ProductID: "p-mug", Quantity: 2})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = e.do(t, http.MethodPut, "/v1/cart/shipping-address", &buyer,
		cart.Address{Name: "Ann", Line1: "1 Main St", City: "Springfield", Country: "US"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = e.do(t, http.MethodPut, "/v1/cart/payment-method", &buyer, methodReq{Method: "card"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func (e *testEnv) placeOrder(t *testing.T) orderResp {
	t.Helper()
	e.checkoutReady(t)
	rr := e.do(t, http.MethodPost, "/v1/orders", &buyer, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[orderResp](t, rr)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = e.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `marketplace_http_requests_total{route="/healthz",status="200"} 1`)
}

func TestAuthRequired(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodGet, "/v1/cart", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "unauthorized", errorCode(t, rr))
}

func TestCartErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/v1/cart", &seller, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "forbidden", errorCode(t, rr))

	rr = e.do(t, http.MethodPost, "/v1/cart/items", &buyer, addItemReq{ProductID: "p-mug", Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_quantity", errorCode(t, rr))

	rr = e.do(t, http.MethodPost, "/v1/orders", &buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "empty_selection", errorCode(t, rr))

	req := httptest.NewRequest(http.MethodPost, "/v1/cart/items", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+e.token(t, buyer))
	raw := httptest.NewRecorder()
	e.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Equal(t, "validation_error", errorCode(t, raw))
}

func TestCartView(t *testing.T) {
	e := newEnv(t)
	e.checkoutReady(t)

	rr := e.do(t, http.MethodPatch, "/v1/cart/items/p-mug", &buyer, map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	v := decode[cart.View](t, rr)
	require.Len(t, v.Lines, 1)
	assert.Equal(t, 3, v.Lines[0].Quantity)
	assert.Equal(t, int64(3000), v.Totals.Subtotal)

	rr = e.do(t, http.MethodGet, "/v1/cart/checkout", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	snap := decode[cart.Snapshot](t, rr)
	assert.Equal(t, "card", snap.PaymentMethod)
	assert.Equal(t, "standard", snap.ShippingMethod)

	rr = e.do(t, http.MethodDelete, "/v1/cart", &buyer, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = e.do(t, http.MethodGet, "/v1/cart", &buyer, nil)
	assert.Empty(t, decode[cart.View](t, rr).Lines)
}

func TestCreateOrderIsIdempotentByKey(t *testing.T) {
	e := newEnv(t)
	e.checkoutReady(t)

	first := e.do(t, http.MethodPost, "/v1/orders", &buyer, nil, idempotencyHeader, "key-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	o := decode[orderResp](t, first)
	assert.Equal(t, "pending", o.Status)
	assert.NotEmpty(t, o.Number)

	again := e.do(t, http.MethodPost, "/v1/orders", &buyer, nil, idempotencyHeader, "key-1")
	require.Equal(t, http.StatusOK, again.Code, again.Body.String())
	assert.Equal(t, "true", again.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, o.ID, decode[orderResp](t, again).ID)

	st, err := e.ledger.Availability(context.Background(), "p-mug")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Reserved, "the replay must not reserve again")
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t)

	rr := e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &seller, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"confirmed", "rejected"}, decode[orderResp](t, rr).NextStatuses)

	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"cancelled"}, decode[orderResp](t, rr).NextStatuses)

	other := auth.Identity{UserID: "seller-9", Role: auth.RoleSeller}
	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &other, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/orders/missing", &buyer, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/transitions", &buyer, map[string]string{"status": "confirmed"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/transitions", &seller, map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	confirmed := decode[orderResp](t, rr)
	assert.Equal(t, "confirmed", confirmed.Status)
	assert.Equal(t, []string{"processing", "rejected"}, confirmed.NextStatuses)

	rr = e.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/transitions", &seller, map[string]string{"status": "delivered"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID+"/status", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "confirmed", decode[redisx.CachedStatus](t, rr).Status)

	rr = e.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/cancel", &buyer, reasonReq{Reason: "changed my mind"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "cancelled", decode[orderResp](t, rr).Status)

	rr = e.do(t, http.MethodGet, "/v1/orders?status=cancelled", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[struct {
		Orders []orderResp `json:"orders"`
	}](t, rr)
	require.Len(t, list.Orders, 1)

	rr = e.do(t, http.MethodGet, "/v1/orders?status=lost", &buyer, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = e.do(t, http.MethodGet, "/v1/orders/stats", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, decode[orders.Stats](t, rr).Total)
}

func TestPaymentFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t)

	rr := e.do(t, http.MethodGet, "/v1/payments/methods", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"card", "cod"}, decode[map[string][]string](t, rr)["methods"])

	rr = e.do(t, http.MethodPost, "/v1/payments/"+o.ID+"/intent", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	in := decode[payments.Intent](t, rr)
	require.NotEmpty(t, in.ClientSecret)

	rr = e.do(t, http.MethodPost, "/v1/payments/"+o.ID+"/confirm", &buyer, confirmReq{IntentID: in.IntentID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), in.ClientSecret)

	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &buyer, nil)
	got := decode[orderResp](t, rr)
	assert.Equal(t, "confirmed", got.Status)
	assert.Equal(t, "completed", got.PaymentStatus)

	rr = e.do(t, http.MethodPost, "/v1/orders/"+o.ID+"/refunds", &buyer, refundReq{Amount: 100})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodPost, "/v1/payments/"+o.ID+"/refunds", &seller, refundReq{Amount: 500, Reason: "damaged"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodGet, "/v1/payments/"+o.ID, &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(500), decode[payments.Record](t, rr).Refunded)

	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &buyer, nil)
	got = decode[orderResp](t, rr)
	assert.Equal(t, "partially_refunded", got.PaymentStatus)
	assert.Equal(t, int64(500), got.RefundedAmount)
}

func TestSavedMethodsOverHTTP(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodPost, "/v1/payments/saved-methods", &buyer, saveMethodReq{Kind: "card", Label: "Visa 4242"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, decode[payments.SavedMethod](t, rr).IsDefault)

	rr = e.do(t, http.MethodGet, "/v1/payments/saved-methods", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]payments.SavedMethod](t, rr), 1)

	rr = e.do(t, http.MethodGet, "/v1/payments/saved-methods", &seller, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestStripeWebhookAppliesInline(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t)
	rr := e.do(t, http.MethodPost, "/v1/payments/"+o.ID+"/intent", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	in := decode[payments.Intent](t, rr)

	var gotSig, gotSecret string
	e.webhooks.Parse = func(_ []byte, sig, secret string) (payments.GatewayEvent, error) {
		gotSig, gotSecret = sig, secret
		return payments.GatewayEvent{ID: "evt_1", Type: "payment_intent.succeeded", IntentID: in.IntentID, Status: payments.StatusCompleted}, nil
	}
	rr = e.do(t, http.MethodPost, "/webhooks/stripe", nil, map[string]string{"id": "evt_1"}, "Stripe-Signature", "t=1,v1=abc")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "t=1,v1=abc", gotSig)
	assert.Equal(t, "whsec_test", gotSecret)

	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &buyer, nil)
	assert.Equal(t, "confirmed", decode[orderResp](t, rr).Status)

	e.webhooks.Parse = func([]byte, string, string) (payments.GatewayEvent, error) {
		return payments.GatewayEvent{}, payments.ErrUnhandledEvent
	}
	rr = e.do(t, http.MethodPost, "/webhooks/stripe", nil, map[string]string{})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ignored")
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodPost, "/webhooks/stripe", nil, map[string]string{"id": "evt_1"}, "Stripe-Signature", "t=1,v1=forged")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStripeWebhookQueuesToKafka(t *testing.T) {
	e := newEnv(t)
	pub := &fakePublisher{}
	e.webhooks.Publisher = pub
	e.webhooks.Parse = func([]byte, string, string) (payments.GatewayEvent, error) {
		return payments.GatewayEvent{ID: "evt_9", Type: "payment_intent.succeeded", IntentID: "pi_9", OrderID: "o-9", Status: payments.StatusCompleted}, nil
	}
	rr := e.do(t, http.MethodPost, "/webhooks/stripe", nil, map[string]string{}, "X-Request-Id", "req-1")
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "pi_9", string(msg.Key))
	env, err := kafka.UnmarshalEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, payments.EventGatewayReceived, env.EventType)
	assert.Equal(t, "o-9", env.CorrelationID)
	assert.Equal(t, "req-1", env.TraceID)
	ev, err := kafka.UnwrapPayload[payments.GatewayEvent](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCompleted, ev.Status)
}

func TestStripeWebhookFailsWhenNotStored(t *testing.T) {
	e := newEnv(t)
	w := &downWriter{}
	e.webhooks.Publisher = kafka.NewProducerWithWriter(w, 1, nil)
	e.webhooks.Reconciler = nil
	e.webhooks.Parse = func([]byte, string, string) (payments.GatewayEvent, error) {
		return payments.GatewayEvent{ID: "evt_9", Type: "payment_intent.succeeded", IntentID: "pi_9", Status: payments.StatusCompleted}, nil
	}

	for i := 0; i < 3; i++ {
		rr := e.do(t, http.MethodPost, "/webhooks/stripe", nil, map[string]string{})
		assert.Equal(t, http.StatusInternalServerError, rr.Code, "the gateway must redeliver")
		assert.Contains(t, rr.Body.String(), "event_queue_unavailable")
	}
	assert.Equal(t, 3, w.calls)
}

func TestStripeWebhookAppliesInlineWhenQueueDown(t *testing.T) {
	e := newEnv(t)
	o := e.placeOrder(t)
	rr := e.do(t, http.MethodPost, "/v1/payments/"+o.ID+"/intent", &buyer, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	in := decode[payments.Intent](t, rr)

	pub := &fakePublisher{err: errors.New("broker down")}
	e.webhooks.Publisher = pub
	e.webhooks.Parse = func([]byte, string, string) (payments.GatewayEvent, error) {
		return payments.GatewayEvent{ID: "evt_1", Type: "payment_intent.succeeded", IntentID: in.IntentID, Status: payments.StatusCompleted}, nil
	}
	rr = e.do(t, http.MethodPost, "/webhooks/stripe", nil, map[string]string{})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "applied")
	assert.Empty(t, pub.msgs)

	rr = e.do(t, http.MethodGet, "/v1/orders/"+o.ID, &buyer, nil)
	assert.Equal(t, "confirmed", decode[orderResp](t, rr).Status)
}

func TestWishlistRoutes(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/v1/wishlists", &buyer, createWishlistReq{Name: "Gifts", IsPublic: true})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	wl := decode[wishlist.Wishlist](t, rr)
	require.NotEmpty(t, wl.ShareToken)

	rr = e.do(t, http.MethodPost, "/v1/wishlists/"+wl.ID+"/items", &buyer, map[string]string{"productId": "p-mug", "priority": "high"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = e.do(t, http.MethodPost, "/v1/wishlists/"+wl.ID+"/items", &buyer, map[string]string{"productId": "p-pen"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = e.do(t, http.MethodGet, "/v1/shared/wishlists/"+wl.ShareToken, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	shared := decode[wishlist.Wishlist](t, rr)
	assert.Empty(t, shared.ShareToken)
	assert.Len(t, shared.Items, 2)

	rr = e.do(t, http.MethodPost, "/v1/wishlists/"+wl.ID+"/move-to-cart", &buyer, moveReq{Items: []wishlist.MoveRequest{
		{ProductID: "p-mug", Quantity: 1},
		{ProductID: "p-pen", Quantity: 99},
	}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[wishlist.MoveResult](t, rr)
	assert.Equal(t, []string{"p-mug"}, res.Moved)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "out_of_stock", res.Skipped[0].Code)

	rr = e.do(t, http.MethodGet, "/v1/cart", &buyer, nil)
	assert.Len(t, decode[cart.View](t, rr).Lines, 1)

	rr = e.do(t, http.MethodDelete, "/v1/wishlists/"+wl.ID, &seller, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = e.do(t, http.MethodDelete, "/v1/wishlists/"+wl.ID, &buyer, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = e.do(t, http.MethodGet, "/v1/shared/wishlists/"+wl.ShareToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/payments"
)

type stubPaymentProvider struct {
	createFn  func(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	events    map[string]payments.WebhookEvent
	lastReq   payments.CheckoutSessionRequest
	createCnt int
}

func (p *stubPaymentProvider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	p.createCnt++
	p.lastReq = req
	if p.createFn != nil {
		return p.createFn(ctx, req)
	}
	return payments.CheckoutSession{ID: "cs_test_1", Provider: "stripe", RedirectURL: "https://checkout.stripe.test/cs_test_1"}, nil
}

// ParseWebhook treats the payload as an event id and the signature as a shared secret.
func (p *stubPaymentProvider) ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if signature != "valid" {
		return payments.WebhookEvent{}, payments.ErrInvalidSignature
	}
	event, ok := p.events[string(payload)]
	if !ok {
		return payments.WebhookEvent{}, payments.ErrInvalidPayload
	}
	return event, nil
}

func (p *stubPaymentProvider) PublishableKey() string { return "pk_test_123" }

type checkoutFixture struct {
	orderFixture
	provider *stubPaymentProvider
	checkout CheckoutService
}

func newCheckoutFixture(t *testing.T, orders OrderService, products ...domain.Product) checkoutFixture {
	t.Helper()
	f := newOrderFixture(t, false, products...)
	if orders == nil {
		orders = f.orders
	}
	provider := &stubPaymentProvider{events: map[string]payments.WebhookEvent{}}
	svc, err := NewCheckoutService(CheckoutServiceDeps{
		Cart:       f.cart,
		Carts:      f.store.Carts(),
		Products:   f.store.Products(),
		Orders:     orders,
		Provider:   provider,
		Currency:   "egp",
		SuccessURL: "https://shop.example/order/history/",
		CancelURL:  "https://shop.example/order/order-unaccepted/",
		Clock:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	return checkoutFixture{orderFixture: f, provider: provider, checkout: svc}
}

func completedEvent(id, userID string, amount int64) payments.WebhookEvent {
	return payments.WebhookEvent{
		ID:   id,
		Type: payments.EventCheckoutSessionCompleted,
		CompletedSession: &payments.CompletedSession{
			ID:            "cs_" + id,
			AmountTotal:   amount,
			Currency:      "egp",
			PaymentStatus: "paid",
			Metadata: map[string]string{
				MetadataUserID:        userID,
				MetadataFirstName:     "Mona",
				MetadataLastName:      "Adel",
				MetadataAddress:       "12 Nile St, Cairo",
				MetadataPhone:         "+20100000000",
				MetadataPaymentMethod: "card",
			},
		},
	}
}

func TestCheckoutServiceCreateSessionBuildsLineItems(t *testing.T) {
	f := newCheckoutFixture(t, nil,
		domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5},
		domain.Product{ID: "oil", Name: "Argan oil", Price: 12000, Stock: 5},
	)
	f.add(t, "user-1", "soap", "oil", "soap")

	session, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{
		UserID:         "user-1",
		Email:          "mona@example.com",
		Recipient:      testRecipient,
		PaymentMethod:  "card",
		Metadata:       map[string]string{"campaign": "summer", MetadataUserID: "someone-else"},
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "cs_test_1" || session.URL == "" {
		t.Fatalf("unexpected session %+v", session)
	}

	req := f.provider.lastReq
	if req.Currency != "EGP" || req.SuccessURL != "https://shop.example/order/history/" || req.IdempotencyKey != "idem-1" {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(req.Items))
	}
	if req.Items[0].ProductID != "soap" || req.Items[0].Quantity != 2 || req.Items[0].Amount != 4500 || req.Items[0].Name != "Olive soap" {
		t.Fatalf("unexpected first item %+v", req.Items[0])
	}
	if req.Items[1].ProductID != "oil" || req.Items[1].Quantity != 1 {
		t.Fatalf("unexpected second item %+v", req.Items[1])
	}
	if req.Metadata[MetadataUserID] != "user-1" || req.Metadata[MetadataAddress] != testRecipient.Address || req.Metadata["campaign"] != "summer" {
		t.Fatalf("unexpected metadata %+v", req.Metadata)
	}
}

func TestCheckoutServiceCreateSessionEmptyCart(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	_, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1", Recipient: testRecipient})
	if !errors.Is(err, ErrCheckoutCartEmpty) {
		t.Fatalf("expected ErrCheckoutCartEmpty, got %v", err)
	}
	if f.provider.createCnt != 0 {
		t.Fatalf("provider must not be called for an empty cart")
	}
}

func TestCheckoutServiceCreateSessionRejectsStaleStock(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap", "soap")
	f.store.PutProduct(domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Currency: "EGP", Stock: 1})

	_, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1", Recipient: testRecipient})
	if !errors.Is(err, ErrCheckoutOutOfStock) {
		t.Fatalf("expected ErrCheckoutOutOfStock, got %v", err)
	}
}

func TestCheckoutServiceCreateSessionRejectsForeignCurrency(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")
	f.store.PutProduct(domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Currency: "USD", Stock: 5})

	_, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1", Recipient: testRecipient})
	if !errors.Is(err, ErrCheckoutCurrencyMismatch) {
		t.Fatalf("expected ErrCheckoutCurrencyMismatch, got %v", err)
	}
	if f.provider.createCnt != 0 {
		t.Fatalf("provider must not be called for a foreign currency line")
	}
}

func TestCheckoutServiceCreateSessionCapsAddress(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")
	recipient := testRecipient
	recipient.Address = strings.Repeat("ش", 600)

	if _, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1", Recipient: recipient}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if got := utf8.RuneCountInString(f.provider.lastReq.Metadata[MetadataAddress]); got != 500 {
		t.Fatalf("expected address capped at 500 runes, got %d", got)
	}
}

func TestCheckoutServiceCreateSessionEnforcesMetadataLimits(t *testing.T) {
	tooMany := make(map[string]string, 50)
	for i := range 50 {
		tooMany[fmt.Sprintf("k%d", i)] = "v"
	}
	cases := map[string]map[string]string{
		"too many keys": tooMany,
		"long key":      {strings.Repeat("k", 41): "v"},
		"long value":    {"note": strings.Repeat("v", 501)},
	}
	for name, metadata := range cases {
		t.Run(name, func(t *testing.T) {
			f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
			f.add(t, "user-1", "soap")

			_, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1", Recipient: testRecipient, Metadata: metadata})
			if !errors.Is(err, ErrCheckoutInvalidInput) {
				t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
			}
			if f.provider.createCnt != 0 {
				t.Fatalf("provider must not be called when metadata exceeds limits")
			}
		})
	}
}

func TestCheckoutServiceCreateSessionProviderError(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")
	f.provider.createFn = func(context.Context, payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		return payments.CheckoutSession{}, &payments.ProviderError{Code: "amount_too_small", Message: "Amount must be at least 25.00 egp"}
	}

	_, err := f.checkout.CreateSession(context.Background(), CreateSessionCommand{UserID: "user-1", Recipient: testRecipient})
	if !errors.Is(err, ErrCheckoutPaymentFailed) {
		t.Fatalf("expected ErrCheckoutPaymentFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "Amount must be at least") {
		t.Fatalf("expected provider message in error, got %v", err)
	}
}

func TestCheckoutServiceWebhookCreatesOneOrderPerEvent(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap", "soap")
	f.provider.events["evt_1"] = completedEvent("evt_1", "user-1", 9000)
	ctx := context.Background()

	first, err := f.checkout.HandleWebhook(ctx, []byte("evt_1"), "valid")
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !first.Handled || first.Duplicate || first.OrderID == "" {
		t.Fatalf("unexpected first result %+v", first)
	}
	second, err := f.checkout.HandleWebhook(ctx, []byte("evt_1"), "valid")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.OrderID != first.OrderID {
		t.Fatalf("expected duplicate of %s, got %+v", first.OrderID, second)
	}

	page, err := f.orders.ListOrders(ctx, OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}
	order := page.Items[0]
	if order.Total != 9000 || order.Recipient.Address != "12 Nile St, Cairo" || order.PaymentMethod != "card" {
		t.Fatalf("unexpected order %+v", order)
	}
	view, _ := f.cart.GetCart(ctx, "user-1")
	if view.Count != 0 {
		t.Fatalf("expected empty cart, got %+v", view)
	}
}

func TestCheckoutServiceWebhookRejectsBadSignature(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")
	f.provider.events["evt_1"] = completedEvent("evt_1", "user-1", 4500)

	_, err := f.checkout.HandleWebhook(context.Background(), []byte("evt_1"), "t=1,v1=forged")
	if !errors.Is(err, ErrWebhookInvalidSignature) {
		t.Fatalf("expected ErrWebhookInvalidSignature, got %v", err)
	}
	if _, err := f.checkout.HandleWebhook(context.Background(), []byte("garbage"), "valid"); !errors.Is(err, ErrWebhookInvalidPayload) {
		t.Fatalf("expected ErrWebhookInvalidPayload, got %v", err)
	}
	page, _ := f.orders.ListOrders(context.Background(), OrderListFilter{UserID: "user-1"})
	if len(page.Items) != 0 {
		t.Fatalf("expected no orders, got %d", len(page.Items))
	}
}

func TestCheckoutServiceWebhookAcknowledgesUnfulfillable(t *testing.T) {
	f := newCheckoutFixture(t, nil)
	f.provider.events["evt_empty"] = completedEvent("evt_empty", "user-1", 4500)
	f.provider.events["evt_other"] = payments.WebhookEvent{ID: "evt_other", Type: "payment_intent.created"}
	anonymous := completedEvent("evt_anon", "", 4500)
	f.provider.events["evt_anon"] = anonymous

	for _, id := range []string{"evt_empty", "evt_other", "evt_anon"} {
		result, err := f.checkout.HandleWebhook(context.Background(), []byte(id), "valid")
		if err != nil {
			t.Fatalf("%s: expected acknowledgement, got %v", id, err)
		}
		if result.Handled || result.EventID != id {
			t.Fatalf("%s: unexpected result %+v", id, result)
		}
	}
}

type failingOrderService struct {
	OrderService
	err error
}

func (s failingOrderService) FinalizeFromPayment(context.Context, PaymentCompletion) (FinalizeResult, error) {
	return FinalizeResult{}, s.err
}

func TestCheckoutServiceWebhookAsksForRetryOnTransientFailure(t *testing.T) {
	orders := failingOrderService{err: fmt.Errorf("%w: deadline exceeded", ErrOrderUnavailable)}
	f := newCheckoutFixture(t, orders)
	f.provider.events["evt_1"] = completedEvent("evt_1", "user-1", 4500)

	_, err := f.checkout.HandleWebhook(context.Background(), []byte("evt_1"), "valid")
	if !errors.Is(err, ErrCheckoutUnavailable) {
		t.Fatalf("expected ErrCheckoutUnavailable, got %v", err)
	}
}

func TestCheckoutServiceSummaryIncludesPublishableKey(t *testing.T) {
	f := newCheckoutFixture(t, nil, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")

	summary, err := f.checkout.Summary(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.PublishableKey != "pk_test_123" || summary.Cart.Total != 4500 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if _, err := f.checkout.Summary(context.Background(), ""); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

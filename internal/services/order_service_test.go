package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/repositories"
	"github.com/naturalily/shop-api/internal/repositories/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.events = append(p.events, event)
	return "msg-1", nil
}

func (p *recordingPublisher) published() []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderEvent(nil), p.events...)
}

type orderFixture struct {
	store     *memory.Store
	cart      CartService
	orders    OrderService
	publisher *recordingPublisher
}

func newOrderFixture(t *testing.T, decrement bool, products ...domain.Product) orderFixture {
	t.Helper()
	store := newSeededStore(products...)
	publisher := &recordingPublisher{}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:         store.Orders(),
		Publisher:      publisher,
		Clock:          func() time.Time { return testNow },
		DecrementStock: decrement,
		IDGenerator:    sequentialIDs("order"),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return orderFixture{store: store, cart: newTestCartService(t, store), orders: orders, publisher: publisher}
}

func (f orderFixture) add(t *testing.T, userID string, productIDs ...string) {
	t.Helper()
	for _, pid := range productIDs {
		if _, err := f.cart.AddItem(context.Background(), userID, pid); err != nil {
			t.Fatalf("add %s: %v", pid, err)
		}
	}
}

var testRecipient = Recipient{FirstName: "Mona", LastName: "Adel", Address: "12 Nile St, Cairo", Phone: "+20100000000"}

func TestOrderServiceConfirmDirectConvertsCart(t *testing.T) {
	f := newOrderFixture(t, false,
		domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5},
		domain.Product{ID: "oil", Name: "Argan oil", Price: 12000, Stock: 5},
	)
	f.add(t, "user-1", "soap", "soap", "oil")
	ctx := context.Background()

	order, err := f.orders.ConfirmDirect(ctx, ConfirmOrderCommand{
		UserID:        "user-1",
		Recipient:     Recipient{FirstName: "<b>Mona</b>", LastName: "Adel", Address: "12 Nile St, Cairo", Phone: "+20100000000"},
		PaymentMethod: "cash",
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order.Total != 2*4500+12000 || order.ItemCount() != 3 || len(order.Lines) != 2 {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Source != domain.OrderSourceDirect || order.UserID != "user-1" {
		t.Fatalf("unexpected order header %+v", order)
	}
	if order.Recipient.FirstName != "Mona" {
		t.Fatalf("expected sanitized first name, got %q", order.Recipient.FirstName)
	}
	if !regexp.MustCompile(`^ORD-20240601100000-[0-9a-f]{8}$`).MatchString(order.Reference) {
		t.Fatalf("unexpected reference %q", order.Reference)
	}

	view, err := f.cart.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if view.Count != 0 || view.Total != 0 {
		t.Fatalf("expected empty cart after conversion, got %+v", view)
	}

	events := f.publisher.published()
	if len(events) != 1 || events[0].Type != OrderEventCreated || events[0].OrderID != order.ID || events[0].ItemCount != 3 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestOrderServiceConfirmDirectValidatesRecipient(t *testing.T) {
	f := newOrderFixture(t, false, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")

	recipient := testRecipient
	recipient.Phone = "  "
	_, err := f.orders.ConfirmDirect(context.Background(), ConfirmOrderCommand{UserID: "user-1", Recipient: recipient, PaymentMethod: "cash"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	view, _ := f.cart.GetCart(context.Background(), "user-1")
	if view.Count != 1 {
		t.Fatalf("expected cart untouched, got %+v", view)
	}
}

func TestOrderServiceConfirmDirectEmptyCart(t *testing.T) {
	f := newOrderFixture(t, false)
	_, err := f.orders.ConfirmDirect(context.Background(), ConfirmOrderCommand{UserID: "user-1", Recipient: testRecipient, PaymentMethod: "cash"})
	if !errors.Is(err, ErrOrderCartEmpty) {
		t.Fatalf("expected ErrOrderCartEmpty, got %v", err)
	}
	if len(f.publisher.published()) != 0 {
		t.Fatalf("expected no events")
	}
}

func TestOrderServiceFinalizeFromPaymentIsIdempotent(t *testing.T) {
	f := newOrderFixture(t, false, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5})
	f.add(t, "user-1", "soap")
	ctx := context.Background()

	completion := PaymentCompletion{
		EventID:       "evt_1",
		SessionID:     "cs_1",
		UserID:        "user-1",
		Recipient:     testRecipient,
		PaymentMethod: "card",
		AmountTotal:   4400,
		Currency:      "egp",
	}
	first, err := f.orders.FinalizeFromPayment(ctx, completion)
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if first.Duplicate || first.Order.Total != 4400 || first.Order.Currency != "EGP" {
		t.Fatalf("unexpected first result %+v", first)
	}
	if first.Order.PaymentEventID != "evt_1" || first.Order.Source != domain.OrderSourceStripe {
		t.Fatalf("unexpected payment fields %+v", first.Order)
	}

	second, err := f.orders.FinalizeFromPayment(ctx, completion)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Duplicate || second.Order.ID != first.Order.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Order.ID, second)
	}

	page, err := f.orders.ListOrders(ctx, OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected exactly one order, got %d", len(page.Items))
	}
	if len(f.publisher.published()) != 1 {
		t.Fatalf("expected a single event, got %d", len(f.publisher.published()))
	}
}

func TestOrderServiceDecrementStock(t *testing.T) {
	f := newOrderFixture(t, true, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 3})
	f.add(t, "user-1", "soap", "soap")
	f.add(t, "user-2", "soap", "soap")
	ctx := context.Background()

	if _, err := f.orders.ConfirmDirect(ctx, ConfirmOrderCommand{UserID: "user-1", Recipient: testRecipient, PaymentMethod: "cash"}); err != nil {
		t.Fatalf("confirm user-1: %v", err)
	}
	product, err := f.store.Products().GetProduct(ctx, "soap")
	if err != nil || product.Stock != 1 {
		t.Fatalf("expected stock 1, got %d (%v)", product.Stock, err)
	}

	_, err = f.orders.ConfirmDirect(ctx, ConfirmOrderCommand{UserID: "user-2", Recipient: testRecipient, PaymentMethod: "cash"})
	if !errors.Is(err, ErrOrderOutOfStock) {
		t.Fatalf("expected ErrOrderOutOfStock, got %v", err)
	}
	view, _ := f.cart.GetCart(ctx, "user-2")
	if view.Count != 1 {
		t.Fatalf("expected user-2 cart intact, got %+v", view)
	}
}

func TestOrderServicePublisherFailureDoesNotFailOrder(t *testing.T) {
	f := newOrderFixture(t, false, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 3})
	f.publisher.err = errors.New("pubsub down")
	f.add(t, "user-1", "soap")

	if _, err := f.orders.ConfirmDirect(context.Background(), ConfirmOrderCommand{UserID: "user-1", Recipient: testRecipient, PaymentMethod: "cash"}); err != nil {
		t.Fatalf("expected order despite publish failure, got %v", err)
	}
}

func TestOrderServiceGetOrderChecksOwner(t *testing.T) {
	f := newOrderFixture(t, false, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 3})
	f.add(t, "user-1", "soap")
	ctx := context.Background()
	order, err := f.orders.ConfirmDirect(ctx, ConfirmOrderCommand{UserID: "user-1", Recipient: testRecipient, PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	got, err := f.orders.GetOrder(ctx, "user-1", order.ID)
	if err != nil || got.ID != order.ID {
		t.Fatalf("expected order %s, got %+v (%v)", order.ID, got, err)
	}
	if _, err := f.orders.GetOrder(ctx, "user-2", order.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for other user, got %v", err)
	}
	if _, err := f.orders.GetOrder(ctx, "user-1", "missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceListOrdersPaginates(t *testing.T) {
	store := newSeededStore(domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 10})
	clock := testNow
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:          store.Orders(),
		Clock:           func() time.Time { return clock },
		HistoryPageSize: 2,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	cart := newTestCartService(t, store)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		if _, err := cart.AddItem(ctx, "user-1", "soap"); err != nil {
			t.Fatalf("add: %v", err)
		}
		order, err := orders.ConfirmDirect(ctx, ConfirmOrderCommand{UserID: "user-1", Recipient: testRecipient, PaymentMethod: "cash"})
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		ids = append(ids, order.ID)
		clock = clock.Add(time.Hour)
	}

	first, err := orders.ListOrders(ctx, OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != ids[2] || first.Items[1].ID != ids[1] {
		t.Fatalf("unexpected first page %+v", first.Items)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}
	second, err := orders.ListOrders(ctx, OrderListFilter{UserID: "user-1", Pagination: Pagination{PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != ids[0] || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", second)
	}

	if _, err := orders.ListOrders(ctx, OrderListFilter{UserID: "user-1", Pagination: Pagination{PageToken: "%%%"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput for bad token, got %v", err)
	}
}

type stubOrderRepository struct {
	finalizeErr error
}

func (s stubOrderRepository) FinalizeCart(context.Context, repositories.FinalizeCartRequest) (repositories.FinalizeCartResult, error) {
	return repositories.FinalizeCartResult{}, s.finalizeErr
}

func (s stubOrderRepository) FindByID(context.Context, string) (domain.Order, error) {
	return domain.Order{}, repositories.NewStoreError(repositories.StoreErrorNotFound, "", nil)
}

func (s stubOrderRepository) ListByUser(context.Context, string, domain.Pagination) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}

func TestOrderServiceTranslatesFinalizeErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "missing product", err: repositories.NewStoreError(repositories.StoreErrorNotFound, "product gone", nil), want: ErrOrderProductUnavailable},
		{name: "currency mismatch", err: repositories.NewStoreError(repositories.StoreErrorCurrencyMismatch, "soap is priced in USD", nil), want: ErrOrderProductUnavailable},
		{name: "out of stock", err: repositories.NewStoreError(repositories.StoreErrorOutOfStock, "soap", nil), want: ErrOrderOutOfStock},
		{name: "empty cart", err: repositories.NewStoreError(repositories.StoreErrorCartEmpty, "", nil), want: ErrOrderCartEmpty},
		{name: "conflict", err: repositories.NewStoreError(repositories.StoreErrorConflict, "", nil), want: ErrOrderConflict},
		{name: "unavailable", err: repositories.NewStoreError(repositories.StoreErrorUnavailable, "", nil), want: ErrOrderUnavailable},
		{name: "unclassified", err: errors.New("boom"), want: ErrOrderUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewOrderService(OrderServiceDeps{Orders: stubOrderRepository{finalizeErr: tc.err}})
			if err != nil {
				t.Fatalf("NewOrderService: %v", err)
			}
			_, err = svc.FinalizeFromPayment(context.Background(), PaymentCompletion{EventID: "evt_1", UserID: "user-1", AmountTotal: 100})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

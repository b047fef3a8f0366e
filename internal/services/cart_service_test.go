package services

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/repositories"
	"github.com/naturalily/shop-api/internal/repositories/memory"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func newSeededStore(products ...domain.Product) *memory.Store {
	store := memory.NewStore()
	for _, product := range products {
		if product.Currency == "" {
			product.Currency = "EGP"
		}
		product.UpdatedAt = testNow
		store.PutProduct(product)
	}
	return store
}

func sequentialIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

func newTestCartService(t *testing.T, store *memory.Store) CartService {
	t.Helper()
	svc, err := NewCartService(CartServiceDeps{
		Carts:       store.Carts(),
		Products:    store.Products(),
		Clock:       func() time.Time { return testNow },
		IDGenerator: sequentialIDs("cart"),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	return svc
}

func TestCartServiceAddItemStopsAtStock(t *testing.T) {
	store := newSeededStore(domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 2})
	svc := newTestCartService(t, store)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		result, err := svc.AddItem(ctx, "user-1", "soap")
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if result.Quantity != i {
			t.Fatalf("add %d: expected quantity %d, got %d", i, i, result.Quantity)
		}
	}
	if _, err := svc.AddItem(ctx, "user-1", "soap"); !errors.Is(err, ErrCartOutOfStock) {
		t.Fatalf("expected ErrCartOutOfStock, got %v", err)
	}

	view, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(view.Lines) != 1 || view.Lines[0].Quantity != 2 {
		t.Fatalf("expected single line with quantity 2, got %+v", view.Lines)
	}
	if view.Total != 9000 {
		t.Fatalf("expected total 9000, got %d", view.Total)
	}
}

func TestCartServiceConcurrentAddsNeverExceedStock(t *testing.T) {
	const stock = 5
	store := newSeededStore(domain.Product{ID: "oil", Name: "Argan oil", Price: 12000, Stock: stock})
	svc := newTestCartService(t, store)

	var succeeded, rejected atomic.Int64
	var g errgroup.Group
	g.SetLimit(8)
	for range 20 {
		g.Go(func() error {
			_, err := svc.AddItem(context.Background(), "user-1", "oil")
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrCartOutOfStock):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if succeeded.Load() != stock || rejected.Load() != 20-stock {
		t.Fatalf("expected %d successes, got %d (rejected %d)", stock, succeeded.Load(), rejected.Load())
	}
}

func TestCartServiceDecrementAtOneRemovesLine(t *testing.T) {
	store := newSeededStore(domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 10})
	svc := newTestCartService(t, store)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "user-1", "soap"); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.DecrementItem(ctx, "user-1", "soap")
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if result.Quantity != 0 || result.CartCount != 0 || result.CartTotal != 0 {
		t.Fatalf("expected removed line, got %+v", result)
	}
	if _, err := svc.DecrementItem(ctx, "user-1", "soap"); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
}

func TestCartServiceTotalsUseCurrentPrice(t *testing.T) {
	store := newSeededStore(
		domain.Product{ID: "soap", Name: "Olive soap", Price: 1000, Stock: 10},
		domain.Product{ID: "oil", Name: "Argan oil", Price: 2500, Stock: 10},
	)
	svc := newTestCartService(t, store)
	ctx := context.Background()

	for _, pid := range []string{"soap", "soap", "oil"} {
		if _, err := svc.AddItem(ctx, "user-1", pid); err != nil {
			t.Fatalf("add %s: %v", pid, err)
		}
	}
	store.PutProduct(domain.Product{ID: "soap", Name: "Olive soap", Price: 1500, Currency: "EGP", Stock: 10})

	view, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if view.Total != 2*1500+2500 {
		t.Fatalf("expected total %d, got %d", 2*1500+2500, view.Total)
	}
	if view.Count != 2 {
		t.Fatalf("expected 2 lines, got %d", view.Count)
	}
}

func TestCartServiceIncrementRequiresLine(t *testing.T) {
	store := newSeededStore(domain.Product{ID: "soap", Name: "Olive soap", Price: 1000, Stock: 1})
	svc := newTestCartService(t, store)
	ctx := context.Background()

	if _, err := svc.IncrementItem(ctx, "user-1", "soap"); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected ErrCartItemNotFound, got %v", err)
	}
	if _, err := svc.AddItem(ctx, "user-1", "soap"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.IncrementItem(ctx, "user-1", "soap"); !errors.Is(err, ErrCartOutOfStock) {
		t.Fatalf("expected ErrCartOutOfStock, got %v", err)
	}
}

func TestCartServiceRejectsUnknownProductAndBlankInput(t *testing.T) {
	svc := newTestCartService(t, newSeededStore())
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "user-1", "ghost"); !errors.Is(err, ErrCartProductNotFound) {
		t.Fatalf("expected ErrCartProductNotFound, got %v", err)
	}
	if _, err := svc.AddItem(ctx, " ", "soap"); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected ErrCartInvalidInput, got %v", err)
	}
}

func TestCartServiceRejectsForeignCurrency(t *testing.T) {
	store := newSeededStore(
		domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 5},
		domain.Product{ID: "candle", Name: "Amber candle", Price: 900, Currency: "USD", Stock: 5},
	)
	svc := newTestCartService(t, store)
	ctx := context.Background()

	if _, err := svc.AddItem(ctx, "user-1", "candle"); !errors.Is(err, ErrCartCurrencyMismatch) {
		t.Fatalf("expected ErrCartCurrencyMismatch, got %v", err)
	}

	if _, err := svc.AddItem(ctx, "user-1", "soap"); err != nil {
		t.Fatalf("add soap: %v", err)
	}
	store.PutProduct(domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Currency: "USD", Stock: 5, UpdatedAt: testNow})
	if _, err := svc.IncrementItem(ctx, "user-1", "soap"); !errors.Is(err, ErrCartCurrencyMismatch) {
		t.Fatalf("expected ErrCartCurrencyMismatch on increment, got %v", err)
	}
	view, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(view.Lines) != 0 || view.Total != 0 {
		t.Fatalf("foreign currency line should not be priced, got %+v", view)
	}
}

func TestCartServiceRemoveAndEmptyView(t *testing.T) {
	store := newSeededStore(domain.Product{ID: "soap", Name: "Olive soap", Price: 1000, Stock: 3})
	svc := newTestCartService(t, store)
	ctx := context.Background()

	view, err := svc.GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get empty cart: %v", err)
	}
	if view.Count != 0 || view.Total != 0 || view.Currency != "EGP" {
		t.Fatalf("unexpected empty view %+v", view)
	}

	if _, err := svc.AddItem(ctx, "user-1", "soap"); err != nil {
		t.Fatalf("add: %v", err)
	}
	result, err := svc.RemoveItem(ctx, "user-1", "soap")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if result.CartCount != 0 {
		t.Fatalf("expected empty cart after remove, got %+v", result)
	}
	if _, err := svc.RemoveItem(ctx, "user-1", "soap"); err != nil {
		t.Fatalf("removing an absent line should succeed, got %v", err)
	}
}

type failingCartRepository struct {
	err error
}

func (r failingCartRepository) GetCart(context.Context, string) (domain.Cart, error) {
	return domain.Cart{}, r.err
}

func (r failingCartRepository) MutateCart(context.Context, repositories.MutateCartRequest, repositories.CartMutateFunc) (domain.Cart, error) {
	return domain.Cart{}, r.err
}

func TestCartServiceTranslatesRepositoryErrors(t *testing.T) {
	store := newSeededStore(domain.Product{ID: "soap", Name: "Olive soap", Price: 1000, Stock: 3})
	cases := []struct {
		name string
		code repositories.StoreErrorCode
		want error
	}{
		{name: "unavailable", code: repositories.StoreErrorUnavailable, want: ErrCartUnavailable},
		{name: "conflict", code: repositories.StoreErrorConflict, want: ErrCartConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewCartService(CartServiceDeps{
				Carts:    failingCartRepository{err: repositories.NewStoreError(tc.code, "boom", nil)},
				Products: store.Products(),
				Clock:    func() time.Time { return testNow },
			})
			if err != nil {
				t.Fatalf("NewCartService: %v", err)
			}
			if _, err := svc.AddItem(context.Background(), "user-1", "soap"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if _, err := svc.GetCart(context.Background(), "user-1"); !errors.Is(err, tc.want) {
				t.Fatalf("get cart: expected %v, got %v", tc.want, err)
			}
		})
	}
}

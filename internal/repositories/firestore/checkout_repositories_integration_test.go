//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/repositories"
)

func addOne(now time.Time) repositories.CartMutateFunc {
	return func(cart *domain.Cart, product *domain.Product) error {
		if product == nil {
			return errors.New("product missing")
		}
		line, idx := cart.Line(product.ID)
		if !product.InStock(line.Quantity + 1) {
			return repositories.NewStoreError(repositories.StoreErrorOutOfStock, "out of stock", nil)
		}
		if idx < 0 {
			cart.Lines = append(cart.Lines, domain.CartLine{ProductID: product.ID, Quantity: 1, AddedAt: now, UpdatedAt: now})
			return nil
		}
		cart.Lines[idx].Quantity++
		cart.Lines[idx].UpdatedAt = now
		return nil
	}
}

func TestCartAndOrderRepositoriesIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "shop-test")
	registry, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	if _, err := client.Collection(productCollection).Doc("soap").Set(ctx, productDocument{
		Name: "Olive soap", Price: 4500, Currency: "EGP", Stock: 3, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Concurrent adds never exceed stock.
	var wg sync.WaitGroup
	var mu sync.Mutex
	outOfStock := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.Carts().MutateCart(ctx, repositories.MutateCartRequest{
				UserID: "user-1", ProductID: "soap", NewCartID: "cart-1", Now: now,
			}, addOne(now))
			if code, ok := repositories.StoreErrorCodeOf(err); ok && code == repositories.StoreErrorOutOfStock {
				mu.Lock()
				outOfStock++
				mu.Unlock()
				return
			}
			if err != nil {
				t.Errorf("mutate cart: %v", err)
			}
		}()
	}
	wg.Wait()
	if outOfStock != 2 {
		t.Fatalf("expected 2 out of stock rejections, got %d", outOfStock)
	}

	cart, err := registry.Carts().GetCart(ctx, "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 3 {
		t.Fatalf("expected quantity 3, got %+v", cart.Lines)
	}

	req := repositories.FinalizeCartRequest{
		UserID: "user-1",
		Order: domain.Order{
			ID: "order-1", Reference: "ORD-1", Source: domain.OrderSourceStripe,
			Currency: "EGP", PaymentEventID: "evt_1", OrderedAt: now,
		},
		DecrementStock: true,
	}
	first, err := registry.Orders().FinalizeCart(ctx, req)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if first.Duplicate || first.Order.Total != 13500 {
		t.Fatalf("unexpected first result %+v", first)
	}

	req.Order.ID = "order-2"
	replay, err := registry.Orders().FinalizeCart(ctx, req)
	if err != nil {
		t.Fatalf("replay finalize: %v", err)
	}
	if !replay.Duplicate || replay.Order.ID != "order-1" {
		t.Fatalf("expected duplicate of order-1, got %+v", replay)
	}

	if _, err := registry.Carts().GetCart(ctx, "user-1"); err == nil {
		t.Fatalf("expected cart to be deleted")
	}
	product, err := registry.Products().GetProduct(ctx, "soap")
	if err != nil || product.Stock != 0 {
		t.Fatalf("expected stock 0, got %+v err=%v", product, err)
	}

	page, err := registry.Orders().ListByUser(ctx, "user-1", domain.Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "" {
		t.Fatalf("unexpected page %+v", page)
	}

	created, count, err := registry.Wishlists().AddEntry(ctx, "user-1", "soap", now)
	if err != nil || !created || count != 1 {
		t.Fatalf("add wishlist: created=%v count=%d err=%v", created, count, err)
	}
	created, count, err = registry.Wishlists().AddEntry(ctx, "user-1", "soap", now)
	if err != nil || created || count != 1 {
		t.Fatalf("re-add wishlist: created=%v count=%d err=%v", created, count, err)
	}
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/platform/auth"
	"github.com/naturalily/shop-api/internal/repositories/memory"
	"github.com/naturalily/shop-api/internal/services"
)

var fixtureNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type shopFixture struct {
	store     *memory.Store
	carts     services.CartService
	wishlists services.WishlistService
	orders    services.OrderService
	catalog   services.CatalogService
}

func newShopFixture(t *testing.T, products ...domain.Product) shopFixture {
	t.Helper()
	store := memory.NewStore()
	for _, product := range products {
		if product.Currency == "" {
			product.Currency = "EGP"
		}
		product.UpdatedAt = fixtureNow
		store.PutProduct(product)
	}
	clock := func() time.Time { return fixtureNow }

	carts, err := services.NewCartService(services.CartServiceDeps{
		Carts:       store.Carts(),
		Products:    store.Products(),
		Clock:       clock,
		IDGenerator: counterIDs("cart"),
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	wishlists, err := services.NewWishlistService(services.WishlistServiceDeps{
		Wishlists: store.Wishlists(),
		Products:  store.Products(),
		Clock:     clock,
	})
	if err != nil {
		t.Fatalf("NewWishlistService: %v", err)
	}
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      store.Orders(),
		Clock:       clock,
		IDGenerator: counterIDs("order"),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	catalog, err := services.NewCatalogService(store.Products())
	if err != nil {
		t.Fatalf("NewCatalogService: %v", err)
	}
	return shopFixture{store: store, carts: carts, wishlists: wishlists, orders: orders, catalog: catalog}
}

func counterIDs(prefix string) func() string {
	var n atomic.Int64
	return func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	}
}

func asUser(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Email: uid + "@example.com"}))
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

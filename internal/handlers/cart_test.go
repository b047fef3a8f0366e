package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/services"
)

func newCartRouter(carts services.CartService) http.Handler {
	handler := NewCartHandlers(nil, carts)
	router := chi.NewRouter()
	router.Route("/cart", handler.Routes)
	return router
}

func TestCartHandlersAddItem(t *testing.T) {
	f := newShopFixture(t, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 1})
	router := newCartRouter(f.carts)

	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items/soap", nil), "user-7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["result"] != "added" || body["message"] != cartMessageAdded {
		t.Fatalf("unexpected body %+v", body)
	}
	if body["quantity"] != float64(1) || body["cart_count"] != float64(1) || body["cart_total"] != float64(4500) {
		t.Fatalf("unexpected counters %+v", body)
	}

	req = asUser(httptest.NewRequest(http.MethodPost, "/cart/items/soap", nil), "user-7")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 once stock is exhausted, got %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "out_of_stock" || body["message"] != cartMessageOutOfStock {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestCartHandlersIncrementDecrementRemove(t *testing.T) {
	f := newShopFixture(t, domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 2})
	router := newCartRouter(f.carts)
	if _, err := f.carts.AddItem(context.Background(), "user-7", "soap"); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	steps := []struct {
		method, path string
		status       int
		message      string
	}{
		{http.MethodPost, "/cart/items/soap/increment", http.StatusOK, cartMessageIncremented},
		{http.MethodPost, "/cart/items/soap/increment", http.StatusConflict, cartMessageNoMoreStock},
		{http.MethodPost, "/cart/items/soap/decrement", http.StatusOK, cartMessageDecremented},
		{http.MethodDelete, "/cart/items/soap", http.StatusOK, cartMessageRemoved},
		{http.MethodPost, "/cart/items/soap/increment", http.StatusNotFound, "product is not in the cart"},
	}
	for i, step := range steps {
		req := asUser(httptest.NewRequest(step.method, step.path, nil), "user-7")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != step.status {
			t.Fatalf("step %d %s %s: expected %d, got %d: %s", i, step.method, step.path, step.status, rr.Code, rr.Body.String())
		}
		if body := decodeJSON(t, rr); body["message"] != step.message {
			t.Fatalf("step %d: expected message %q, got %v", i, step.message, body["message"])
		}
	}
}

func TestCartHandlersGetCart(t *testing.T) {
	f := newShopFixture(t,
		domain.Product{ID: "soap", Name: "Olive soap", Price: 4500, Stock: 3},
		domain.Product{ID: "oil", Name: "Argan oil", Price: 12000, Stock: 3},
	)
	ctx := context.Background()
	for _, id := range []string{"soap", "oil", "soap"} {
		if _, err := f.carts.AddItem(ctx, "user-7", id); err != nil {
			t.Fatalf("seed cart: %v", err)
		}
	}

	req := asUser(httptest.NewRequest(http.MethodGet, "/cart", nil), "user-7")
	rr := httptest.NewRecorder()
	newCartRouter(f.carts).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store cache header")
	}
	cart, ok := decodeJSON(t, rr)["cart"].(map[string]any)
	if !ok {
		t.Fatalf("expected cart object")
	}
	if cart["total"] != float64(21000) || cart["count"] != float64(2) || cart["currency"] != "EGP" {
		t.Fatalf("unexpected cart %+v", cart)
	}
	lines, _ := cart["lines"].([]any)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestCartHandlersUnknownProduct(t *testing.T) {
	f := newShopFixture(t)
	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items/missing", nil), "user-7")
	rr := httptest.NewRecorder()
	newCartRouter(f.carts).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "product_not_found" {
		t.Fatalf("unexpected error %v", body["error"])
	}
}

func TestCartHandlersForeignCurrency(t *testing.T) {
	f := newShopFixture(t, domain.Product{ID: "candle", Name: "Amber candle", Price: 900, Currency: "USD", Stock: 4})
	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items/candle", nil), "user-7")
	rr := httptest.NewRecorder()
	newCartRouter(f.carts).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if body := decodeJSON(t, rr); body["error"] != "currency_mismatch" || body["message"] != "product is not sold in the shop currency" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	f := newShopFixture(t)
	rr := httptest.NewRecorder()
	newCartRouter(f.carts).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	req := asUser(httptest.NewRequest(http.MethodPost, "/cart/items/soap", nil), "user-7")
	rr := httptest.NewRecorder()
	newCartRouter(nil).ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

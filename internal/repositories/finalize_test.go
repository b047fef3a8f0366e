package repositories

import (
	"errors"
	"testing"

	domain "github.com/naturalily/shop-api/internal/domain"
)

func TestBuildOrderSnapshotsPrices(t *testing.T) {
	cart := domain.Cart{Lines: []domain.CartLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	}}
	products := map[string]domain.Product{
		"p1": {ID: "p1", Name: "Soap", Price: 1500, Stock: 5},
		"p2": {ID: "p2", Name: "Oil", Price: 4000, Stock: 1},
	}
	order, err := BuildOrder(FinalizeCartRequest{UserID: "u1", Order: domain.Order{ID: "o1"}}, cart, products)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Total != 7000 {
		t.Fatalf("expected total 7000, got %d", order.Total)
	}
	if order.UserID != "u1" || order.ID != "o1" {
		t.Fatalf("unexpected header %+v", order)
	}
	if len(order.Lines) != 2 || order.Lines[0].ProductName != "Soap" || order.Lines[0].UnitPrice != 1500 {
		t.Fatalf("unexpected lines %+v", order.Lines)
	}
}

func TestBuildOrderOverrideAndFailures(t *testing.T) {
	cart := domain.Cart{Lines: []domain.CartLine{{ProductID: "p1", Quantity: 3}}}
	products := map[string]domain.Product{"p1": {ID: "p1", Price: 100, Stock: 2}}

	charged := int64(250)
	order, err := BuildOrder(FinalizeCartRequest{TotalOverride: &charged}, cart, products)
	if err != nil || order.Total != 250 {
		t.Fatalf("expected override total, got %d err=%v", order.Total, err)
	}

	_, err = BuildOrder(FinalizeCartRequest{DecrementStock: true}, cart, products)
	if code, _ := StoreErrorCodeOf(err); code != StoreErrorOutOfStock {
		t.Fatalf("expected out_of_stock, got %v", err)
	}

	_, err = BuildOrder(FinalizeCartRequest{}, cart, map[string]domain.Product{})
	if code, _ := StoreErrorCodeOf(err); code != StoreErrorNotFound {
		t.Fatalf("expected not_found, got %v", err)
	}

	_, err = BuildOrder(FinalizeCartRequest{}, domain.Cart{}, products)
	if code, _ := StoreErrorCodeOf(err); code != StoreErrorCartEmpty {
		t.Fatalf("expected cart_empty, got %v", err)
	}

	_, err = BuildOrder(FinalizeCartRequest{Order: domain.Order{Currency: "EGP"}}, cart, map[string]domain.Product{
		"p1": {ID: "p1", Price: 100, Currency: "USD", Stock: 5},
	})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || !storeErr.IsCurrencyMismatch() {
		t.Fatalf("expected currency_mismatch, got %v", err)
	}
}

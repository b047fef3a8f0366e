package repositories

import (
	"fmt"
	"strings"

	domain "github.com/naturalily/shop-api/internal/domain"
)

// BuildOrder fills the order lines and total from cart, snapshotting each product's current name
// and price. Every backend calls it inside its finalize transaction with products read in that
// same transaction.
func BuildOrder(req FinalizeCartRequest, cart domain.Cart, products map[string]domain.Product) (domain.Order, error) {
	if len(cart.Lines) == 0 {
		return domain.Order{}, NewStoreError(StoreErrorCartEmpty, "cart has no lines", nil)
	}
	order := req.Order
	order.UserID = strings.TrimSpace(req.UserID)
	order.Lines = make([]domain.OrderLine, 0, len(cart.Lines))

	var total int64
	for _, line := range cart.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.Order{}, NewStoreError(StoreErrorNotFound, fmt.Sprintf("product %s no longer exists", line.ProductID), nil)
		}
		if !product.PricedIn(order.Currency) {
			return domain.Order{}, NewStoreError(StoreErrorCurrencyMismatch, fmt.Sprintf("product %s is priced in %s, order is in %s", line.ProductID, product.Currency, order.Currency), nil)
		}
		if req.DecrementStock && !product.InStock(line.Quantity) {
			return domain.Order{}, NewStoreError(StoreErrorOutOfStock, fmt.Sprintf("product %s has %d left, %d requested", line.ProductID, product.Stock, line.Quantity), nil)
		}
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
		})
		total += product.Price * int64(line.Quantity)
	}
	order.Total = total
	if req.TotalOverride != nil {
		order.Total = *req.TotalOverride
	}
	return order, nil
}

// CartProductIDs lists the product ids referenced by the cart in line order.
func CartProductIDs(cart domain.Cart) []string {
	ids := make([]string, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

package firestore

import (
	"context"
	"time"

	pfirestore "github.com/naturalily/shop-api/internal/platform/firestore"
	"github.com/naturalily/shop-api/internal/repositories"
)

// Registry wires the Firestore repositories around one shared provider.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	carts    *CartRepository
	wishlist *WishlistRepository
	orders   *OrderRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	wishlist, err := NewWishlistRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		products: products,
		carts:    carts,
		wishlist: wishlist,
		orders:   orders,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Carts() repositories.CartRepository         { return r.carts }
func (r *Registry) Wishlists() repositories.WishlistRepository { return r.wishlist }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:     "firestore",
		Timeout:  2 * time.Second,
		Critical: true,
		Check:    r.provider.Ping,
	}}
}

package repositories

import (
	"context"
	"time"

	domain "github.com/naturalily/shop-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Wishlists() WishlistRepository
	Orders() OrderRepository
	HealthChecks() []DependencyCheck
}

// RepositoryError exposes storage failure classification so services can map errors without
// depending on a concrete backend.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository resolves catalog entries. The catalog is owned elsewhere; this subsystem only reads it.
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	// GetProducts returns the products that exist; missing ids are absent from the map.
	GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// CartMutateFunc edits the cart in place inside the backend transaction. Product is nil when the
// catalog has no entry for the requested id. Returning an error aborts without writing.
type CartMutateFunc func(cart *domain.Cart, product *domain.Product) error

// MutateCartRequest identifies the cart and product a mutation targets.
type MutateCartRequest struct {
	UserID    string
	ProductID string
	// NewCartID is assigned when the user has no cart yet.
	NewCartID string
	Now       time.Time
}

// CartRepository persists the single cart owned by each user.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	// MutateCart loads (or starts) the user's cart and the product, applies fn, and persists the
	// result atomically. A cart that did not exist and ends with no lines is not written.
	MutateCart(ctx context.Context, req MutateCartRequest, fn CartMutateFunc) (domain.Cart, error)
}

// WishlistRepository persists per-user wishlist entries with set semantics.
type WishlistRepository interface {
	AddEntry(ctx context.Context, userID string, productID string, addedAt time.Time) (created bool, count int, err error)
	RemoveEntry(ctx context.Context, userID string, productID string) (count int, err error)
	ListEntries(ctx context.Context, userID string) ([]domain.WishlistEntry, error)
	CountEntries(ctx context.Context, userID string) (int, error)
}

// FinalizeCartRequest describes a cart-to-order conversion. Order carries the caller supplied
// header fields; lines, total and user are filled by the repository from the stored cart.
type FinalizeCartRequest struct {
	UserID string
	Order  domain.Order
	// TotalOverride replaces the computed line sum, e.g. with the amount the payment provider charged.
	TotalOverride *int64
	// DecrementStock subtracts each line quantity from product stock in the same transaction.
	DecrementStock bool
}

// FinalizeCartResult reports the order produced (or previously produced) by a conversion.
type FinalizeCartResult struct {
	Order     domain.Order
	Duplicate bool
}

// OrderRepository persists immutable orders and performs the atomic cart conversion.
type OrderRepository interface {
	// FinalizeCart copies the cart into a new order and deletes the cart in one transaction. When
	// Order.PaymentEventID is set and was already processed, the earlier order is returned with
	// Duplicate set and nothing is written.
	FinalizeCart(ctx context.Context, req FinalizeCartRequest) (FinalizeCartResult, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// ListByUser returns the user's orders newest first.
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
}

// HealthRepository reports dependency health for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

package services

import (
	"context"
	"time"

	domain "github.com/naturalily/shop-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Cart               = domain.Cart
	CartLine           = domain.CartLine
	CartView           = domain.CartView
	PricedCartLine     = domain.PricedCartLine
	WishlistEntry      = domain.WishlistEntry
	Order              = domain.Order
	OrderLine          = domain.OrderLine
	Recipient          = domain.Recipient
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService resolves products for public lookups.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// CartService manages the single cart owned by each user while enforcing stock limits.
type CartService interface {
	GetCart(ctx context.Context, userID string) (CartView, error)
	AddItem(ctx context.Context, userID, productID string) (CartMutation, error)
	IncrementItem(ctx context.Context, userID, productID string) (CartMutation, error)
	DecrementItem(ctx context.Context, userID, productID string) (CartMutation, error)
	RemoveItem(ctx context.Context, userID, productID string) (CartMutation, error)
}

// WishlistService manages per-user saved products.
type WishlistService interface {
	AddItem(ctx context.Context, userID, productID string) (WishlistMutation, error)
	RemoveItem(ctx context.Context, userID, productID string) (WishlistMutation, error)
	ListItems(ctx context.Context, userID string) (WishlistView, error)
	Count(ctx context.Context, userID string) (int, error)
}

// OrderService converts carts into immutable orders and serves order history.
type OrderService interface {
	ConfirmDirect(ctx context.Context, cmd ConfirmOrderCommand) (Order, error)
	FinalizeFromPayment(ctx context.Context, cmd PaymentCompletion) (FinalizeResult, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, userID, orderID string) (Order, error)
}

// CheckoutService bridges carts to the payment provider.
type CheckoutService interface {
	Summary(ctx context.Context, userID string) (CheckoutSummary, error)
	CreateSession(ctx context.Context, cmd CreateSessionCommand) (CheckoutSession, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher delivers order lifecycle events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) (string, error)
}

// OrderEventCreated is published once per newly finalized order.
const OrderEventCreated = "order.created"

// OrderEvent is the message body announced for order lifecycle changes.
type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"orderId"`
	Reference  string    `json:"reference"`
	UserID     string    `json:"userId"`
	Source     string    `json:"source"`
	Total      int64     `json:"total"`
	Currency   string    `json:"currency"`
	ItemCount  int       `json:"itemCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

// CartMutation reports the state of a cart after a line change.
type CartMutation struct {
	ProductID string
	// Quantity is the line quantity after the change; zero when the line was removed.
	Quantity  int
	CartCount int
	CartTotal int64
	Currency  string
}

// WishlistResult distinguishes a new wishlist entry from an existing one.
type WishlistResult string

const (
	WishlistResultCreated       WishlistResult = "created"
	WishlistResultAlreadyExists WishlistResult = "already_exists"
	WishlistResultRemoved       WishlistResult = "removed"
)

// WishlistMutation reports the wishlist after an add or remove.
type WishlistMutation struct {
	ProductID     string
	Result        WishlistResult
	Created       bool
	WishlistCount int
}

// WishlistItem is a wishlist entry joined with its product.
type WishlistItem struct {
	ProductID   string
	ProductName string
	Price       int64
	Currency    string
	InStock     bool
	AddedAt     time.Time
}

// WishlistView lists the wishlist newest first.
type WishlistView struct {
	Items []WishlistItem
	Count int
}

// ConfirmOrderCommand confirms the cart as an order without online payment.
type ConfirmOrderCommand struct {
	UserID        string
	Recipient     Recipient
	PaymentMethod string
}

// PaymentCompletion carries a provider-confirmed payment that should become an order.
type PaymentCompletion struct {
	EventID       string
	SessionID     string
	UserID        string
	Recipient     Recipient
	PaymentMethod string
	AmountTotal   int64
	Currency      string
}

// FinalizeResult reports the order produced by a payment completion. Duplicate is set when the
// event had already been processed and Order is the earlier order.
type FinalizeResult struct {
	Order     Order
	Duplicate bool
}

// OrderListFilter selects a page of a user's order history.
type OrderListFilter struct {
	UserID     string
	Pagination Pagination
}

// CheckoutSummary is the data shown on the checkout page.
type CheckoutSummary struct {
	Cart           CartView
	PublishableKey string
}

// CreateSessionCommand requests a hosted payment page for the user's cart.
type CreateSessionCommand struct {
	UserID         string
	Email          string
	Recipient      Recipient
	PaymentMethod  string
	Metadata       map[string]string
	IdempotencyKey string
}

// CheckoutSession is the hosted payment page created for a cart.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// WebhookResult summarises how a payment webhook was processed.
type WebhookResult struct {
	EventID   string
	Type      string
	Handled   bool
	Duplicate bool
	OrderID   string
}

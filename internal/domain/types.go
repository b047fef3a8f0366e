package domain

import (
	"strings"
	"time"
)

// Pagination captures cursor-based pagination inputs.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Product is the catalog view of a sellable item. Prices are minor currency units.
type Product struct {
	ID        string
	Name      string
	Price     int64
	Currency  string
	Stock     int
	UpdatedAt time.Time
}

// InStock reports whether at least quantity units are available.
func (p Product) InStock(quantity int) bool {
	return quantity > 0 && p.Stock >= quantity
}

// PricedIn reports whether the product's price is expressed in currency. An empty currency on
// either side matches.
func (p Product) PricedIn(currency string) bool {
	return p.Currency == "" || currency == "" || strings.EqualFold(p.Currency, currency)
}

// Cart is the single mutable basket owned by a user.
type Cart struct {
	ID        string
	UserID    string
	Lines     []CartLine
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line returns the line for productID and its index, or -1 when absent.
func (c Cart) Line(productID string) (CartLine, int) {
	for i, line := range c.Lines {
		if line.ProductID == productID {
			return line, i
		}
	}
	return CartLine{}, -1
}

// CartLine is a (product, quantity) pair inside a cart. Quantity is always >= 1.
type CartLine struct {
	ProductID string
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

// PricedCartLine joins a cart line with the product's current price.
type PricedCartLine struct {
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
	LineTotal   int64
}

// CartView is a cart priced at query time.
type CartView struct {
	ID        string
	UserID    string
	Lines     []PricedCartLine
	Count     int
	Total     int64
	Currency  string
	UpdatedAt time.Time
}

// WishlistEntry records a saved-for-later product.
type WishlistEntry struct {
	ProductID string
	AddedAt   time.Time
}

// OrderSource identifies which path created an order.
type OrderSource string

const (
	// OrderSourceDirect marks orders confirmed by the customer without online payment.
	OrderSourceDirect OrderSource = "direct"
	// OrderSourceStripe marks orders created from a Stripe checkout completion.
	OrderSourceStripe OrderSource = "stripe"
)

// Recipient holds the delivery contact captured at checkout.
type Recipient struct {
	FirstName string
	LastName  string
	Address   string
	Phone     string
}

// Order is the immutable record of a completed purchase.
type Order struct {
	ID                string
	Reference         string
	UserID            string
	Recipient         Recipient
	PaymentMethod     string
	Source            OrderSource
	Total             int64
	Currency          string
	PaymentEventID    string
	CheckoutSessionID string
	Lines             []OrderLine
	OrderedAt         time.Time
}

// ItemCount sums line quantities.
func (o Order) ItemCount() int {
	count := 0
	for _, line := range o.Lines {
		count += line.Quantity
	}
	return count
}

// OrderLine snapshots a product and its price at conversion time.
type OrderLine struct {
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
}

// ProcessedPaymentEvent marks a payment provider event as consumed.
type ProcessedPaymentEvent struct {
	EventID     string
	OrderID     string
	Outcome     string
	ProcessedAt time.Time
}

const (
	// PaymentEventOutcomeOrderCreated indicates the event produced an order.
	PaymentEventOutcomeOrderCreated = "order_created"
)

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

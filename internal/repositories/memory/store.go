// Package memory provides a process-local storage backend for development and tests. All state
// sits behind one mutex so each repository call is atomic.
package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/platform/pagination"
	"github.com/naturalily/shop-api/internal/repositories"
)

// Store holds every in-memory collection.
type Store struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	carts     map[string]domain.Cart
	wishlists map[string]map[string]time.Time
	orders    map[string]domain.Order
	events    map[string]domain.ProcessedPaymentEvent
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		carts:     make(map[string]domain.Cart),
		wishlists: make(map[string]map[string]time.Time),
		orders:    make(map[string]domain.Order),
		events:    make(map[string]domain.ProcessedPaymentEvent),
	}
}

type catalogSeed struct {
	Products []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Price    int64  `yaml:"price"`
		Currency string `yaml:"currency"`
		Stock    int    `yaml:"stock"`
	} `yaml:"products"`
}

// LoadCatalog reads a YAML catalog seed of the form
//
//	products:
//	  - id: soap
//	    name: Olive soap
//	    price: 4500
//	    currency: EGP
//	    stock: 10
func (s *Store) LoadCatalog(path string, now time.Time) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("memory store: read catalog seed: %w", err)
	}
	return s.LoadCatalogYAML(data, now)
}

// LoadCatalogYAML parses seed data in the LoadCatalog format.
func (s *Store) LoadCatalogYAML(data []byte, now time.Time) (int, error) {
	var seed catalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("memory store: parse catalog seed: %w", err)
	}
	for _, item := range seed.Products {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return 0, errors.New("memory store: catalog seed entry without id")
		}
		s.PutProduct(domain.Product{
			ID:        id,
			Name:      item.Name,
			Price:     item.Price,
			Currency:  strings.ToUpper(item.Currency),
			Stock:     item.Stock,
			UpdatedAt: now,
		})
	}
	return len(seed.Products), nil
}

// PutProduct inserts or replaces a catalog entry.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Products() repositories.ProductRepository   { return productRepository{s} }
func (s *Store) Carts() repositories.CartRepository         { return cartRepository{s} }
func (s *Store) Wishlists() repositories.WishlistRepository { return wishlistRepository{s} }
func (s *Store) Orders() repositories.OrderRepository       { return orderRepository{s} }

func (s *Store) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}}
}

func notFound(format string, args ...any) error {
	return repositories.NewStoreError(repositories.StoreErrorNotFound, fmt.Sprintf(format, args...), nil)
}

type productRepository struct{ s *Store }

func (r productRepository) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("product %s not found", productID)
	}
	return product, nil
}

func (r productRepository) GetProducts(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	products := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			products[id] = product
		}
	}
	return products, nil
}

type cartRepository struct{ s *Store }

func (r cartRepository) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[userID]
	if !ok {
		return domain.Cart{}, notFound("cart for %s not found", userID)
	}
	return cloneCart(cart), nil
}

func (r cartRepository) MutateCart(_ context.Context, req repositories.MutateCartRequest, fn repositories.CartMutateFunc) (domain.Cart, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.ProductID) == "" {
		return domain.Cart{}, errors.New("memory store: user id and product id are required")
	}
	if fn == nil {
		return domain.Cart{}, errors.New("memory store: mutate function is required")
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cart, exists := r.s.carts[req.UserID]
	if exists {
		cart = cloneCart(cart)
	} else {
		cart = domain.Cart{ID: req.NewCartID, UserID: req.UserID, CreatedAt: now}
	}
	var product *domain.Product
	if p, ok := r.s.products[req.ProductID]; ok {
		product = &p
	}
	if err := fn(&cart, product); err != nil {
		return domain.Cart{}, err
	}
	cart.UpdatedAt = now
	if exists || len(cart.Lines) > 0 {
		r.s.carts[req.UserID] = cloneCart(cart)
	}
	return cart, nil
}

type wishlistRepository struct{ s *Store }

func (r wishlistRepository) AddEntry(_ context.Context, userID string, productID string, addedAt time.Time) (bool, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entries := r.s.wishlists[userID]
	if entries == nil {
		entries = make(map[string]time.Time)
		r.s.wishlists[userID] = entries
	}
	if _, ok := entries[productID]; ok {
		return false, len(entries), nil
	}
	entries[productID] = addedAt
	return true, len(entries), nil
}

func (r wishlistRepository) RemoveEntry(_ context.Context, userID string, productID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entries := r.s.wishlists[userID]
	delete(entries, productID)
	return len(entries), nil
}

func (r wishlistRepository) ListEntries(_ context.Context, userID string) ([]domain.WishlistEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entries := make([]domain.WishlistEntry, 0, len(r.s.wishlists[userID]))
	for productID, addedAt := range r.s.wishlists[userID] {
		entries = append(entries, domain.WishlistEntry{ProductID: productID, AddedAt: addedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AddedAt.Equal(entries[j].AddedAt) {
			return entries[i].ProductID > entries[j].ProductID
		}
		return entries[i].AddedAt.After(entries[j].AddedAt)
	})
	return entries, nil
}

func (r wishlistRepository) CountEntries(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.wishlists[userID]), nil
}

type orderRepository struct{ s *Store }

func (r orderRepository) FinalizeCart(_ context.Context, req repositories.FinalizeCartRequest) (repositories.FinalizeCartResult, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Order.ID) == "" {
		return repositories.FinalizeCartResult{}, errors.New("memory store: user id and order id are required")
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	eventID := req.Order.PaymentEventID
	if eventID != "" {
		if marker, ok := r.s.events[eventID]; ok {
			previous, ok := r.s.orders[marker.OrderID]
			if !ok {
				return repositories.FinalizeCartResult{}, notFound("order %s for event %s not found", marker.OrderID, eventID)
			}
			return repositories.FinalizeCartResult{Order: cloneOrder(previous), Duplicate: true}, nil
		}
	}

	cart, ok := r.s.carts[req.UserID]
	if !ok {
		return repositories.FinalizeCartResult{}, repositories.NewStoreError(repositories.StoreErrorCartEmpty, "cart not found", nil)
	}
	order, err := repositories.BuildOrder(req, cart, r.s.products)
	if err != nil {
		return repositories.FinalizeCartResult{}, err
	}
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.FinalizeCartResult{}, repositories.NewStoreError(repositories.StoreErrorConflict, "order id already used", nil)
	}

	if req.DecrementStock {
		for _, line := range order.Lines {
			product := r.s.products[line.ProductID]
			product.Stock -= line.Quantity
			product.UpdatedAt = order.OrderedAt
			r.s.products[line.ProductID] = product
		}
	}
	r.s.orders[order.ID] = cloneOrder(order)
	delete(r.s.carts, req.UserID)
	if eventID != "" {
		r.s.events[eventID] = domain.ProcessedPaymentEvent{
			EventID:     eventID,
			OrderID:     order.ID,
			Outcome:     domain.PaymentEventOutcomeOrderCreated,
			ProcessedAt: order.OrderedAt,
		}
	}
	return repositories.FinalizeCartResult{Order: order}, nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) ListByUser(_ context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	var cursor *pagination.OrderCursor
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		decoded, err := pagination.DecodeOrderCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		cursor = &decoded
	}

	r.s.mu.Lock()
	var orders []domain.Order
	for _, order := range r.s.orders {
		if order.UserID != userID {
			continue
		}
		if cursor != nil && !cursor.After(order.OrderedAt, order.ID) {
			continue
		}
		orders = append(orders, cloneOrder(order))
	}
	r.s.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].OrderedAt.Equal(orders[j].OrderedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].OrderedAt.After(orders[j].OrderedAt)
	})

	next := ""
	if pager.PageSize > 0 && len(orders) > pager.PageSize {
		orders = orders[:pager.PageSize]
		last := orders[len(orders)-1]
		next = pagination.EncodeOrderCursor(pagination.OrderCursor{OrderedAt: last.OrderedAt, ID: last.ID})
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	cart.Lines = append([]domain.CartLine(nil), cart.Lines...)
	return cart
}

func cloneOrder(order domain.Order) domain.Order {
	order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	return order
}

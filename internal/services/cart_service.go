package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: cart and product repositories are required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartProductNotFound indicates the product is not in the catalog.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartItemNotFound indicates the cart has no line for the product.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartOutOfStock indicates the requested quantity exceeds available stock.
	ErrCartOutOfStock = errors.New("cart service: out of stock")
	// ErrCartCurrencyMismatch indicates the product is priced in a currency other than the shop's.
	ErrCartCurrencyMismatch = errors.New("cart service: currency mismatch")
	// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartUnavailable indicates the cart service cannot fulfil the request due to backend issues.
	ErrCartUnavailable = errors.New("cart service: unavailable")
)

// CartServiceDeps wires the repositories used by cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	Currency    string
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	now      func() time.Time
	newID    func() string
	currency string
	logger   func(context.Context, string, map[string]any)
	errs     repoErrorMapping
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil || deps.Products == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "EGP"
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		now:      func() time.Time { return deps.Clock().UTC() },
		newID:    idGen,
		currency: currency,
		logger:   logger,
		errs: repoErrorMapping{
			conflict:    ErrCartConflict,
			unavailable: ErrCartUnavailable,
		},
	}, nil
}

// GetCart prices the cart with current catalog prices. A user without a cart gets an empty view.
func (s *cartService) GetCart(ctx context.Context, userID string) (CartView, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return CartView{}, ErrCartInvalidInput
	}
	cart, err := s.carts.GetCart(ctx, uid)
	if err != nil {
		if isRepoNotFound(err) {
			return CartView{UserID: uid, Currency: s.currency}, nil
		}
		return CartView{}, s.errs.translate(err)
	}
	return s.price(ctx, cart)
}

func (s *cartService) AddItem(ctx context.Context, userID, productID string) (CartMutation, error) {
	return s.mutate(ctx, "cart.item.added", userID, productID, func(cart *domain.Cart, product *domain.Product, now time.Time) error {
		if product == nil {
			return ErrCartProductNotFound
		}
		if !product.PricedIn(s.currency) {
			return ErrCartCurrencyMismatch
		}
		line, idx := cart.Line(product.ID)
		if !product.InStock(line.Quantity + 1) {
			return ErrCartOutOfStock
		}
		if idx < 0 {
			cart.Lines = append(cart.Lines, domain.CartLine{ProductID: product.ID, Quantity: 1, AddedAt: now, UpdatedAt: now})
			return nil
		}
		cart.Lines[idx].Quantity++
		cart.Lines[idx].UpdatedAt = now
		return nil
	})
}

func (s *cartService) IncrementItem(ctx context.Context, userID, productID string) (CartMutation, error) {
	return s.mutate(ctx, "cart.item.incremented", userID, productID, func(cart *domain.Cart, product *domain.Product, now time.Time) error {
		if product == nil {
			return ErrCartProductNotFound
		}
		if !product.PricedIn(s.currency) {
			return ErrCartCurrencyMismatch
		}
		line, idx := cart.Line(product.ID)
		if idx < 0 {
			return ErrCartItemNotFound
		}
		if !product.InStock(line.Quantity + 1) {
			return ErrCartOutOfStock
		}
		cart.Lines[idx].Quantity++
		cart.Lines[idx].UpdatedAt = now
		return nil
	})
}

// DecrementItem lowers the quantity by one, removing the line when it would reach zero.
func (s *cartService) DecrementItem(ctx context.Context, userID, productID string) (CartMutation, error) {
	return s.mutate(ctx, "cart.item.decremented", userID, productID, func(cart *domain.Cart, _ *domain.Product, now time.Time) error {
		line, idx := cart.Line(productID)
		if idx < 0 {
			return ErrCartItemNotFound
		}
		if line.Quantity <= 1 {
			cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
			return nil
		}
		cart.Lines[idx].Quantity--
		cart.Lines[idx].UpdatedAt = now
		return nil
	})
}

// RemoveItem deletes the line. Removing a product that is not in the cart succeeds.
func (s *cartService) RemoveItem(ctx context.Context, userID, productID string) (CartMutation, error) {
	return s.mutate(ctx, "cart.item.removed", userID, productID, func(cart *domain.Cart, _ *domain.Product, _ time.Time) error {
		if _, idx := cart.Line(productID); idx >= 0 {
			cart.Lines = append(cart.Lines[:idx], cart.Lines[idx+1:]...)
		}
		return nil
	})
}

type cartEdit func(cart *domain.Cart, product *domain.Product, now time.Time) error

func (s *cartService) mutate(ctx context.Context, event, userID, productID string, edit cartEdit) (CartMutation, error) {
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(productID)
	if uid == "" || pid == "" {
		return CartMutation{}, ErrCartInvalidInput
	}

	now := s.now()
	cart, err := s.carts.MutateCart(ctx, repositories.MutateCartRequest{
		UserID:    uid,
		ProductID: pid,
		NewCartID: s.newID(),
		Now:       now,
	}, func(cart *domain.Cart, product *domain.Product) error {
		return edit(cart, product, now)
	})
	if err != nil {
		if sentinel := matchSentinel(err, ErrCartProductNotFound, ErrCartItemNotFound, ErrCartOutOfStock, ErrCartCurrencyMismatch); sentinel != nil {
			s.logger(ctx, "cart.mutation.rejected", map[string]any{
				"userID":    uid,
				"productID": pid,
				"reason":    sentinel.Error(),
			})
			return CartMutation{}, sentinel
		}
		return CartMutation{}, s.errs.translate(err)
	}

	view, err := s.price(ctx, cart)
	if err != nil {
		return CartMutation{}, err
	}
	line, _ := cart.Line(pid)
	s.logger(ctx, event, map[string]any{
		"userID":    uid,
		"productID": pid,
		"quantity":  line.Quantity,
		"cartCount": view.Count,
	})
	return CartMutation{
		ProductID: pid,
		Quantity:  line.Quantity,
		CartCount: view.Count,
		CartTotal: view.Total,
		Currency:  view.Currency,
	}, nil
}

// price joins the lines with current products. Lines whose product left the catalog, or is
// priced in another currency, are omitted from the view.
func (s *cartService) price(ctx context.Context, cart domain.Cart) (CartView, error) {
	view := CartView{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Currency:  s.currency,
		UpdatedAt: cart.UpdatedAt,
	}
	if len(cart.Lines) == 0 {
		return view, nil
	}
	products, err := s.products.GetProducts(ctx, repositories.CartProductIDs(cart))
	if err != nil {
		return CartView{}, s.errs.translate(err)
	}
	for _, line := range cart.Lines {
		product, ok := products[line.ProductID]
		if !ok || !product.PricedIn(s.currency) {
			s.logger(ctx, "cart.line.skipped", map[string]any{
				"cartID":    cart.ID,
				"productID": line.ProductID,
				"missing":   !ok,
			})
			continue
		}
		lineTotal := product.Price * int64(line.Quantity)
		view.Lines = append(view.Lines, PricedCartLine{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
			LineTotal:   lineTotal,
		})
		view.Total += lineTotal
	}
	view.Count = len(view.Lines)
	return view, nil
}

package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/naturalily/shop-api/internal/repositories"
)

var (
	// ErrWishlistInvalidInput indicates the caller supplied invalid input.
	ErrWishlistInvalidInput = errors.New("wishlist service: invalid input")
	// ErrWishlistProductNotFound indicates the product is not in the catalog.
	ErrWishlistProductNotFound = errors.New("wishlist service: product not found")
	// ErrWishlistConflict indicates a concurrent write prevented the change.
	ErrWishlistConflict = errors.New("wishlist service: conflict")
	// ErrWishlistUnavailable indicates the wishlist backend could not be reached.
	ErrWishlistUnavailable = errors.New("wishlist service: unavailable")
)

// WishlistServiceDeps wires the repositories used by wishlist operations.
type WishlistServiceDeps struct {
	Wishlists repositories.WishlistRepository
	Products  repositories.ProductRepository
	Clock     func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

type wishlistService struct {
	wishlists repositories.WishlistRepository
	products  repositories.ProductRepository
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	errs      repoErrorMapping
}

var _ WishlistService = (*wishlistService)(nil)

// NewWishlistService constructs a WishlistService.
func NewWishlistService(deps WishlistServiceDeps) (WishlistService, error) {
	if deps.Wishlists == nil || deps.Products == nil {
		return nil, errors.New("wishlist service: wishlist and product repositories are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &wishlistService{
		wishlists: deps.Wishlists,
		products:  deps.Products,
		now:       func() time.Time { return clock().UTC() },
		logger:    logger,
		errs: repoErrorMapping{
			conflict:    ErrWishlistConflict,
			unavailable: ErrWishlistUnavailable,
		},
	}, nil
}

// AddItem saves the product. Adding a product twice reports already_exists and leaves the count unchanged.
func (s *wishlistService) AddItem(ctx context.Context, userID, productID string) (WishlistMutation, error) {
	uid, pid, err := wishlistKeys(userID, productID)
	if err != nil {
		return WishlistMutation{}, err
	}
	if _, err := s.products.GetProduct(ctx, pid); err != nil {
		if isRepoNotFound(err) {
			return WishlistMutation{}, ErrWishlistProductNotFound
		}
		return WishlistMutation{}, s.errs.translate(err)
	}

	created, count, err := s.wishlists.AddEntry(ctx, uid, pid, s.now())
	if err != nil {
		return WishlistMutation{}, s.errs.translate(err)
	}
	result := WishlistResultCreated
	if !created {
		result = WishlistResultAlreadyExists
	}
	s.logger(ctx, "wishlist.item.added", map[string]any{
		"userID":    uid,
		"productID": pid,
		"result":    string(result),
	})
	return WishlistMutation{ProductID: pid, Result: result, Created: created, WishlistCount: count}, nil
}

func (s *wishlistService) RemoveItem(ctx context.Context, userID, productID string) (WishlistMutation, error) {
	uid, pid, err := wishlistKeys(userID, productID)
	if err != nil {
		return WishlistMutation{}, err
	}
	count, err := s.wishlists.RemoveEntry(ctx, uid, pid)
	if err != nil {
		return WishlistMutation{}, s.errs.translate(err)
	}
	s.logger(ctx, "wishlist.item.removed", map[string]any{"userID": uid, "productID": pid})
	return WishlistMutation{ProductID: pid, Result: WishlistResultRemoved, WishlistCount: count}, nil
}

// ListItems returns the wishlist newest first. Entries whose product left the catalog are skipped.
func (s *wishlistService) ListItems(ctx context.Context, userID string) (WishlistView, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return WishlistView{}, ErrWishlistInvalidInput
	}
	entries, err := s.wishlists.ListEntries(ctx, uid)
	if err != nil {
		return WishlistView{}, s.errs.translate(err)
	}
	if len(entries) == 0 {
		return WishlistView{}, nil
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return WishlistView{}, s.errs.translate(err)
	}

	view := WishlistView{Items: make([]WishlistItem, 0, len(entries))}
	for _, entry := range entries {
		product, ok := products[entry.ProductID]
		if !ok {
			continue
		}
		view.Items = append(view.Items, WishlistItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Price:       product.Price,
			Currency:    product.Currency,
			InStock:     product.InStock(1),
			AddedAt:     entry.AddedAt,
		})
	}
	view.Count = len(view.Items)
	return view, nil
}

// Count reports stored entries without consulting the catalog, so an entry whose product was
// deleted still counts until the user removes it.
func (s *wishlistService) Count(ctx context.Context, userID string) (int, error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return 0, ErrWishlistInvalidInput
	}
	count, err := s.wishlists.CountEntries(ctx, uid)
	if err != nil {
		return 0, s.errs.translate(err)
	}
	return count, nil
}

func wishlistKeys(userID, productID string) (string, string, error) {
	uid := strings.TrimSpace(userID)
	pid := strings.TrimSpace(productID)
	if uid == "" || pid == "" {
		return "", "", ErrWishlistInvalidInput
	}
	return uid, pid, nil
}

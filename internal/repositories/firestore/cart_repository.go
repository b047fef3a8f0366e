package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/naturalily/shop-api/internal/domain"
	pfirestore "github.com/naturalily/shop-api/internal/platform/firestore"
	"github.com/naturalily/shop-api/internal/repositories"
)

// CartRepository stores one cart document per user, keyed by the user id, with the lines
// embedded in the document.
type CartRepository struct {
	base     *pfirestore.BaseRepository[domain.Cart]
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base:     pfirestore.NewBaseRepository[domain.Cart](provider, cartCollection, decodeCart),
		provider: provider,
	}, nil
}

// GetCart returns the user's cart. A missing cart yields a NotFound repository error.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(userID))
	if err != nil {
		return domain.Cart{}, err
	}
	return doc.Data, nil
}

// MutateCart reads the cart and product inside one transaction so the stock check and the
// write cannot interleave with another mutation.
func (r *CartRepository) MutateCart(ctx context.Context, req repositories.MutateCartRequest, fn repositories.CartMutateFunc) (domain.Cart, error) {
	if r == nil || r.provider == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	userID := strings.TrimSpace(req.UserID)
	productID := strings.TrimSpace(req.ProductID)
	if userID == "" || productID == "" {
		return domain.Cart{}, errors.New("cart repository: user id and product id are required")
	}
	if fn == nil {
		return domain.Cart{}, errors.New("cart repository: mutate function is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	cartRef := client.Collection(cartCollection).Doc(userID)
	productRef := client.Collection(productCollection).Doc(productID)

	var result domain.Cart
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		exists := true
		var cart domain.Cart
		snap, err := tx.Get(cartRef)
		switch {
		case err == nil:
			if cart, err = decodeCart(snap); err != nil {
				return err
			}
		case pfirestore.IsNotFound(err):
			exists = false
			cart = domain.Cart{ID: req.NewCartID, UserID: userID, CreatedAt: now}
		default:
			return pfirestore.WrapError("carts.mutate.getCart", err)
		}

		var product *domain.Product
		productSnap, err := tx.Get(productRef)
		switch {
		case err == nil:
			decoded, err := decodeProduct(productSnap)
			if err != nil {
				return err
			}
			product = &decoded
		case pfirestore.IsNotFound(err):
		default:
			return pfirestore.WrapError("carts.mutate.getProduct", err)
		}

		if err := fn(&cart, product); err != nil {
			return err
		}
		cart.UpdatedAt = now
		result = cart
		if !exists && len(cart.Lines) == 0 {
			return nil
		}
		return tx.Set(cartRef, encodeCart(cart))
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return result, nil
}

package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/naturalily/shop-api/internal/domain"
	pfirestore "github.com/naturalily/shop-api/internal/platform/firestore"
	"github.com/naturalily/shop-api/internal/repositories"
)

// ProductRepository reads catalog entries from the products collection.
type ProductRepository struct {
	base *pfirestore.BaseRepository[domain.Product]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[domain.Product](provider, productCollection, decodeProduct),
	}, nil
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(productID))
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data, nil
}

// GetProducts batches the lookups into a single GetAll round trip.
func (r *ProductRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	products := make(map[string]domain.Product, len(docs))
	for _, doc := range docs {
		products[doc.ID] = doc.Data
	}
	return products, nil
}

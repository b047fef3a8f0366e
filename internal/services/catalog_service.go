package services

import (
	"context"
	"errors"
	"strings"

	"github.com/naturalily/shop-api/internal/repositories"
)

var (
	ErrCatalogInvalidInput    = errors.New("catalog service: invalid input")
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
	ErrCatalogUnavailable     = errors.New("catalog service: unavailable")
)

type catalogService struct {
	products repositories.ProductRepository
	errs     repoErrorMapping
}

// NewCatalogService exposes read access to the product catalog.
func NewCatalogService(products repositories.ProductRepository) (CatalogService, error) {
	if products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	return &catalogService{
		products: products,
		errs: repoErrorMapping{
			notFound:    ErrCatalogProductNotFound,
			conflict:    ErrCatalogUnavailable,
			unavailable: ErrCatalogUnavailable,
		},
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	pid := strings.TrimSpace(productID)
	if pid == "" {
		return Product{}, ErrCatalogInvalidInput
	}
	product, err := s.products.GetProduct(ctx, pid)
	if err != nil {
		return Product{}, s.errs.translate(err)
	}
	return product, nil
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/naturalily/shop-api/internal/payments"
	"github.com/naturalily/shop-api/internal/platform/httpx"
	"github.com/naturalily/shop-api/internal/services"
)

// PublicHandlers serves unauthenticated catalog lookups.
type PublicHandlers struct {
	catalog services.CatalogService
	limiter *windowLimiter
}

// PublicOption customises PublicHandlers.
type PublicOption func(*PublicHandlers)

// WithPublicRateLimit caps lookups per client address within window.
func WithPublicRateLimit(limit int, window time.Duration, clock func() time.Time) PublicOption {
	return func(h *PublicHandlers) {
		h.limiter = newWindowLimiter(limit, window, clock)
	}
}

func NewPublicHandlers(catalog services.CatalogService, opts ...PublicOption) *PublicHandlers {
	h := &PublicHandlers{catalog: catalog}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.limiter != nil {
		r.Use(h.limiter.middleware)
	}
	r.Get("/products/{productPk}", h.getProduct)
}

type productPayload struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Price          int64  `json:"price"`
	PriceFormatted string `json:"price_formatted"`
	Currency       string `json:"currency"`
	InStock        bool   `json:"in_stock"`
	Stock          int    `json:"stock"`
}

func (h *PublicHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}

	product, err := h.catalog.GetProduct(ctx, strings.TrimSpace(chi.URLParam(r, "productPk")))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSONResponse(w, http.StatusOK, map[string]any{"product": productPayload{
		ID:             product.ID,
		Name:           product.Name,
		Price:          product.Price,
		PriceFormatted: payments.FormatAmount(product.Price, product.Currency),
		Currency:       product.Currency,
		InStock:        product.InStock(1),
		Stock:          product.Stock,
	}})
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
	}
}

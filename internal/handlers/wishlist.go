package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/naturalily/shop-api/internal/payments"
	"github.com/naturalily/shop-api/internal/platform/auth"
	"github.com/naturalily/shop-api/internal/platform/httpx"
	"github.com/naturalily/shop-api/internal/services"
)

// WishlistHandlers exposes the saved-for-later list of the current user.
type WishlistHandlers struct {
	authn     *auth.Authenticator
	wishlists services.WishlistService
}

func NewWishlistHandlers(authn *auth.Authenticator, wishlists services.WishlistService) *WishlistHandlers {
	return &WishlistHandlers{authn: authn, wishlists: wishlists}
}

// Routes wires the /wishlist endpoints onto the provided router.
func (h *WishlistHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listItems)
	r.Put("/items/{productPk}", h.addItem)
	r.Delete("/items/{productPk}", h.removeItem)
}

type wishlistItemPayload struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Price          int64  `json:"price"`
	PriceFormatted string `json:"price_formatted"`
	Currency       string `json:"currency"`
	InStock        bool   `json:"in_stock"`
	AddedAt        string `json:"added_at"`
}

type wishlistMutationResponse struct {
	Result        string `json:"result"`
	Message       string `json:"message"`
	ProductID     string `json:"product_id"`
	WishlistCount int    `json:"wishlist_count"`
}

func (h *WishlistHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service is unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	view, err := h.wishlists.ListItems(ctx, userID)
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	items := make([]wishlistItemPayload, 0, len(view.Items))
	for _, item := range view.Items {
		items = append(items, wishlistItemPayload{
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			Price:          item.Price,
			PriceFormatted: payments.FormatAmount(item.Price, item.Currency),
			Currency:       item.Currency,
			InStock:        item.InStock,
			AddedAt:        formatTime(item.AddedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"items":          items,
		"wishlist_count": view.Count,
	})
}

func (h *WishlistHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service is unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	mutation, err := h.wishlists.AddItem(ctx, userID, strings.TrimSpace(chi.URLParam(r, "productPk")))
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	status, message := http.StatusCreated, "Product added to wishlist successfully"
	if !mutation.Created {
		status, message = http.StatusOK, "Product already in wishlist"
	}
	writeJSONResponse(w, status, wishlistMutationResponse{
		Result:        string(mutation.Result),
		Message:       message,
		ProductID:     mutation.ProductID,
		WishlistCount: mutation.WishlistCount,
	})
}

func (h *WishlistHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service is unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	mutation, err := h.wishlists.RemoveItem(ctx, userID, strings.TrimSpace(chi.URLParam(r, "productPk")))
	if err != nil {
		writeWishlistError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, wishlistMutationResponse{
		Result:        string(mutation.Result),
		Message:       "Product removed from wishlist",
		ProductID:     mutation.ProductID,
		WishlistCount: mutation.WishlistCount,
	})
}

func writeWishlistError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrWishlistInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWishlistProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrWishlistConflict):
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_conflict", "wishlist has been modified; retry", http.StatusConflict))
	case errors.Is(err, services.ErrWishlistUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_service_unavailable", "wishlist service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("wishlist_error", "failed to process wishlist request", http.StatusInternalServerError))
	}
}

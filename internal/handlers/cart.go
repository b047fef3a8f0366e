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

const (
	cartMessageAdded       = "Product added to cart successfully"
	cartMessageIncremented = "Product quantity increased successfully"
	cartMessageDecremented = "Product quantity decreased successfully"
	cartMessageRemoved     = "Product removed from cart"
	cartMessageOutOfStock  = "Product out of stock"
	cartMessageNoMoreStock = "No more stock available"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Post("/items/{productPk}", h.mutation(http.StatusCreated, "added", cartMessageAdded, cartMessageOutOfStock, services.CartService.AddItem))
	r.Post("/items/{productPk}/increment", h.mutation(http.StatusOK, "incremented", cartMessageIncremented, cartMessageNoMoreStock, services.CartService.IncrementItem))
	r.Post("/items/{productPk}/decrement", h.mutation(http.StatusOK, "decremented", cartMessageDecremented, cartMessageNoMoreStock, services.CartService.DecrementItem))
	r.Delete("/items/{productPk}", h.mutation(http.StatusOK, "removed", cartMessageRemoved, cartMessageNoMoreStock, services.CartService.RemoveItem))
}

type cartLinePayload struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"line_total"`
}

type cartPayload struct {
	ID             string            `json:"id,omitempty"`
	Lines          []cartLinePayload `json:"lines"`
	Count          int               `json:"count"`
	Total          int64             `json:"total"`
	TotalFormatted string            `json:"total_formatted"`
	Currency       string            `json:"currency"`
	UpdatedAt      string            `json:"updated_at,omitempty"`
}

type cartMutationResponse struct {
	Result    string `json:"result"`
	Message   string `json:"message"`
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity,omitempty"`
	CartCount int    `json:"cart_count"`
	CartTotal int64  `json:"cart_total"`
	Currency  string `json:"currency,omitempty"`
}

func buildCartPayload(view services.CartView) cartPayload {
	payload := cartPayload{
		ID:             view.ID,
		Lines:          make([]cartLinePayload, 0, len(view.Lines)),
		Count:          view.Count,
		Total:          view.Total,
		TotalFormatted: payments.FormatAmount(view.Total, view.Currency),
		Currency:       view.Currency,
		UpdatedAt:      formatTime(view.UpdatedAt),
	}
	for _, line := range view.Lines {
		payload.Lines = append(payload.Lines, cartLinePayload(line))
	}
	return payload
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	view, err := h.carts.GetCart(ctx, userID)
	if err != nil {
		writeCartError(ctx, w, err, cartMessageOutOfStock)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildCartPayload(view)})
}

type cartOperation func(svc services.CartService, ctx context.Context, userID, productID string) (services.CartMutation, error)

func (h *CartHandlers) mutation(status int, result, message, outOfStockMessage string, op cartOperation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.carts == nil {
			httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
			return
		}
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}
		productID := strings.TrimSpace(chi.URLParam(r, "productPk"))
		if productID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
			return
		}

		mutation, err := op(h.carts, ctx, userID, productID)
		if err != nil {
			writeCartError(ctx, w, err, outOfStockMessage)
			return
		}
		resp := cartMutationResponse{
			Result:    result,
			Message:   message,
			ProductID: mutation.ProductID,
			CartCount: mutation.CartCount,
			CartTotal: mutation.CartTotal,
			Currency:  mutation.Currency,
		}
		if result != "removed" {
			quantity := mutation.Quantity
			resp.Quantity = &quantity
		}
		writeJSONResponse(w, status, resp)
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error, outOfStockMessage string) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "product is not in the cart", http.StatusNotFound))
	case errors.Is(err, services.ErrCartOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", outOfStockMessage, http.StatusConflict))
	case errors.Is(err, services.ErrCartCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("currency_mismatch", "product is not sold in the shop currency", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

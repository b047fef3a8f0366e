package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/naturalily/shop-api/internal/platform/auth"
	"github.com/naturalily/shop-api/internal/platform/httpx"
	"github.com/naturalily/shop-api/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

// CheckoutHandlers exposes checkout related endpoints for authenticated users.
type CheckoutHandlers struct {
	authn       *auth.Authenticator
	checkout    services.CheckoutService
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	ordersPath  string
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutIdempotency wraps the POST endpoints with the given replay middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.idempotency = mw
	}
}

// WithCheckoutOrdersPath sets the prefix used for the Location header of confirmed orders.
func WithCheckoutOrdersPath(path string) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if path = strings.TrimSpace(path); path != "" {
			h.ordersPath = strings.TrimRight(path, "/")
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers guarded by Firebase authentication.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService, orders services.OrderService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		authn:      authn,
		checkout:   checkout,
		orders:     orders,
		ordersPath: defaultAPIPrefix + "/orders",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.summary)

	writes := r
	if h.idempotency != nil {
		writes = r.With(h.idempotency)
	}
	writes.Post("/confirm", h.confirm)
	writes.Post("/session", h.createSession)
}

type checkoutRecipientRequest struct {
	FirstName     string `json:"firstname"`
	LastName      string `json:"lastname"`
	Address       string `json:"address"`
	// Addresse matches the checkout metadata key so storefronts may send either spelling.
	Addresse      string `json:"addresse"`
	Phone         string `json:"phone"`
	PaymentMethod string `json:"payment_method"`
}

func (req checkoutRecipientRequest) recipient() services.Recipient {
	address := req.Address
	if strings.TrimSpace(address) == "" {
		address = req.Addresse
	}
	return services.Recipient{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Address:   address,
		Phone:     req.Phone,
	}
}

type checkoutSessionRequest struct {
	checkoutRecipientRequest
	Metadata map[string]string `json:"metadata"`
}

type checkoutSessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (h *CheckoutHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	summary, err := h.checkout.Summary(ctx, userID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"cart":            buildCartPayload(summary.Cart),
		"publishable_key": summary.PublishableKey,
	})
}

// confirm places the order directly, for payment methods settled outside the PSP.
func (h *CheckoutHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req checkoutRecipientRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	order, err := h.orders.ConfirmDirect(ctx, services.ConfirmOrderCommand{
		UserID:        userID,
		Recipient:     req.recipient(),
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", h.ordersPath+"/"+url.PathEscape(order.ID))
	writeJSONResponse(w, http.StatusCreated, map[string]any{"order": buildOrderPayload(order)})
}

func (h *CheckoutHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	var req checkoutSessionRequest
	if !decodeJSONBody(w, r, maxCheckoutRequestBody, &req) {
		return
	}

	session, err := h.checkout.CreateSession(ctx, services.CreateSessionCommand{
		UserID:         identity.UID,
		Email:          identity.Email,
		Recipient:      req.recipient(),
		PaymentMethod:  req.PaymentMethod,
		Metadata:       req.Metadata,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	resp := checkoutSessionResponse{ID: session.ID, URL: session.URL}
	if !session.ExpiresAt.IsZero() {
		resp.ExpiresAt = session.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutCartEmpty):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "No products in cart", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutOutOfStock):
		httpx.WriteError(ctx, w, httpx.NewError("out_of_stock", "Product out of stock", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", "a product in the cart is no longer available", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCurrencyMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("currency_mismatch", "a product in the cart is not sold in the shop currency", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		message := strings.TrimPrefix(err.Error(), services.ErrCheckoutPaymentFailed.Error()+": ")
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", message, http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}

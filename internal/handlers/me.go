package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/naturalily/shop-api/internal/platform/auth"
	"github.com/naturalily/shop-api/internal/platform/httpx"
	"github.com/naturalily/shop-api/internal/services"
)

// MeHandlers serves summary data about the current user, such as header badge counts.
type MeHandlers struct {
	authn     *auth.Authenticator
	carts     services.CartService
	wishlists services.WishlistService
}

func NewMeHandlers(authn *auth.Authenticator, carts services.CartService, wishlists services.WishlistService) *MeHandlers {
	return &MeHandlers{authn: authn, carts: carts, wishlists: wishlists}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/counts", h.getCounts)
}

type countsResponse struct {
	CartCount     int    `json:"cart_count"`
	CartTotal     int64  `json:"cart_total"`
	Currency      string `json:"currency,omitempty"`
	WishlistCount int    `json:"wishlist_count"`
}

func (h *MeHandlers) getCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil || h.wishlists == nil {
		httpx.WriteError(ctx, w, httpx.NewError("counts_unavailable", "count services are unavailable", http.StatusServiceUnavailable))
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var resp countsResponse
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view, err := h.carts.GetCart(gctx, userID)
		if err != nil {
			return err
		}
		resp.CartCount, resp.CartTotal, resp.Currency = view.Count, view.Total, view.Currency
		return nil
	})
	g.Go(func() error {
		count, err := h.wishlists.Count(gctx, userID)
		if err != nil {
			return err
		}
		resp.WishlistCount = count
		return nil
	})
	if err := g.Wait(); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("counts_unavailable", "unable to load counts", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

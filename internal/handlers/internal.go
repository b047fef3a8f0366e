package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/naturalily/shop-api/internal/platform/httpx"
)

const (
	defaultCleanupBatch = 500
	maxCleanupBatch     = 5000
)

// IdempotencyCleaner purges expired replay records.
type IdempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalHandlers serves maintenance endpoints invoked by Cloud Scheduler. The router guards
// the group with OIDC verification.
type InternalHandlers struct {
	idempotency IdempotencyCleaner
	now         func() time.Time
}

func NewInternalHandlers(idempotency IdempotencyCleaner, clock func() time.Time) *InternalHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &InternalHandlers{idempotency: idempotency, now: clock}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.idempotency == nil {
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "idempotency store is not configured", http.StatusServiceUnavailable))
		return
	}

	limit := defaultCleanupBatch
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxCleanupBatch)
	}

	removed, err := h.idempotency.CleanupExpired(ctx, h.now().UTC(), limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("cleanup_failed", "idempotency cleanup failed", http.StatusServiceUnavailable))
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"removed": removed})
}

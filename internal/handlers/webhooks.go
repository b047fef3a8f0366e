package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/naturalily/shop-api/internal/platform/httpx"
	"github.com/naturalily/shop-api/internal/platform/requestctx"
	"github.com/naturalily/shop-api/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"
	webhookMeterName      = "github.com/naturalily/shop-api/internal/handlers"
)

// WebhookHandlers receives payment provider notifications. Requests are authenticated by the
// provider signature, never by user tokens.
type WebhookHandlers struct {
	checkout services.CheckoutService
	events   metric.Int64Counter
	latency  metric.Float64Histogram
	now      func() time.Time
}

// WebhookOption customises WebhookHandlers.
type WebhookOption func(*webhookConfig)

type webhookConfig struct {
	meter metric.Meter
	clock func() time.Time
}

// WithWebhookMeter records webhook metrics on m instead of the global meter provider.
func WithWebhookMeter(m metric.Meter) WebhookOption {
	return func(cfg *webhookConfig) { cfg.meter = m }
}

// WithWebhookClock overrides the clock used to measure processing time.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(cfg *webhookConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

func NewWebhookHandlers(checkout services.CheckoutService, opts ...WebhookOption) (*WebhookHandlers, error) {
	cfg := webhookConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(webhookMeterName)
	}

	h := &WebhookHandlers{checkout: checkout, now: cfg.clock}
	var err error
	if h.events, err = cfg.meter.Int64Counter("shop.webhook.events",
		metric.WithDescription("Payment webhooks received, by event type and outcome")); err != nil {
		return nil, err
	}
	if h.latency, err = cfg.meter.Float64Histogram("shop.webhook.duration",
		metric.WithUnit("ms"), metric.WithDescription("Payment webhook processing time")); err != nil {
		return nil, err
	}
	return h, nil
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	start := h.now()

	payload, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		h.record(ctx, start, "", "invalid_payload")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "Invalid payload", http.StatusBadRequest))
		return
	}

	result, err := h.checkout.HandleWebhook(ctx, payload, r.Header.Get(stripeSignatureHeader))
	logger := requestctx.Logger(ctx).With(zap.String("eventID", result.EventID), zap.String("eventType", result.Type))
	switch {
	case err == nil:
	case errors.Is(err, services.ErrWebhookInvalidSignature):
		logger.Warn("stripe webhook rejected", zap.Error(err))
		h.record(ctx, start, result.Type, "invalid_signature")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "Invalid signature", http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrWebhookInvalidPayload):
		logger.Warn("stripe webhook rejected", zap.Error(err))
		h.record(ctx, start, result.Type, "invalid_payload")
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "Invalid payload", http.StatusBadRequest))
		return
	default:
		logger.Error("stripe webhook processing failed", zap.Error(err))
		h.record(ctx, start, result.Type, "retry")
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook could not be processed; retry later", http.StatusServiceUnavailable))
		return
	}

	outcome := "ignored"
	switch {
	case result.Duplicate:
		outcome = "duplicate"
	case result.Handled:
		outcome = "order_created"
	}
	logger.Info("stripe webhook processed", zap.String("outcome", outcome), zap.String("orderID", result.OrderID))
	h.record(ctx, start, result.Type, outcome)
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"received": true,
		"message":  "Webhook received",
	})
}

func (h *WebhookHandlers) record(ctx context.Context, start time.Time, eventType, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("type", eventType),
		attribute.String("outcome", outcome),
	)
	h.events.Add(ctx, 1, attrs)
	h.latency.Record(ctx, float64(h.now().Sub(start))/float64(time.Millisecond), attrs)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/payments"
	"github.com/naturalily/shop-api/internal/platform/textutil"
	"github.com/naturalily/shop-api/internal/repositories"
)

const defaultCheckoutLookupConcurrency = 4

// Stripe rejects session metadata beyond these bounds.
const (
	maxMetadataKeys        = 50
	maxMetadataKeyLength   = 40
	maxMetadataValueLength = 500
)

// Metadata keys stored on the checkout session and read back from the completion webhook.
const (
	MetadataUserID        = "user_id"
	MetadataFirstName     = "firstname"
	MetadataLastName      = "lastname"
	MetadataAddress       = "addresse"
	MetadataPhone         = "phone"
	MetadataPaymentMethod = "payment_method"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")
	// ErrCheckoutCartEmpty indicates there is nothing in the cart to pay for.
	ErrCheckoutCartEmpty = errors.New("checkout service: cart empty")
	// ErrCheckoutOutOfStock indicates a cart line exceeds the product's current stock.
	ErrCheckoutOutOfStock = errors.New("checkout service: out of stock")
	// ErrCheckoutProductUnavailable indicates a cart line references a product no longer in the catalog.
	ErrCheckoutProductUnavailable = errors.New("checkout service: product unavailable")
	// ErrCheckoutCurrencyMismatch indicates a cart line is priced in a currency other than the shop's.
	ErrCheckoutCurrencyMismatch = errors.New("checkout service: currency mismatch")
	// ErrCheckoutPaymentFailed indicates the PSP rejected the session request.
	ErrCheckoutPaymentFailed = errors.New("checkout service: payment failed")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout service: unavailable")
	// ErrWebhookInvalidSignature indicates the webhook signature could not be verified.
	ErrWebhookInvalidSignature = errors.New("checkout service: invalid webhook signature")
	// ErrWebhookInvalidPayload indicates the webhook body could not be decoded.
	ErrWebhookInvalidPayload = errors.New("checkout service: invalid webhook payload")
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Cart     CartService
	Carts    repositories.CartRepository
	Products repositories.ProductRepository
	Orders   OrderService
	Provider payments.Provider
	Currency string
	// SuccessURL and CancelURL are where the hosted payment page sends the customer back.
	SuccessURL        string
	CancelURL         string
	LookupConcurrency int
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	cart        CartService
	carts       repositories.CartRepository
	products    repositories.ProductRepository
	orders      OrderService
	provider    payments.Provider
	currency    string
	successURL  string
	cancelURL   string
	concurrency int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	errs        repoErrorMapping
}

var _ CheckoutService = (*checkoutService)(nil)

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Cart == nil || deps.Carts == nil || deps.Products == nil {
		return nil, errors.New("checkout service: cart service and repositories are required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order service is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("checkout service: payment provider is required")
	}
	successURL := strings.TrimSpace(deps.SuccessURL)
	cancelURL := strings.TrimSpace(deps.CancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, errors.New("checkout service: success and cancel urls are required")
	}
	code := deps.Currency
	if strings.TrimSpace(code) == "" {
		code = "EGP"
	}
	currency, err := payments.NormalizeCurrency(code)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	concurrency := deps.LookupConcurrency
	if concurrency <= 0 {
		concurrency = defaultCheckoutLookupConcurrency
	}

	return &checkoutService{
		cart:        deps.Cart,
		carts:       deps.Carts,
		products:    deps.Products,
		orders:      deps.Orders,
		provider:    deps.Provider,
		currency:    currency,
		successURL:  successURL,
		cancelURL:   cancelURL,
		concurrency: concurrency,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		errs: repoErrorMapping{
			notFound:    ErrCheckoutProductUnavailable,
			conflict:    ErrCheckoutUnavailable,
			unavailable: ErrCheckoutUnavailable,
		},
	}, nil
}

// Summary returns the priced cart together with the key the browser needs to open the payment page.
func (s *checkoutService) Summary(ctx context.Context, userID string) (CheckoutSummary, error) {
	view, err := s.cart.GetCart(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCartInvalidInput) {
			return CheckoutSummary{}, ErrCheckoutInvalidInput
		}
		return CheckoutSummary{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	return CheckoutSummary{Cart: view, PublishableKey: s.provider.PublishableKey()}, nil
}

// CreateSession prices the cart from the catalog and opens a hosted payment page for it. The
// recipient travels in the session metadata and comes back on the completion webhook.
func (s *checkoutService) CreateSession(ctx context.Context, cmd CreateSessionCommand) (CheckoutSession, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CheckoutSession{}, ErrCheckoutInvalidInput
	}
	recipient := sanitizeRecipient(cmd.Recipient)
	paymentMethod := textutil.PlainText(cmd.PaymentMethod, maxPaymentMethodLength)

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if isRepoNotFound(err) {
			return CheckoutSession{}, ErrCheckoutCartEmpty
		}
		return CheckoutSession{}, s.errs.translate(err)
	}
	if len(cart.Lines) == 0 {
		return CheckoutSession{}, ErrCheckoutCartEmpty
	}

	items, err := s.lineItems(ctx, cart)
	if err != nil {
		return CheckoutSession{}, err
	}

	metadata := textutil.NormalizeStringMap(cmd.Metadata)
	if metadata == nil {
		metadata = make(map[string]string, 6)
	}
	maps.Copy(metadata, textutil.NormalizeStringMap(map[string]string{
		MetadataUserID:        userID,
		MetadataFirstName:     recipient.FirstName,
		MetadataLastName:      recipient.LastName,
		MetadataAddress:       recipient.Address,
		MetadataPhone:         recipient.Phone,
		MetadataPaymentMethod: paymentMethod,
	}))
	if err := checkMetadataLimits(metadata); err != nil {
		return CheckoutSession{}, err
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payments.CheckoutSessionRequest{
		Currency:       s.currency,
		CustomerEmail:  strings.TrimSpace(cmd.Email),
		SuccessURL:     s.successURL,
		CancelURL:      s.cancelURL,
		Metadata:       metadata,
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Items:          items,
	})
	if err != nil {
		s.logger(ctx, "checkout.session.failed", map[string]any{
			"userID": userID,
			"error":  err.Error(),
		})
		var providerErr *payments.ProviderError
		if errors.As(err, &providerErr) {
			return CheckoutSession{}, fmt.Errorf("%w: %s", ErrCheckoutPaymentFailed, providerErr.Message)
		}
		return CheckoutSession{}, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	s.logger(ctx, "checkout.session.created", map[string]any{
		"userID":    userID,
		"cartID":    cart.ID,
		"sessionID": session.ID,
		"lines":     len(items),
	})
	return CheckoutSession{ID: session.ID, URL: session.RedirectURL, ExpiresAt: session.ExpiresAt}, nil
}

func checkMetadataLimits(metadata map[string]string) error {
	if len(metadata) > maxMetadataKeys {
		return fmt.Errorf("%w: metadata has %d keys, at most %d allowed", ErrCheckoutInvalidInput, len(metadata), maxMetadataKeys)
	}
	for key, value := range metadata {
		if utf8.RuneCountInString(key) > maxMetadataKeyLength {
			return fmt.Errorf("%w: metadata key %q exceeds %d characters", ErrCheckoutInvalidInput, key, maxMetadataKeyLength)
		}
		if utf8.RuneCountInString(value) > maxMetadataValueLength {
			return fmt.Errorf("%w: metadata value for %q exceeds %d characters", ErrCheckoutInvalidInput, key, maxMetadataValueLength)
		}
	}
	return nil
}

// lineItems resolves every cart line against the catalog concurrently, keeping cart order.
func (s *checkoutService) lineItems(ctx context.Context, cart domain.Cart) ([]payments.CheckoutLineItem, error) {
	items := make([]payments.CheckoutLineItem, len(cart.Lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, line := range cart.Lines {
		g.Go(func() error {
			product, err := s.products.GetProduct(gctx, line.ProductID)
			if err != nil {
				if isRepoNotFound(err) {
					return fmt.Errorf("%w: %s", ErrCheckoutProductUnavailable, line.ProductID)
				}
				return s.errs.translate(err)
			}
			if !product.PricedIn(s.currency) {
				return fmt.Errorf("%w: %s is priced in %s", ErrCheckoutCurrencyMismatch, line.ProductID, product.Currency)
			}
			if !product.InStock(line.Quantity) {
				return fmt.Errorf("%w: %s", ErrCheckoutOutOfStock, line.ProductID)
			}
			items[i] = payments.CheckoutLineItem{
				Name:      product.Name,
				ProductID: product.ID,
				Quantity:  int64(line.Quantity),
				Amount:    product.Price,
				Currency:  s.currency,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// HandleWebhook verifies a PSP notification and converts the paid cart into an order. Errors
// are returned only for bad requests and for failures worth a provider retry; every other
// outcome is acknowledged so the provider stops redelivering.
func (s *checkoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) (WebhookResult, error) {
	event, err := s.provider.ParseWebhook(payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrInvalidSignature):
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrWebhookInvalidSignature, err)
		default:
			return WebhookResult{}, fmt.Errorf("%w: %v", ErrWebhookInvalidPayload, err)
		}
	}

	result := WebhookResult{EventID: event.ID, Type: event.Type}
	if event.Type != payments.EventCheckoutSessionCompleted || event.CompletedSession == nil {
		s.logger(ctx, "checkout.webhook.ignored", map[string]any{"eventID": event.ID, "type": event.Type})
		return result, nil
	}

	session := event.CompletedSession
	if session.PaymentStatus == "unpaid" {
		s.logger(ctx, "checkout.webhook.unpaid", map[string]any{"eventID": event.ID, "sessionID": session.ID})
		return result, nil
	}
	userID := strings.TrimSpace(session.Metadata[MetadataUserID])
	if userID == "" {
		s.logger(ctx, "checkout.webhook.unattributed", map[string]any{"eventID": event.ID, "sessionID": session.ID})
		return result, nil
	}

	finalized, err := s.orders.FinalizeFromPayment(ctx, PaymentCompletion{
		EventID:   event.ID,
		SessionID: session.ID,
		UserID:    userID,
		Recipient: Recipient{
			FirstName: session.Metadata[MetadataFirstName],
			LastName:  session.Metadata[MetadataLastName],
			Address:   session.Metadata[MetadataAddress],
			Phone:     session.Metadata[MetadataPhone],
		},
		PaymentMethod: session.Metadata[MetadataPaymentMethod],
		AmountTotal:   session.AmountTotal,
		Currency:      session.Currency,
	})
	if err != nil {
		fields := map[string]any{
			"eventID":   event.ID,
			"sessionID": session.ID,
			"userID":    userID,
			"error":     err.Error(),
		}
		if matchSentinel(err, ErrOrderUnavailable, ErrOrderConflict) != nil {
			s.logger(ctx, "checkout.webhook.retry", fields)
			return result, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
		}
		// Nothing a redelivery could fix: empty cart, vanished product or exhausted stock.
		s.logger(ctx, "checkout.webhook.unfulfilled", fields)
		return result, nil
	}

	result.Handled = true
	result.Duplicate = finalized.Duplicate
	result.OrderID = finalized.Order.ID
	s.logger(ctx, "checkout.webhook.processed", map[string]any{
		"eventID":   event.ID,
		"orderID":   finalized.Order.ID,
		"duplicate": finalized.Duplicate,
	})
	return result, nil
}

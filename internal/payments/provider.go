package payments

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidSignature indicates a webhook whose signature header is missing, stale or wrong.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrInvalidPayload indicates a webhook body that could not be decoded.
	ErrInvalidPayload = errors.New("payments: invalid webhook payload")
)

// ProviderError carries a rejection reported by the PSP, such as an invalid request.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payments: provider rejected request (%s): %s", e.Code, e.Message)
	}
	return "payments: provider rejected request: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CheckoutLineItem describes a single line item to include in a checkout session.
type CheckoutLineItem struct {
	Name      string
	ProductID string
	Quantity  int64
	Amount    int64
	Currency  string
}

// CheckoutSessionRequest captures the payload required to create a checkout session.
type CheckoutSessionRequest struct {
	Currency       string
	CustomerEmail  string
	SuccessURL     string
	CancelURL      string
	Metadata       map[string]string
	IdempotencyKey string
	Items          []CheckoutLineItem
}

// CheckoutSession represents the hosted payment page returned to the client.
type CheckoutSession struct {
	ID          string
	Provider    string
	RedirectURL string
	ExpiresAt   time.Time
}

// Webhook event types handled by the checkout flow.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
)

// WebhookEvent is a verified PSP notification.
type WebhookEvent struct {
	ID      string
	Type    string
	Created time.Time
	// CompletedSession is set for checkout.session.completed events.
	CompletedSession *CompletedSession
}

// CompletedSession holds the fields of a paid checkout session needed to create the order.
type CompletedSession struct {
	ID            string
	AmountTotal   int64
	Currency      string
	PaymentStatus string
	CustomerEmail string
	Metadata      map[string]string
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
	PublishableKey() string
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/platform/pagination"
	"github.com/naturalily/shop-api/internal/platform/textutil"
	"github.com/naturalily/shop-api/internal/repositories"
)

const (
	defaultOrderHistoryPageSize = 20
	maxRecipientFieldLength     = 255
	maxPaymentMethodLength      = 64
	maxAddressLength            = maxMetadataValueLength
)

var (
	// ErrOrderInvalidInput indicates the caller supplied invalid input.
	ErrOrderInvalidInput = errors.New("order service: invalid input")
	// ErrOrderNotFound indicates the order does not exist or belongs to another user.
	ErrOrderNotFound = errors.New("order service: not found")
	// ErrOrderCartEmpty indicates there is no cart, or no lines, to convert.
	ErrOrderCartEmpty = errors.New("order service: cart empty")
	// ErrOrderOutOfStock indicates stock could not cover a line while decrementing.
	ErrOrderOutOfStock = errors.New("order service: out of stock")
	// ErrOrderProductUnavailable indicates a cart line references a product no longer in the catalog.
	ErrOrderProductUnavailable = errors.New("order service: product unavailable")
	// ErrOrderConflict indicates a concurrent modification prevented the conversion.
	ErrOrderConflict = errors.New("order service: conflict")
	// ErrOrderUnavailable indicates the order backend could not be reached.
	ErrOrderUnavailable = errors.New("order service: unavailable")
)

// OrderServiceDeps wires the repositories and collaborators used by order flows.
type OrderServiceDeps struct {
	Orders          repositories.OrderRepository
	Publisher       OrderEventPublisher
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
	Currency        string
	DecrementStock  bool
	HistoryPageSize int
	IDGenerator     func() string
	ReferenceGen    func(time.Time) string
}

type orderService struct {
	orders         repositories.OrderRepository
	publisher      OrderEventPublisher
	now            func() time.Time
	logger         func(context.Context, string, map[string]any)
	currency       string
	decrementStock bool
	pageSize       int
	newID          func() string
	newReference   func(time.Time) string
	errs           repoErrorMapping
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs an OrderService. Publisher may be nil, in which case no events are sent.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "EGP"
	}
	pageSize := deps.HistoryPageSize
	if pageSize <= 0 {
		pageSize = defaultOrderHistoryPageSize
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	refGen := deps.ReferenceGen
	if refGen == nil {
		refGen = NewOrderReference
	}
	return &orderService{
		orders:         deps.Orders,
		publisher:      deps.Publisher,
		now:            func() time.Time { return clock().UTC() },
		logger:         logger,
		currency:       currency,
		decrementStock: deps.DecrementStock,
		pageSize:       pageSize,
		newID:          idGen,
		newReference:   refGen,
		errs: repoErrorMapping{
			notFound:    ErrOrderProductUnavailable,
			conflict:    ErrOrderConflict,
			unavailable: ErrOrderUnavailable,
		},
	}, nil
}

// NewOrderReference returns the customer-facing reference ORD-<yyyymmddhhmmss>-<8 hex>.
func NewOrderReference(now time.Time) string {
	return "ORD-" + now.UTC().Format("20060102150405") + "-" + uuid.NewString()[:8]
}

// ConfirmDirect converts the cart into an order paid outside the payment provider. Recipient
// fields and the payment method are required.
func (s *orderService) ConfirmDirect(ctx context.Context, cmd ConfirmOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, ErrOrderInvalidInput
	}
	recipient := sanitizeRecipient(cmd.Recipient)
	paymentMethod := textutil.PlainText(cmd.PaymentMethod, maxPaymentMethodLength)
	if field := missingRecipientField(recipient, paymentMethod); field != "" {
		return Order{}, fmt.Errorf("%w: %s is required", ErrOrderInvalidInput, field)
	}

	now := s.now()
	result, err := s.finalize(ctx, repositories.FinalizeCartRequest{
		UserID: userID,
		Order: domain.Order{
			ID:            s.newID(),
			Reference:     s.newReference(now),
			Recipient:     recipient,
			PaymentMethod: paymentMethod,
			Source:        domain.OrderSourceDirect,
			Currency:      s.currency,
			OrderedAt:     now,
		},
		DecrementStock: s.decrementStock,
	})
	if err != nil {
		return Order{}, err
	}
	return result.Order, nil
}

// FinalizeFromPayment converts the cart for a completed payment. The provider-reported amount
// becomes the order total, and replays of the same event return the earlier order.
func (s *orderService) FinalizeFromPayment(ctx context.Context, cmd PaymentCompletion) (FinalizeResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	eventID := strings.TrimSpace(cmd.EventID)
	if userID == "" || eventID == "" {
		return FinalizeResult{}, ErrOrderInvalidInput
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	amount := cmd.AmountTotal

	now := s.now()
	result, err := s.finalize(ctx, repositories.FinalizeCartRequest{
		UserID: userID,
		Order: domain.Order{
			ID:                s.newID(),
			Reference:         s.newReference(now),
			Recipient:         sanitizeRecipient(cmd.Recipient),
			PaymentMethod:     textutil.PlainText(cmd.PaymentMethod, maxPaymentMethodLength),
			Source:            domain.OrderSourceStripe,
			Currency:          currency,
			PaymentEventID:    eventID,
			CheckoutSessionID: strings.TrimSpace(cmd.SessionID),
			OrderedAt:         now,
		},
		TotalOverride:  &amount,
		DecrementStock: s.decrementStock,
	})
	if err != nil {
		return FinalizeResult{}, err
	}
	return FinalizeResult(result), nil
}

func (s *orderService) finalize(ctx context.Context, req repositories.FinalizeCartRequest) (repositories.FinalizeCartResult, error) {
	result, err := s.orders.FinalizeCart(ctx, req)
	if err != nil {
		translated := s.translateFinalizeError(err)
		s.logger(ctx, "orders.finalize.failed", map[string]any{
			"userID":  req.UserID,
			"eventID": req.Order.PaymentEventID,
			"source":  string(req.Order.Source),
			"error":   err.Error(),
		})
		return repositories.FinalizeCartResult{}, translated
	}
	if result.Duplicate {
		s.logger(ctx, "orders.finalize.skipped", map[string]any{
			"userID":  req.UserID,
			"eventID": req.Order.PaymentEventID,
			"orderID": result.Order.ID,
		})
		return result, nil
	}
	s.logger(ctx, "orders.finalize.created", map[string]any{
		"userID":    result.Order.UserID,
		"orderID":   result.Order.ID,
		"reference": result.Order.Reference,
		"source":    string(result.Order.Source),
		"total":     result.Order.Total,
		"lines":     len(result.Order.Lines),
	})
	s.publishCreated(ctx, result.Order)
	return result, nil
}

func (s *orderService) translateFinalizeError(err error) error {
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		switch {
		case storeErr.IsCartEmpty():
			return ErrOrderCartEmpty
		case storeErr.IsOutOfStock():
			return fmt.Errorf("%w: %v", ErrOrderOutOfStock, err)
		case storeErr.IsCurrencyMismatch():
			return fmt.Errorf("%w: %v", ErrOrderProductUnavailable, err)
		}
	}
	return s.errs.translate(err)
}

// publishCreated announces the order. Delivery failures are logged and do not fail the request.
func (s *orderService) publishCreated(ctx context.Context, order Order) {
	if s.publisher == nil {
		return
	}
	event := OrderEvent{
		Type:       OrderEventCreated,
		OrderID:    order.ID,
		Reference:  order.Reference,
		UserID:     order.UserID,
		Source:     string(order.Source),
		Total:      order.Total,
		Currency:   order.Currency,
		ItemCount:  order.ItemCount(),
		OccurredAt: order.OrderedAt,
	}
	messageID, err := s.publisher.PublishOrderEvent(context.WithoutCancel(ctx), event)
	if err != nil {
		s.logger(ctx, "orders.event.failed", map[string]any{"orderID": order.ID, "error": err.Error()})
		return
	}
	s.logger(ctx, "orders.event.published", map[string]any{"orderID": order.ID, "messageID": messageID})
}

// ListOrders returns the user's orders newest first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, ErrOrderInvalidInput
	}
	pager := filter.Pagination
	if pager.PageSize <= 0 {
		pager.PageSize = s.pageSize
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidPageToken) {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		return domain.CursorPage[Order]{}, s.errs.translate(err)
	}
	return page, nil
}

// GetOrder returns the order when it belongs to userID.
func (s *orderService) GetOrder(ctx context.Context, userID, orderID string) (Order, error) {
	uid := strings.TrimSpace(userID)
	oid := strings.TrimSpace(orderID)
	if uid == "" || oid == "" {
		return Order{}, ErrOrderInvalidInput
	}
	order, err := s.orders.FindByID(ctx, oid)
	if err != nil {
		if isRepoNotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, s.errs.translate(err)
	}
	if order.UserID != uid {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func sanitizeRecipient(r Recipient) Recipient {
	return Recipient{
		FirstName: textutil.PlainText(r.FirstName, maxRecipientFieldLength),
		LastName:  textutil.PlainText(r.LastName, maxRecipientFieldLength),
		Address:   textutil.PlainText(r.Address, maxAddressLength),
		Phone:     textutil.PlainText(r.Phone, 32),
	}
}

func missingRecipientField(r Recipient, paymentMethod string) string {
	switch {
	case r.FirstName == "":
		return "firstname"
	case r.LastName == "":
		return "lastname"
	case r.Address == "":
		return "address"
	case r.Phone == "":
		return "phone"
	case paymentMethod == "":
		return "payment_method"
	}
	return ""
}

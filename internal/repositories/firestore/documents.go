package firestore

import (
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/naturalily/shop-api/internal/domain"
)

const (
	productCollection        = "products"
	cartCollection           = "carts"
	orderCollection          = "orders"
	paymentEventCollection   = "stripeEvents"
	wishlistCollectionFormat = "users/%s/wishlist"
)

type productDocument struct {
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Currency  string    `firestore:"currency"`
	Stock     int       `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func decodeProduct(snap *firestore.DocumentSnapshot) (domain.Product, error) {
	var doc productDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Product{}, err
	}
	return domain.Product{
		ID:        snap.Ref.ID,
		Name:      doc.Name,
		Price:     doc.Price,
		Currency:  doc.Currency,
		Stock:     doc.Stock,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

type cartDocument struct {
	CartID    string             `firestore:"cartId"`
	UserID    string             `firestore:"userId"`
	Lines     []cartLineDocument `firestore:"lines"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartLineDocument struct {
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeCart(cart domain.Cart) cartDocument {
	lines := make([]cartLineDocument, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, cartLineDocument{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt.UTC(),
			UpdatedAt: line.UpdatedAt.UTC(),
		})
	}
	return cartDocument{
		CartID:    cart.ID,
		UserID:    cart.UserID,
		Lines:     lines,
		CreatedAt: cart.CreatedAt.UTC(),
		UpdatedAt: cart.UpdatedAt.UTC(),
	}
}

func decodeCart(snap *firestore.DocumentSnapshot) (domain.Cart, error) {
	var doc cartDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{
		ID:        doc.CartID,
		UserID:    doc.UserID,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	if cart.UserID == "" {
		cart.UserID = snap.Ref.ID
	}
	for _, line := range doc.Lines {
		if line.Quantity <= 0 {
			continue
		}
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
			UpdatedAt: line.UpdatedAt,
		})
	}
	return cart, nil
}

type wishlistDocument struct {
	ProductID string    `firestore:"productId"`
	AddedAt   time.Time `firestore:"addedAt"`
}

type recipientDocument struct {
	FirstName string `firestore:"firstName"`
	LastName  string `firestore:"lastName"`
	Address   string `firestore:"address"`
	Phone     string `firestore:"phone"`
}

type orderLineDocument struct {
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
}

type orderDocument struct {
	Reference         string              `firestore:"reference"`
	UserID            string              `firestore:"userId"`
	Recipient         recipientDocument   `firestore:"recipient"`
	PaymentMethod     string              `firestore:"paymentMethod"`
	Source            string              `firestore:"source"`
	Total             int64               `firestore:"total"`
	Currency          string              `firestore:"currency"`
	PaymentEventID    string              `firestore:"paymentEventId,omitempty"`
	CheckoutSessionID string              `firestore:"checkoutSessionId,omitempty"`
	Lines             []orderLineDocument `firestore:"lines"`
	OrderedAt         time.Time           `firestore:"orderedAt"`
}

func encodeOrder(order domain.Order) orderDocument {
	lines := make([]orderLineDocument, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineDocument(line))
	}
	return orderDocument{
		Reference:         order.Reference,
		UserID:            order.UserID,
		Recipient:         recipientDocument(order.Recipient),
		PaymentMethod:     order.PaymentMethod,
		Source:            string(order.Source),
		Total:             order.Total,
		Currency:          order.Currency,
		PaymentEventID:    order.PaymentEventID,
		CheckoutSessionID: order.CheckoutSessionID,
		Lines:             lines,
		OrderedAt:         order.OrderedAt.UTC(),
	}
}

func decodeOrder(snap *firestore.DocumentSnapshot) (domain.Order, error) {
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, err
	}
	lines := make([]domain.OrderLine, 0, len(doc.Lines))
	for _, line := range doc.Lines {
		lines = append(lines, domain.OrderLine(line))
	}
	return domain.Order{
		ID:                snap.Ref.ID,
		Reference:         doc.Reference,
		UserID:            doc.UserID,
		Recipient:         domain.Recipient(doc.Recipient),
		PaymentMethod:     doc.PaymentMethod,
		Source:            domain.OrderSource(doc.Source),
		Total:             doc.Total,
		Currency:          doc.Currency,
		PaymentEventID:    doc.PaymentEventID,
		CheckoutSessionID: doc.CheckoutSessionID,
		Lines:             lines,
		OrderedAt:         doc.OrderedAt,
	}, nil
}

type paymentEventDocument struct {
	OrderID     string    `firestore:"orderId"`
	Outcome     string    `firestore:"outcome"`
	ProcessedAt time.Time `firestore:"processedAt"`
}

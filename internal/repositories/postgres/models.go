package postgres

import (
	"time"

	domain "github.com/naturalily/shop-api/internal/domain"
)

type productRecord struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Price     int64
	Currency  string `gorm:"size:3"`
	Stock     int
	UpdatedAt time.Time
}

func (productRecord) TableName() string { return "products" }

func (p productRecord) toDomain() domain.Product {
	return domain.Product{
		ID:        p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Currency:  p.Currency,
		Stock:     p.Stock,
		UpdatedAt: p.UpdatedAt,
	}
}

type cartRecord struct {
	ID        string           `gorm:"primaryKey"`
	UserID    string           `gorm:"uniqueIndex"`
	Lines     []cartLineRecord `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (cartRecord) TableName() string { return "carts" }

// cartLineRecord is keyed by (cart, product) so a product appears at most once per cart.
type cartLineRecord struct {
	CartID    string `gorm:"primaryKey"`
	ProductID string `gorm:"primaryKey"`
	Quantity  int
	AddedAt   time.Time
	UpdatedAt time.Time
}

func (cartLineRecord) TableName() string { return "cart_lines" }

func (c cartRecord) toDomain() domain.Cart {
	cart := domain.Cart{
		ID:        c.ID,
		UserID:    c.UserID,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
	for _, line := range c.Lines {
		cart.Lines = append(cart.Lines, domain.CartLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			AddedAt:   line.AddedAt,
			UpdatedAt: line.UpdatedAt,
		})
	}
	return cart
}

type wishlistRecord struct {
	UserID    string    `gorm:"primaryKey"`
	ProductID string    `gorm:"primaryKey"`
	AddedAt   time.Time `gorm:"index"`
}

func (wishlistRecord) TableName() string { return "wishlist_entries" }

type orderRecord struct {
	ID                 string `gorm:"primaryKey"`
	Reference          string `gorm:"uniqueIndex"`
	UserID             string `gorm:"index:idx_orders_user_ordered,priority:1"`
	RecipientFirstName string
	RecipientLastName  string
	RecipientAddress   string
	RecipientPhone     string
	PaymentMethod      string
	Source             string
	Total              int64
	Currency           string `gorm:"size:3"`
	PaymentEventID     string
	CheckoutSessionID  string
	Lines              []orderLineRecord `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	OrderedAt          time.Time         `gorm:"index:idx_orders_user_ordered,priority:2,sort:desc"`
}

func (orderRecord) TableName() string { return "orders" }

type orderLineRecord struct {
	ID          uint   `gorm:"primaryKey"`
	OrderID     string `gorm:"index"`
	Position    int
	ProductID   string
	ProductName string
	UnitPrice   int64
	Quantity    int
}

func (orderLineRecord) TableName() string { return "order_lines" }

func newOrderRecord(order domain.Order) orderRecord {
	record := orderRecord{
		ID:                 order.ID,
		Reference:          order.Reference,
		UserID:             order.UserID,
		RecipientFirstName: order.Recipient.FirstName,
		RecipientLastName:  order.Recipient.LastName,
		RecipientAddress:   order.Recipient.Address,
		RecipientPhone:     order.Recipient.Phone,
		PaymentMethod:      order.PaymentMethod,
		Source:             string(order.Source),
		Total:              order.Total,
		Currency:           order.Currency,
		PaymentEventID:     order.PaymentEventID,
		CheckoutSessionID:  order.CheckoutSessionID,
		OrderedAt:          order.OrderedAt.UTC(),
	}
	for i, line := range order.Lines {
		record.Lines = append(record.Lines, orderLineRecord{
			OrderID:     order.ID,
			Position:    i,
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}
	return record
}

func (o orderRecord) toDomain() domain.Order {
	order := domain.Order{
		ID:        o.ID,
		Reference: o.Reference,
		UserID:    o.UserID,
		Recipient: domain.Recipient{
			FirstName: o.RecipientFirstName,
			LastName:  o.RecipientLastName,
			Address:   o.RecipientAddress,
			Phone:     o.RecipientPhone,
		},
		PaymentMethod:     o.PaymentMethod,
		Source:            domain.OrderSource(o.Source),
		Total:             o.Total,
		Currency:          o.Currency,
		PaymentEventID:    o.PaymentEventID,
		CheckoutSessionID: o.CheckoutSessionID,
		OrderedAt:         o.OrderedAt,
	}
	for _, line := range o.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			UnitPrice:   line.UnitPrice,
			Quantity:    line.Quantity,
		})
	}
	return order
}

type paymentEventRecord struct {
	EventID     string `gorm:"primaryKey"`
	OrderID     string
	Outcome     string
	ProcessedAt time.Time
}

func (paymentEventRecord) TableName() string { return "processed_payment_events" }

func allModels() []any {
	return []any{
		&productRecord{},
		&cartRecord{},
		&cartLineRecord{},
		&wishlistRecord{},
		&orderRecord{},
		&orderLineRecord{},
		&paymentEventRecord{},
	}
}

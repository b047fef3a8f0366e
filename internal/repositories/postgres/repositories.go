package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/naturalily/shop-api/internal/domain"
	"github.com/naturalily/shop-api/internal/platform/pagination"
	"github.com/naturalily/shop-api/internal/repositories"
)

var lockForUpdate = clause.Locking{Strength: "UPDATE"}

// ProductRepository reads the products table.
type ProductRepository struct {
	db *gorm.DB
}

func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	var record productRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", productID).Error; err != nil {
		return domain.Product{}, wrapError("products.get", err)
	}
	return record.toDomain(), nil
}

func (r *ProductRepository) GetProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return products, nil
	}
	var records []productRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", productIDs).Find(&records).Error; err != nil {
		return nil, wrapError("products.getAll", err)
	}
	for _, record := range records {
		products[record.ID] = record.toDomain()
	}
	return products, nil
}

// CartRepository stores carts and their lines.
type CartRepository struct {
	db *gorm.DB
}

func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	var record cartRecord
	err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("added_at, product_id") }).
		Where("user_id = ?", userID).
		First(&record).Error
	if err != nil {
		return domain.Cart{}, wrapError("carts.get", err)
	}
	return record.toDomain(), nil
}

// MutateCart inserts the cart row if missing, then locks it and the product row for the rest of
// the transaction. A cart created here that ends without lines is removed before commit.
func (r *CartRepository) MutateCart(ctx context.Context, req repositories.MutateCartRequest, fn repositories.CartMutateFunc) (domain.Cart, error) {
	userID := strings.TrimSpace(req.UserID)
	productID := strings.TrimSpace(req.ProductID)
	if userID == "" || productID == "" {
		return domain.Cart{}, errors.New("cart repository: user id and product id are required")
	}
	if fn == nil {
		return domain.Cart{}, errors.New("cart repository: mutate function is required")
	}
	now := req.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result domain.Cart
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&cartRecord{ID: req.NewCartID, UserID: userID, CreatedAt: now, UpdatedAt: now})
		if insert.Error != nil {
			return wrapError("carts.mutate.insert", insert.Error)
		}
		created := insert.RowsAffected == 1

		var record cartRecord
		if err := tx.Clauses(lockForUpdate).Where("user_id = ?", userID).First(&record).Error; err != nil {
			return wrapError("carts.mutate.lock", err)
		}
		if err := tx.Where("cart_id = ?", record.ID).Order("added_at, product_id").Find(&record.Lines).Error; err != nil {
			return wrapError("carts.mutate.lines", err)
		}

		var product *domain.Product
		var productRow productRecord
		err := tx.Clauses(lockForUpdate).First(&productRow, "id = ?", productID).Error
		switch {
		case err == nil:
			p := productRow.toDomain()
			product = &p
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return wrapError("carts.mutate.product", err)
		}

		cart := record.toDomain()
		if err := fn(&cart, product); err != nil {
			return err
		}
		cart.UpdatedAt = now
		result = cart

		if created && len(cart.Lines) == 0 {
			return wrapError("carts.mutate.discard", tx.Delete(&cartRecord{}, "id = ?", record.ID).Error)
		}
		return r.replaceLines(tx, record.ID, cart, now)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return result, nil
}

func (r *CartRepository) replaceLines(tx *gorm.DB, cartID string, cart domain.Cart, now time.Time) error {
	if err := tx.Where("cart_id = ?", cartID).Delete(&cartLineRecord{}).Error; err != nil {
		return wrapError("carts.mutate.clearLines", err)
	}
	if len(cart.Lines) > 0 {
		lines := make([]cartLineRecord, 0, len(cart.Lines))
		for _, line := range cart.Lines {
			lines = append(lines, cartLineRecord{
				CartID:    cartID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				AddedAt:   line.AddedAt.UTC(),
				UpdatedAt: line.UpdatedAt.UTC(),
			})
		}
		if err := tx.Create(&lines).Error; err != nil {
			return wrapError("carts.mutate.writeLines", err)
		}
	}
	err := tx.Model(&cartRecord{}).Where("id = ?", cartID).Update("updated_at", now).Error
	return wrapError("carts.mutate.touch", err)
}

// WishlistRepository stores one row per (user, product).
type WishlistRepository struct {
	db *gorm.DB
}

func (r *WishlistRepository) AddEntry(ctx context.Context, userID string, productID string, addedAt time.Time) (bool, int, error) {
	var created bool
	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&wishlistRecord{UserID: userID, ProductID: productID, AddedAt: addedAt.UTC()})
		if res.Error != nil {
			return wrapError("wishlist.add", res.Error)
		}
		created = res.RowsAffected == 1
		return wrapError("wishlist.count", tx.Model(&wishlistRecord{}).Where("user_id = ?", userID).Count(&count).Error)
	})
	if err != nil {
		return false, 0, err
	}
	return created, int(count), nil
}

func (r *WishlistRepository) RemoveEntry(ctx context.Context, userID string, productID string) (int, error) {
	db := r.db.WithContext(ctx)
	if err := db.Where("user_id = ? AND product_id = ?", userID, productID).Delete(&wishlistRecord{}).Error; err != nil {
		return 0, wrapError("wishlist.remove", err)
	}
	return r.CountEntries(ctx, userID)
}

func (r *WishlistRepository) ListEntries(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	var records []wishlistRecord
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("added_at DESC, product_id DESC").Find(&records).Error
	if err != nil {
		return nil, wrapError("wishlist.list", err)
	}
	entries := make([]domain.WishlistEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, domain.WishlistEntry{ProductID: record.ProductID, AddedAt: record.AddedAt})
	}
	return entries, nil
}

func (r *WishlistRepository) CountEntries(ctx context.Context, userID string) (int, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&wishlistRecord{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, wrapError("wishlist.count", err)
	}
	return int(count), nil
}

// OrderRepository stores orders and runs the cart conversion.
type OrderRepository struct {
	db *gorm.DB
}

func preloadOrderLines(db *gorm.DB) *gorm.DB {
	return db.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") })
}

// FinalizeCart locks the cart and its products, writes the order with the processed event
// marker and deletes the cart in one transaction.
func (r *OrderRepository) FinalizeCart(ctx context.Context, req repositories.FinalizeCartRequest) (repositories.FinalizeCartResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" || strings.TrimSpace(req.Order.ID) == "" {
		return repositories.FinalizeCartResult{}, errors.New("order repository: user id and order id are required")
	}
	eventID := strings.TrimSpace(req.Order.PaymentEventID)

	var result repositories.FinalizeCartResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventID != "" {
			var marker paymentEventRecord
			err := tx.Clauses(lockForUpdate).First(&marker, "event_id = ?", eventID).Error
			switch {
			case err == nil:
				var previous orderRecord
				if err := preloadOrderLines(tx).First(&previous, "id = ?", marker.OrderID).Error; err != nil {
					return wrapError("orders.finalize.previous", err)
				}
				result = repositories.FinalizeCartResult{Order: previous.toDomain(), Duplicate: true}
				return nil
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return wrapError("orders.finalize.event", err)
			}
		}

		var cart cartRecord
		if err := tx.Clauses(lockForUpdate).Where("user_id = ?", userID).First(&cart).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return repositories.NewStoreError(repositories.StoreErrorCartEmpty, "cart not found", nil)
			}
			return wrapError("orders.finalize.cart", err)
		}
		if err := tx.Where("cart_id = ?", cart.ID).Order("added_at, product_id").Find(&cart.Lines).Error; err != nil {
			return wrapError("orders.finalize.lines", err)
		}
		domainCart := cart.toDomain()

		products := make(map[string]domain.Product, len(domainCart.Lines))
		if ids := repositories.CartProductIDs(domainCart); len(ids) > 0 {
			var rows []productRecord
			query := tx.Where("id IN ?", ids).Order("id")
			if req.DecrementStock {
				query = query.Clauses(lockForUpdate)
			}
			if err := query.Find(&rows).Error; err != nil {
				return wrapError("orders.finalize.products", err)
			}
			for _, row := range rows {
				products[row.ID] = row.toDomain()
			}
		}

		order, err := repositories.BuildOrder(req, domainCart, products)
		if err != nil {
			return err
		}
		record := newOrderRecord(order)
		if err := tx.Create(&record).Error; err != nil {
			return wrapError("orders.finalize.create", err)
		}
		if err := tx.Delete(&cartLineRecord{}, "cart_id = ?", cart.ID).Error; err != nil {
			return wrapError("orders.finalize.clearLines", err)
		}
		if err := tx.Delete(&cartRecord{}, "id = ?", cart.ID).Error; err != nil {
			return wrapError("orders.finalize.deleteCart", err)
		}
		if eventID != "" {
			marker := paymentEventRecord{
				EventID:     eventID,
				OrderID:     order.ID,
				Outcome:     domain.PaymentEventOutcomeOrderCreated,
				ProcessedAt: order.OrderedAt.UTC(),
			}
			if err := tx.Create(&marker).Error; err != nil {
				return wrapError("orders.finalize.marker", err)
			}
		}
		if req.DecrementStock {
			for _, line := range order.Lines {
				err := tx.Model(&productRecord{}).Where("id = ?", line.ProductID).Updates(map[string]any{
					"stock":      gorm.Expr("stock - ?", line.Quantity),
					"updated_at": order.OrderedAt.UTC(),
				}).Error
				if err != nil {
					return wrapError("orders.finalize.stock", err)
				}
			}
		}
		result = repositories.FinalizeCartResult{Order: order}
		return nil
	})
	if err != nil {
		return repositories.FinalizeCartResult{}, err
	}
	return result, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var record orderRecord
	if err := preloadOrderLines(r.db.WithContext(ctx)).First(&record, "id = ?", orderID).Error; err != nil {
		return domain.Order{}, wrapError("orders.get", err)
	}
	return record.toDomain(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	query := preloadOrderLines(r.db.WithContext(ctx)).Where("user_id = ?", userID)
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeOrderCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		query = query.Where("(ordered_at < ?) OR (ordered_at = ? AND id < ?)", cursor.OrderedAt, cursor.OrderedAt, cursor.ID)
	}
	query = query.Order("ordered_at DESC, id DESC")
	if pager.PageSize > 0 {
		query = query.Limit(pager.PageSize + 1)
	}

	var records []orderRecord
	if err := query.Find(&records).Error; err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}

	next := ""
	if pager.PageSize > 0 && len(records) > pager.PageSize {
		records = records[:pager.PageSize]
		last := records[len(records)-1]
		next = pagination.EncodeOrderCursor(pagination.OrderCursor{OrderedAt: last.OrderedAt, ID: last.ID})
	}
	orders := make([]domain.Order, 0, len(records))
	for _, record := range records {
		orders = append(orders, record.toDomain())
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

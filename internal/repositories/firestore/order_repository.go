package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/naturalily/shop-api/internal/domain"
	pfirestore "github.com/naturalily/shop-api/internal/platform/firestore"
	"github.com/naturalily/shop-api/internal/platform/pagination"
	"github.com/naturalily/shop-api/internal/repositories"
)

// OrderRepository persists orders and performs the cart conversion transaction.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[domain.Order]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base:     pfirestore.NewBaseRepository[domain.Order](provider, orderCollection, decodeOrder),
		provider: provider,
	}, nil
}

// FinalizeCart converts the user's cart into an order. All reads happen before any write, as
// Firestore transactions require. The processed event marker, the order and the cart deletion
// commit together.
func (r *OrderRepository) FinalizeCart(ctx context.Context, req repositories.FinalizeCartRequest) (repositories.FinalizeCartResult, error) {
	if r == nil || r.provider == nil {
		return repositories.FinalizeCartResult{}, errors.New("order repository not initialised")
	}
	userID := strings.TrimSpace(req.UserID)
	orderID := strings.TrimSpace(req.Order.ID)
	if userID == "" || orderID == "" {
		return repositories.FinalizeCartResult{}, errors.New("order repository: user id and order id are required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return repositories.FinalizeCartResult{}, err
	}

	eventID := strings.TrimSpace(req.Order.PaymentEventID)
	cartRef := client.Collection(cartCollection).Doc(userID)
	orderRef := client.Collection(orderCollection).Doc(orderID)

	var result repositories.FinalizeCartResult
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.FinalizeCartResult{}

		var eventRef *firestore.DocumentRef
		if eventID != "" {
			eventRef = client.Collection(paymentEventCollection).Doc(eventID)
			snap, err := tx.Get(eventRef)
			switch {
			case err == nil:
				var marker paymentEventDocument
				if err := snap.DataTo(&marker); err != nil {
					return fmt.Errorf("decode payment event %s: %w", eventID, err)
				}
				orderSnap, err := tx.Get(client.Collection(orderCollection).Doc(marker.OrderID))
				if err != nil {
					return pfirestore.WrapError("orders.finalize.getPreviousOrder", err)
				}
				previous, err := decodeOrder(orderSnap)
				if err != nil {
					return err
				}
				result = repositories.FinalizeCartResult{Order: previous, Duplicate: true}
				return nil
			case !pfirestore.IsNotFound(err):
				return pfirestore.WrapError("orders.finalize.getEvent", err)
			}
		}

		cartSnap, err := tx.Get(cartRef)
		if err != nil {
			if pfirestore.IsNotFound(err) {
				return repositories.NewStoreError(repositories.StoreErrorCartEmpty, "cart not found", nil)
			}
			return pfirestore.WrapError("orders.finalize.getCart", err)
		}
		cart, err := decodeCart(cartSnap)
		if err != nil {
			return err
		}

		productRefs := make([]*firestore.DocumentRef, 0, len(cart.Lines))
		for _, id := range repositories.CartProductIDs(cart) {
			productRefs = append(productRefs, client.Collection(productCollection).Doc(id))
		}
		products := make(map[string]domain.Product, len(productRefs))
		if len(productRefs) > 0 {
			snaps, err := tx.GetAll(productRefs)
			if err != nil {
				return pfirestore.WrapError("orders.finalize.getProducts", err)
			}
			for _, snap := range snaps {
				if snap == nil || !snap.Exists() {
					continue
				}
				product, err := decodeProduct(snap)
				if err != nil {
					return err
				}
				products[product.ID] = product
			}
		}

		order, err := repositories.BuildOrder(req, cart, products)
		if err != nil {
			return err
		}

		if err := tx.Create(orderRef, encodeOrder(order)); err != nil {
			return err
		}
		if err := tx.Delete(cartRef); err != nil {
			return err
		}
		if eventRef != nil {
			marker := paymentEventDocument{
				OrderID:     order.ID,
				Outcome:     domain.PaymentEventOutcomeOrderCreated,
				ProcessedAt: order.OrderedAt.UTC(),
			}
			if err := tx.Create(eventRef, marker); err != nil {
				return err
			}
		}
		if req.DecrementStock {
			for _, line := range order.Lines {
				remaining := products[line.ProductID].Stock - line.Quantity
				updates := []firestore.Update{
					{Path: "stock", Value: remaining},
					{Path: "updatedAt", Value: order.OrderedAt.UTC()},
				}
				if err := tx.Update(client.Collection(productCollection).Doc(line.ProductID), updates); err != nil {
					return err
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
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data, nil
}

// ListByUser pages through the user's orders newest first, using (orderedAt, id) as the cursor.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error) {
	coll, err := r.base.Collection(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository: user id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	query := coll.Where("userId", "==", uid).
		OrderBy("orderedAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc)
	fetchLimit := 0
	if limit > 0 {
		fetchLimit = limit + 1
		query = query.Limit(fetchLimit)
	}
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeOrderCursor(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("orders.list: %w", err)
		}
		query = query.StartAfter(cursor.OrderedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pfirestore.WrapError("orders.list", err)
		}
		order, err := decodeOrder(snap)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		orders = append(orders, order)
	}

	next := ""
	if fetchLimit > 0 && len(orders) == fetchLimit {
		orders = orders[:limit]
		last := orders[len(orders)-1]
		next = pagination.EncodeOrderCursor(pagination.OrderCursor{OrderedAt: last.OrderedAt, ID: last.ID})
	}
	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: next}, nil
}

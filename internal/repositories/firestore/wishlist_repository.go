package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/naturalily/shop-api/internal/domain"
	pfirestore "github.com/naturalily/shop-api/internal/platform/firestore"
	"github.com/naturalily/shop-api/internal/repositories"
)

// WishlistRepository keeps wishlist entries in a per-user subcollection keyed by product id.
type WishlistRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.WishlistRepository = (*WishlistRepository)(nil)

// NewWishlistRepository constructs a Firestore-backed wishlist repository.
func NewWishlistRepository(provider *pfirestore.Provider) (*WishlistRepository, error) {
	if provider == nil {
		return nil, errors.New("wishlist repository requires firestore provider")
	}
	return &WishlistRepository{provider: provider}, nil
}

// AddEntry stores the entry unless it already exists.
func (r *WishlistRepository) AddEntry(ctx context.Context, userID string, productID string, addedAt time.Time) (bool, int, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return false, 0, errors.New("wishlist repository: product id is required")
	}

	created := false
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		docRef := coll.Doc(productID)
		if _, err := tx.Get(docRef); err == nil {
			return nil
		} else if !pfirestore.IsNotFound(err) {
			return pfirestore.WrapError("wishlist.add.get", err)
		}
		if err := tx.Create(docRef, wishlistDocument{ProductID: productID, AddedAt: addedAt.UTC()}); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, 0, err
	}

	count, err := r.count(ctx, coll)
	if err != nil {
		return created, 0, err
	}
	return created, count, nil
}

// RemoveEntry deletes the entry. Deleting a missing entry is not an error.
func (r *WishlistRepository) RemoveEntry(ctx context.Context, userID string, productID string) (int, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return 0, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return 0, errors.New("wishlist repository: product id is required")
	}
	if _, err := coll.Doc(productID).Delete(ctx); err != nil {
		return 0, pfirestore.WrapError("wishlist.remove", err)
	}
	return r.count(ctx, coll)
}

// ListEntries returns entries newest first.
func (r *WishlistRepository) ListEntries(ctx context.Context, userID string) ([]domain.WishlistEntry, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.OrderBy("addedAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError("wishlist.list", err)
	}
	entries := make([]domain.WishlistEntry, 0, len(snaps))
	for _, snap := range snaps {
		var doc wishlistDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode wishlist entry %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, domain.WishlistEntry{ProductID: snap.Ref.ID, AddedAt: doc.AddedAt})
	}
	return entries, nil
}

func (r *WishlistRepository) CountEntries(ctx context.Context, userID string) (int, error) {
	coll, err := r.collection(ctx, userID)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, coll)
}

func (r *WishlistRepository) count(ctx context.Context, coll *firestore.CollectionRef) (int, error) {
	results, err := coll.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("wishlist.count", err)
	}
	value, ok := results["count"].(*firestorepb.Value)
	if !ok {
		return 0, errors.New("wishlist repository: count aggregation missing")
	}
	return int(value.GetIntegerValue()), nil
}

func (r *WishlistRepository) collection(ctx context.Context, userID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("wishlist repository not initialised")
	}
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("wishlist repository: user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(fmt.Sprintf(wishlistCollectionFormat, uid)), nil
}

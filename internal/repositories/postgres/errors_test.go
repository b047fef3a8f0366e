package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/naturalily/shop-api/internal/repositories"
)

func TestWrapErrorClassification(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		notFound    bool
		conflict    bool
		unavailable bool
	}{
		{name: "record not found", err: gorm.ErrRecordNotFound, notFound: true},
		{name: "duplicate key", err: gorm.ErrDuplicatedKey, conflict: true},
		{name: "serialization failure", err: errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), conflict: true},
		{name: "bad connection", err: fmt.Errorf("exec: %w", driver.ErrBadConn), unavailable: true},
		{name: "connection failure", err: errors.New("FATAL: terminating connection (SQLSTATE 08006)"), unavailable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var repoErr repositories.RepositoryError
			if !errors.As(wrapError("op", tc.err), &repoErr) {
				t.Fatalf("expected repository error")
			}
			if repoErr.IsNotFound() != tc.notFound || repoErr.IsConflict() != tc.conflict || repoErr.IsUnavailable() != tc.unavailable {
				t.Fatalf("unexpected classification for %v: notFound=%v conflict=%v unavailable=%v",
					tc.err, repoErr.IsNotFound(), repoErr.IsConflict(), repoErr.IsUnavailable())
			}
		})
	}
}

func TestWrapErrorPassesThrough(t *testing.T) {
	if err := wrapError("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := wrapError("op", context.Canceled); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	storeErr := repositories.NewStoreError(repositories.StoreErrorCartEmpty, "empty", nil)
	if err := wrapError("op", storeErr); err != storeErr {
		t.Fatalf("expected store error to pass through, got %v", err)
	}
}

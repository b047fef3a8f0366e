package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OrderCursor resumes a newest-first listing after the given (time, id) pair. The id breaks
// ties between orders placed in the same instant.
type OrderCursor struct {
	OrderedAt time.Time `json:"t"`
	ID        string    `json:"id"`
}

// EncodeOrderCursor returns the URL-safe page token for cursor.
func EncodeOrderCursor(cursor OrderCursor) string {
	data, _ := json.Marshal(OrderCursor{OrderedAt: cursor.OrderedAt.UTC(), ID: cursor.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeOrderCursor parses a token produced by EncodeOrderCursor.
func DecodeOrderCursor(token string) (OrderCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return OrderCursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor OrderCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return OrderCursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.ID == "" || cursor.OrderedAt.IsZero() {
		return OrderCursor{}, fmt.Errorf("%w: incomplete cursor", ErrInvalidPageToken)
	}
	return cursor, nil
}

// After reports whether an entry sorts strictly after the cursor in newest-first order.
func (c OrderCursor) After(orderedAt time.Time, id string) bool {
	if orderedAt.Equal(c.OrderedAt) {
		return id < c.ID
	}
	return orderedAt.Before(c.OrderedAt)
}

package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 20
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params are the list inputs accepted from the query string.
type Params struct {
	PageSize  int
	PageToken string
}

// Options bound the page size for one endpoint.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest reads pageSize and pageToken. The token is only checked for shape here; the
// repository decodes it.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = DefaultPageSize
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = DefaultMaxPageSize
	}
	query := r.URL.Query()

	params := Params{PageSize: opts.DefaultPageSize}
	if raw := strings.TrimSpace(query.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		params.PageSize = min(size, opts.MaxPageSize)
	}

	if token := strings.TrimSpace(query.Get("pageToken")); token != "" {
		if _, err := DecodeOrderCursor(token); err != nil {
			return Params{}, err
		}
		params.PageToken = token
	}
	return params, nil
}

package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"gorm.io/gorm"

	"github.com/naturalily/shop-api/internal/repositories"
)

// Error classifies gorm and driver failures for the repositories.RepositoryError contract.
type Error struct {
	Op  string
	Err error
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) IsNotFound() bool { return errors.Is(e.Err, gorm.ErrRecordNotFound) }

// IsConflict covers unique violations and serialization or lock failures (SQLSTATE 40001, 40P01, 55P03).
func (e *Error) IsConflict() bool {
	if errors.Is(e.Err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := e.Err.Error()
	for _, state := range []string{"40001", "40P01", "55P03"} {
		if strings.Contains(msg, "SQLSTATE "+state) {
			return true
		}
	}
	return false
}

func (e *Error) IsUnavailable() bool {
	if errors.Is(e.Err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return true
	}
	return strings.Contains(e.Err.Error(), "SQLSTATE 08")
}

// wrapError annotates err with op unless it is a context error or already classified.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var classified repositories.RepositoryError
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Op: op, Err: err}
}

package repositories

import (
	"errors"
	"fmt"
)

// StoreErrorCode enumerates domain level storage failures shared by every backend.
type StoreErrorCode string

const (
	// StoreErrorNotFound indicates the addressed record does not exist.
	StoreErrorNotFound StoreErrorCode = "not_found"
	// StoreErrorConflict indicates a concurrent write won or a precondition failed.
	StoreErrorConflict StoreErrorCode = "conflict"
	// StoreErrorUnavailable indicates the backend could not be reached.
	StoreErrorUnavailable StoreErrorCode = "unavailable"
	// StoreErrorOutOfStock indicates a product cannot cover the requested quantity.
	StoreErrorOutOfStock StoreErrorCode = "out_of_stock"
	// StoreErrorCartEmpty indicates a conversion found no cart or no lines.
	StoreErrorCartEmpty StoreErrorCode = "cart_empty"
	// StoreErrorCurrencyMismatch indicates a product priced in a currency other than the order's.
	StoreErrorCurrencyMismatch StoreErrorCode = "currency_mismatch"
)

// StoreError wraps storage failures with machine readable codes.
type StoreError struct {
	Op      string
	Code    StoreErrorCode
	Message string
	Err     error
}

var _ RepositoryError = (*StoreError)(nil)

// NewStoreError constructs a typed storage error.
func NewStoreError(code StoreErrorCode, message string, err error) *StoreError {
	if message == "" {
		message = string(code)
	}
	return &StoreError{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *StoreError) IsNotFound() bool { return e != nil && e.Code == StoreErrorNotFound }
func (e *StoreError) IsConflict() bool { return e != nil && e.Code == StoreErrorConflict }
func (e *StoreError) IsUnavailable() bool { return e != nil && e.Code == StoreErrorUnavailable }
func (e *StoreError) IsOutOfStock() bool { return e != nil && e.Code == StoreErrorOutOfStock }
func (e *StoreError) IsCartEmpty() bool { return e != nil && e.Code == StoreErrorCartEmpty }
func (e *StoreError) IsCurrencyMismatch() bool {
	return e != nil && e.Code == StoreErrorCurrencyMismatch
}

// WithOp annotates the error with the failing operation when none is set.
func (e *StoreError) WithOp(op string) *StoreError {
	if e != nil && e.Op == "" {
		e.Op = op
	}
	return e
}

// StoreErrorCodeOf extracts the code from err when it wraps a StoreError.
func StoreErrorCodeOf(err error) (StoreErrorCode, bool) {
	var storeErr *StoreError
	if errors.As(err, &storeErr) && storeErr != nil {
		return storeErr.Code, true
	}
	return "", false
}

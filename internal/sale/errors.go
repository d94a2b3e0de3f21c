package sale

import (
	"context"
	"errors"
	"fmt"

	"kioskpos/backend/internal/store"
)

var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrNoSession = errors.New("no authenticated session")
)

// IntegrityError reports a malformed cart or sale request. It is raised before
// any stock is touched.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return "invalid sale: " + e.Reason
}

func (e *IntegrityError) Unwrap() error { return store.ErrInvalidTransaction }

// NotFoundError names a product whose inventory record (or catalog entry) no
// longer exists.
type NotFoundError struct {
	ProductID string
	Product   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %s was removed from inventory", e.Product)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

type InsufficientStockError struct {
	ProductID string
	Product   string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (available: %d)", e.Product, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return store.ErrInsufficientStock }

// CommitError is the only error CommitSale returns. Message is safe to show
// to the operator; Err keeps the cause for errors.Is and errors.As.
type CommitError struct {
	Message string
	Err     error
}

func (e *CommitError) Error() string { return e.Message }

func (e *CommitError) Unwrap() error { return e.Err }

func newCommitError(err error) *CommitError {
	var (
		integrity *IntegrityError
		notFound  *NotFoundError
		stock     *InsufficientStockError
	)
	msg := "could not complete sale"
	switch {
	case errors.As(err, &stock):
		msg = stock.Error()
	case errors.As(err, &notFound):
		msg = notFound.Error()
	case errors.As(err, &integrity):
		msg = integrity.Error()
	case errors.Is(err, ErrEmptyCart):
		msg = "cannot finish a sale with an empty cart"
	case errors.Is(err, ErrNoSession):
		msg = "sign in again to finish the sale"
	case errors.Is(err, store.ErrConflict):
		msg = "could not complete sale, please retry"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		msg = "sale was interrupted, please retry"
	}
	return &CommitError{Message: msg, Err: err}
}

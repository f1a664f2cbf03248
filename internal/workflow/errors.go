package workflow

import (
	"errors"
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/database"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")

	// ErrBusy means contention outlasted the retry budget; the call may be
	// repeated.
	ErrBusy = errors.New("busy, retry later")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// InsufficientStockError reports the quantity seen when the request was refused.
type InsufficientStockError struct {
	LotID     int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for lot %d: requested %d, available %d", e.LotID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// kindError tags a store error with a workflow sentinel and keeps the
// store's message.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string   { return e.cause.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.cause} }

func withKind(kind, cause error) error {
	return &kindError{kind: kind, cause: cause}
}

func forbidden(format string, args ...any) error {
	return withKind(ErrForbidden, fmt.Errorf(format, args...))
}

func invalidTransition(from, to string) error {
	return withKind(ErrInvalidTransition, fmt.Errorf("cannot transition order from %s to %s", from, to))
}

// translate maps store errors onto the workflow taxonomy. Errors that are
// already workflow errors, and unknown errors, pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}

	var stockErr *database.StockError
	switch {
	case errors.As(err, &stockErr):
		return &InsufficientStockError{
			LotID:     stockErr.LotID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
		}
	case errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrLotNotFound),
		errors.Is(err, database.ErrUserNotFound):
		return withKind(ErrNotFound, err)
	case errors.Is(err, database.ErrOrderNotPending):
		return withKind(ErrInvalidTransition, err)
	case errors.Is(err, database.ErrLotInUse):
		return withKind(ErrConflict, err)
	case errors.Is(err, database.ErrInvalidQuantity):
		return &ValidationError{Field: "quantity", Reason: "out of range"}
	case errors.Is(err, database.ErrRetriesExhausted):
		return withKind(ErrBusy, err)
	}
	return err
}

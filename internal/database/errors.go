package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeNotNullViolation     = "23502"
	codeCheckViolation       = "23514"
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeSerializationFailure:
			return ErrorClassSerialization
		case codeDeadlockDetected:
			return ErrorClassDeadlock
		case codeLockNotAvailable:
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// IsForeignKeyViolation reports whether err is a pq foreign key violation,
// optionally restricted to a named constraint.
func IsForeignKeyViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != codeForeignKeyViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == codeCheckViolation
}

func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrLotNotFound       = errors.New("inventory lot not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotPending   = errors.New("order is not pending")
	ErrLotInUse          = errors.New("inventory lot is referenced by orders")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrLockTimeout       = errors.New("lock timeout")
	ErrRetriesExhausted  = errors.New("transaction retries exhausted")
)

// StockError carries the quantity observed when a decrement was refused.
type StockError struct {
	LotID     int64
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for lot %d: requested %d, available %d", e.LotID, e.Requested, e.Available)
}

func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

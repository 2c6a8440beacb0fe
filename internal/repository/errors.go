package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrDuplicate is returned when a write collides with a unique key such as
	// transactions.reference or (provider, provider_reference).
	ErrDuplicate = errors.New("duplicate record")

	ErrNotFound          = errors.New("record not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletLocked      = errors.New("wallet is locked")
	ErrInvalidField      = errors.New("invalid balance field")
	ErrInvalidAmount     = errors.New("amount must be positive")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

package reconcile

import (
	"errors"
	"fmt"

	"github.com/cradoe/walletrecon/internal/webhook"
)

var (
	// ErrDuplicateEvent marks a delivery that was already applied. It is a
	// silent no-op for the provider.
	ErrDuplicateEvent = errors.New("duplicate webhook event")

	ErrResourceNotFound    = errors.New("resource not found")
	ErrAccountNotFound     = fmt.Errorf("%w: no active virtual account", ErrResourceNotFound)
	ErrTransactionNotFound = fmt.Errorf("%w: no matching outbound transaction", ErrResourceNotFound)

	ErrValidation = webhook.ErrValidation
)

// errStale aborts a DB transaction whose conditional status update lost a
// race with a concurrent delivery.
var errStale = errors.New("transaction status changed concurrently")

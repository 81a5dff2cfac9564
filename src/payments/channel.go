package payments

import (
	"errors"
	"math/big"
)

var (
	// ErrChannelShutdown is returned when operations on a channel client are
	// invoked after it has been closed.
	ErrChannelShutdown = errors.New("channel client shutdown")
)

// Channel abstracts the external payment-channel daemon. Implementations talk
// to a real daemon over its RPC socket; the in-memory implementation backs
// tests.
//
// SendPayment is synchronous: it returns nil only once the daemon has
// accepted the payment. Any error means the payment did not happen and the
// ledger must be compensated.
type Channel interface {
	SendPayment(to string, amount *big.Int) error
	Balance(address string) (*big.Int, error)
	Close() error
}

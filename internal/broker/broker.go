package broker

import (
	"context"
	"errors"

	"main/internal/model"
	"main/internal/schema"
)

var (
	// ErrTransient marks broker failures worth retrying (timeouts, throttling).
	ErrTransient = errors.New("transient broker failure")
	// ErrFatal marks broker failures that halt the symbol (auth, rejection loops).
	ErrFatal = errors.New("fatal broker failure")

	ErrUnknownOrder = errors.New("order not found")
)

// OrderID identifies an order at the broker.
type OrderID uint64

// Broker is the capability the execution manager consumes. Implementations
// must be safe for concurrent per-symbol callers; a slow call suspends only
// the calling symbol task.
type Broker interface {
	// SubmitOrder places a resting limit order.
	SubmitOrder(ctx context.Context, intent model.OrderIntent) (OrderID, error)
	// CancelOrder removes a resting order. Canceling an already filled or
	// unknown order returns ErrUnknownOrder.
	CancelOrder(ctx context.Context, id OrderID) error
	// Position returns the broker's view of the symbol's inventory.
	Position(ctx context.Context, id schema.SymbolID) (model.Position, error)
	// Fills is the asynchronous fill notification feed.
	Fills() <-chan model.Fill
}

// IsTransient reports whether the error should be retried with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal reports whether the error must halt the symbol's state machine.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsUnknownOrder reports whether the broker no longer knows the order, which
// a canceller treats as already done.
func IsUnknownOrder(err error) bool {
	return errors.Is(err, ErrUnknownOrder)
}

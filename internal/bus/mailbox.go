package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot, latest-wins message box. Put never blocks: an
// unconsumed value is overwritten and counted as a conflation drop. This is
// the explicit form of "keep only the newest message" that the feed channels
// rely on, so the consumer always reacts to the latest market state instead
// of working through a backlog.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	notify chan struct{}
	drops  atomic.Uint64
}

// NewMailbox allocates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Put stores a value, superseding any unconsumed previous value.
func (m *Mailbox[T]) Put(value T) {
	m.mu.Lock()
	if m.full {
		m.drops.Add(1)
	}
	m.value = value
	m.full = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Take returns the freshest value, waiting until one arrives or the context
// ends. Waiting suspends only the caller.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	for {
		if value, ok := m.TryTake(); ok {
			return value, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-m.notify:
		}
	}
}

// Wait exposes the notification channel so a single consumer can select
// over several sources. After receiving, call TryTake and re-check: the
// signal is level-triggered, not a delivery.
func (m *Mailbox[T]) Wait() <-chan struct{} {
	return m.notify
}

// TryTake returns the freshest value without waiting.
func (m *Mailbox[T]) TryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		var zero T
		return zero, false
	}
	m.full = false
	return m.value, true
}

// Drops returns how many values were superseded before being consumed.
func (m *Mailbox[T]) Drops() uint64 {
	return m.drops.Load()
}

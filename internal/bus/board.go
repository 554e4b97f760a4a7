package bus

import (
	"sync"

	"main/internal/schema"
)

// Board fans one feed kind out to per-symbol subscriber mailboxes.
// Publish is fire-and-forget: it never blocks on subscriber behavior, and a
// symbol with no subscribers silently drops the value. Within one symbol,
// publishes from its single producer reach each mailbox in order; the
// single-slot mailbox then keeps only the freshest value.
type Board[T any] struct {
	mu   sync.RWMutex
	subs map[schema.SymbolID][]*Mailbox[T]
}

// NewBoard allocates a board with no subscribers.
func NewBoard[T any]() *Board[T] {
	return &Board[T]{subs: make(map[schema.SymbolID][]*Mailbox[T])}
}

// Subscribe registers and returns a fresh mailbox for one symbol's feed.
func (b *Board[T]) Subscribe(id schema.SymbolID) *Mailbox[T] {
	box := NewMailbox[T]()
	b.mu.Lock()
	b.subs[id] = append(b.subs[id], box)
	b.mu.Unlock()
	return box
}

// Publish delivers a value to every subscriber of the symbol and reports how
// many mailboxes were reached.
func (b *Board[T]) Publish(id schema.SymbolID, value T) int {
	b.mu.RLock()
	boxes := b.subs[id]
	b.mu.RUnlock()
	for _, box := range boxes {
		box.Put(value)
	}
	return len(boxes)
}

// SubscriberCount returns the number of mailboxes attached to a symbol.
func (b *Board[T]) SubscriberCount(id schema.SymbolID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[id])
}

package executor

import (
	"sync"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/schema"
)

// PositionBook tracks per-symbol inventory with average cost. Each entry is
// mutated only by its symbol's execution task; the lock protects the map for
// readers on other goroutines (reports, tests).
type PositionBook struct {
	mu        sync.RWMutex
	positions map[schema.SymbolID]model.Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[schema.SymbolID]model.Position)}
}

// ApplyFill updates the position and returns the new value.
// Increasing exposure blends the average cost; reducing keeps it; crossing
// through flat restarts it at the fill price.
func (b *PositionBook) ApplyFill(fill model.Fill) model.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.positions[fill.SymbolID]
	signed := int64(fill.Qty)
	if fill.Side == enum.OrderSideSell {
		signed = -signed
	}

	prevQty := int64(current.Qty)
	nextQty := prevQty + signed

	next := model.Position{SymbolID: fill.SymbolID, Qty: model.Quantity(nextQty)}
	switch {
	case nextQty == 0:
		next.AvgCost = 0
	case prevQty == 0 || (prevQty > 0) != (nextQty > 0):
		next.AvgCost = fill.Price
	case (prevQty > 0) == (signed > 0):
		prevAbs := abs(prevQty)
		fillAbs := abs(signed)
		next.AvgCost = model.Price((int64(current.AvgCost)*prevAbs + int64(fill.Price)*fillAbs) / (prevAbs + fillAbs))
	default:
		next.AvgCost = current.AvgCost
	}

	b.positions[fill.SymbolID] = next
	return next
}

// Position returns the current position for a symbol.
func (b *PositionBook) Position(id schema.SymbolID) model.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[id]
	if !ok {
		return model.Position{SymbolID: id}
	}
	return pos
}

// Count returns the number of symbols with a recorded position.
func (b *PositionBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package model

import (
	"main/internal/model/enum"
	"main/internal/schema"
)

// PriceTick is the publisher's view of the market for one symbol.
// Immutable once emitted; downstream stages receive copies only.
type PriceTick struct {
	SymbolID schema.SymbolID
	Price    Price
	TsNano   int64
}

// Quote is a bid/ask target produced by the strategy engine from the most
// recent tick of a symbol. Invariant: Bid < Ask.
type Quote struct {
	SymbolID schema.SymbolID
	Bid      Price
	Ask      Price
	TsNano   int64
}

// OrderIntent is the executor's request to place one resting limit order.
type OrderIntent struct {
	SymbolID schema.SymbolID
	Side     enum.OrderSide
	Price    Price
	Qty      Quantity
}

// Fill reports an executed (partial) order.
type Fill struct {
	OrderID  uint64
	SymbolID schema.SymbolID
	Side     enum.OrderSide
	Price    Price
	Qty      Quantity
	TsNano   int64
}

// Position is the executor's per-symbol inventory. Owned exclusively by the
// symbol's execution task; mutated only on confirmed fills.
type Position struct {
	SymbolID schema.SymbolID
	Qty      Quantity
	AvgCost  Price
}

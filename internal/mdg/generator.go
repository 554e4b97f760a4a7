package mdg

import (
	"fmt"
	"math/rand"

	"main/internal/model"
	"main/internal/schema"
)

// Generator creates synthetic price ticks for every symbol in the registry.
// The walk is seedable so tests and replays get a stable sequence.
type Generator struct {
	symbols   []schema.Symbol
	prices    []int64
	basePrice int64
	maxStep   int64
	rng       *rand.Rand
	index     int
}

// NewGenerator creates a generator for all symbols in the registry.
// basePrice and maxStep are scaled integers in each symbol's price scale.
func NewGenerator(reg *schema.Registry, basePrice, maxStep int64, seed int64) (*Generator, error) {
	if reg == nil || reg.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if basePrice <= 0 {
		return nil, fmt.Errorf("base price must be positive, got %d", basePrice)
	}
	if maxStep < 0 {
		maxStep = 0
	}
	symbols := make([]schema.Symbol, 0, reg.SymbolCount())
	prices := make([]int64, 0, reg.SymbolCount())
	for i := 0; i < reg.SymbolCount(); i++ {
		symbol, ok := reg.SymbolAt(i)
		if !ok {
			continue
		}
		symbols = append(symbols, symbol)
		prices = append(prices, basePrice)
	}
	return &Generator{
		symbols:   symbols,
		prices:    prices,
		basePrice: basePrice,
		maxStep:   maxStep,
		rng:       rand.New(rand.NewSource(seed)),
	}, nil
}

// Next advances the round-robin walk and returns the next tick.
func (g *Generator) Next(nowNano int64) model.PriceTick {
	symbol := g.symbols[g.index]
	price := g.step(g.index)
	g.index = (g.index + 1) % len(g.symbols)
	return model.PriceTick{
		SymbolID: symbol.ID,
		Price:    model.Price(price),
		TsNano:   nowNano,
	}
}

func (g *Generator) step(i int) int64 {
	if g.maxStep == 0 {
		return g.prices[i]
	}
	next := g.prices[i] + g.rng.Int63n(2*g.maxStep+1) - g.maxStep
	// The walk stays positive; a tick at or below zero would be rejected
	// downstream anyway.
	if next <= 0 {
		next = g.prices[i]
	}
	g.prices[i] = next
	return next
}

package strategy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
	"main/internal/schema"
)

var ErrInvalidQuote = errors.New("quote function produced bid >= ask")

// QuoteFunction derives a bid/ask pair from one tick. Implementations must
// be pure: same tick in, same quote out, no cross-symbol state.
type QuoteFunction func(tick model.PriceTick) (bid, ask model.Price)

// HalfSpread quotes symmetrically around the tick price. halfSpread is a
// scaled integer in the symbol's price scale.
func HalfSpread(halfSpread model.Price) QuoteFunction {
	return func(tick model.PriceTick) (model.Price, model.Price) {
		return tick.Price - halfSpread, tick.Price + halfSpread
	}
}

// Engine is the strategy stage. Each symbol gets its own task consuming the
// symbol's tick mailbox, so a slow computation for one symbol never delays
// ticks for another. The single-slot mailbox gives conflation for free: when
// ticks outpace the task, only the most recent is processed.
type Engine struct {
	registry *schema.Registry
	quoteFn  QuoteFunction
	inboxes  map[schema.SymbolID]*bus.Mailbox[model.PriceTick]
	quotes   *bus.Board[model.Quote]
	metrics  *obs.Metrics
	running  atomic.Bool
}

// NewEngine wires a strategy engine between the tick and quote boards.
// Tick subscriptions are taken immediately, before any publisher can run.
func NewEngine(registry *schema.Registry, quoteFn QuoteFunction, ticks *bus.Board[model.PriceTick], quotes *bus.Board[model.Quote], metrics *obs.Metrics) *Engine {
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	inboxes := make(map[schema.SymbolID]*bus.Mailbox[model.PriceTick], registry.SymbolCount())
	for i := 0; i < registry.SymbolCount(); i++ {
		if symbol, ok := registry.SymbolAt(i); ok {
			inboxes[symbol.ID] = ticks.Subscribe(symbol.ID)
		}
	}
	return &Engine{
		registry: registry,
		quoteFn:  quoteFn,
		inboxes:  inboxes,
		quotes:   quotes,
		metrics:  metrics,
	}
}

// OnTick applies the quote function to one tick and returns the quote to
// broadcast. A quote violating bid < ask yields ErrInvalidQuote and nothing
// is emitted for that tick.
func (e *Engine) OnTick(tick model.PriceTick) (model.Quote, error) {
	bid, ask := e.quoteFn(tick)
	if bid >= ask {
		return model.Quote{}, ErrInvalidQuote
	}
	return model.Quote{
		SymbolID: tick.SymbolID,
		Bid:      bid,
		Ask:      ask,
		TsNano:   tick.TsNano,
	}, nil
}

// Run starts one task per symbol and blocks until the context is canceled
// and every task has released its channels.
func (e *Engine) Run(ctx context.Context) error {
	if e.running.Swap(true) {
		return nil
	}
	defer e.running.Store(false)

	var wg sync.WaitGroup
	for i := 0; i < e.registry.SymbolCount(); i++ {
		symbol, ok := e.registry.SymbolAt(i)
		if !ok {
			continue
		}
		inbox := e.inboxes[symbol.ID]
		wg.Add(1)
		go func(symbol schema.Symbol, inbox *bus.Mailbox[model.PriceTick]) {
			defer wg.Done()
			e.runSymbol(ctx, symbol, inbox)
		}(symbol, inbox)
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Engine) runSymbol(ctx context.Context, symbol schema.Symbol, inbox *bus.Mailbox[model.PriceTick]) {
	for {
		tick, err := inbox.Take(ctx)
		if err != nil {
			return
		}
		quote, err := e.OnTick(tick)
		if err != nil {
			e.metrics.ObserveQuoteRejected()
			logs.Errorf("invalid quote for %s, err: %+v", symbol.Name, err)
			continue
		}
		e.quotes.Publish(symbol.ID, quote)
		e.metrics.ObserveQuoteEmitted(tick.TsNano, time.Now().UTC().UnixNano())
	}
}

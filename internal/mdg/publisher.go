package mdg

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/model"
	"main/internal/obs"
)

var ErrInvalidTick = errors.New("tick price must be positive")

// TickSource yields the next tick to broadcast.
type TickSource interface {
	Next(nowNano int64) model.PriceTick
}

// Publisher is the market data stage. It pulls ticks from a source, stamps
// them with a per-symbol monotonic timestamp, and broadcasts fire-and-forget
// on the symbol's tick-feed.
type Publisher struct {
	source   TickSource
	board    *bus.Board[model.PriceTick]
	metrics  *obs.Metrics
	interval time.Duration
	lastTs   map[uint32]int64
	running  atomic.Bool
}

// NewPublisher wires a publisher to its tick board.
// interval is the pacing policy between ticks; zero disables pacing.
func NewPublisher(source TickSource, board *bus.Board[model.PriceTick], metrics *obs.Metrics, interval time.Duration) *Publisher {
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	return &Publisher{
		source:   source,
		board:    board,
		metrics:  metrics,
		interval: interval,
		lastTs:   make(map[uint32]int64),
	}
}

// Publish validates and broadcasts one tick. It never blocks on subscriber
// behavior; with no subscriber present the tick is dropped.
func (p *Publisher) Publish(tick model.PriceTick) error {
	if tick.Price <= 0 {
		p.metrics.ObserveTickRejected()
		return ErrInvalidTick
	}
	// Per-symbol monotonic timestamps even when the clock stalls.
	if last := p.lastTs[uint32(tick.SymbolID)]; tick.TsNano <= last {
		tick.TsNano = last + 1
	}
	p.lastTs[uint32(tick.SymbolID)] = tick.TsNano

	if reached := p.board.Publish(tick.SymbolID, tick); reached == 0 {
		p.metrics.ObserveTickOrphaned()
		return nil
	}
	p.metrics.ObserveTickPublished()
	return nil
}

// Run drives the tick source until the context is canceled. Cancellation is
// checked at every iteration boundary.
func (p *Publisher) Run(ctx context.Context) error {
	if p.running.Swap(true) {
		return nil
	}
	defer p.running.Store(false)

	var ticker *time.Ticker
	if p.interval > 0 {
		ticker = time.NewTicker(p.interval)
		defer ticker.Stop()
	}

	for {
		tick := p.source.Next(time.Now().UTC().UnixNano())
		if err := p.Publish(tick); err != nil {
			logs.Warnf("drop malformed tick for symbol %d, err: %+v", tick.SymbolID, err)
		}

		if ticker == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

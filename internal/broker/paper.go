package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/schema"
)

// PaperConfig controls the simulated broker.
type PaperConfig struct {
	// Latency is added to every call, respecting the caller's context.
	Latency time.Duration
	// AutoFill fills every submitted order in full at its limit price.
	AutoFill bool
	// FillBuffer sizes the fill feed. Default 1024.
	FillBuffer int
}

// Paper is an in-memory broker simulation. It is the default Broker wired by
// the supervisor and the one the tests drive; failure injection stands in
// for real venue misbehavior.
type Paper struct {
	cfg PaperConfig

	mu        sync.Mutex
	nextID    OrderID
	resting   map[OrderID]model.OrderIntent
	positions map[schema.SymbolID]model.Quantity
	injected  map[schema.SymbolID]error
	fills     chan model.Fill
}

// NewPaper creates a paper broker.
func NewPaper(cfg PaperConfig) *Paper {
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = 1024
	}
	return &Paper{
		cfg:       cfg,
		resting:   make(map[OrderID]model.OrderIntent),
		positions: make(map[schema.SymbolID]model.Quantity),
		injected:  make(map[schema.SymbolID]error),
		fills:     make(chan model.Fill, cfg.FillBuffer),
	}
}

// InjectError makes every subsequent call for the symbol fail with err until
// cleared with a nil err.
func (p *Paper) InjectError(id schema.SymbolID, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.injected, id)
		return
	}
	p.injected[id] = err
}

// SubmitOrder places a simulated limit order.
func (p *Paper) SubmitOrder(ctx context.Context, intent model.OrderIntent) (OrderID, error) {
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	if intent.Qty <= 0 {
		return 0, fmt.Errorf("submit qty %d: %w", intent.Qty, ErrFatal)
	}

	p.mu.Lock()
	if err := p.injected[intent.SymbolID]; err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.nextID++
	id := p.nextID
	p.resting[id] = intent
	p.mu.Unlock()

	if p.cfg.AutoFill {
		p.fill(id)
	}
	return id, nil
}

// CancelOrder removes a resting simulated order.
func (p *Paper) CancelOrder(ctx context.Context, id OrderID) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	intent, ok := p.resting[id]
	if !ok {
		return fmt.Errorf("cancel order %d: %w", id, ErrUnknownOrder)
	}
	if err := p.injected[intent.SymbolID]; err != nil {
		return err
	}
	delete(p.resting, id)
	return nil
}

// Position returns the simulated net position.
func (p *Paper) Position(ctx context.Context, id schema.SymbolID) (model.Position, error) {
	if err := p.wait(ctx); err != nil {
		return model.Position{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.injected[id]; err != nil {
		return model.Position{}, err
	}
	return model.Position{SymbolID: id, Qty: p.positions[id]}, nil
}

// Fills returns the asynchronous fill feed.
func (p *Paper) Fills() <-chan model.Fill {
	return p.fills
}

// Fill executes a resting order by ID, emitting a fill notification.
// Tests use it to drive partial scenarios when AutoFill is off.
func (p *Paper) Fill(id OrderID) bool {
	return p.fill(id)
}

func (p *Paper) fill(id OrderID) bool {
	p.mu.Lock()
	intent, ok := p.resting[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(p.resting, id)
	qty := p.positions[intent.SymbolID]
	if intent.Side == enum.OrderSideBuy {
		qty += intent.Qty
	} else {
		qty -= intent.Qty
	}
	p.positions[intent.SymbolID] = qty
	p.mu.Unlock()

	fill := model.Fill{
		OrderID:  uint64(id),
		SymbolID: intent.SymbolID,
		Side:     intent.Side,
		Price:    intent.Price,
		Qty:      intent.Qty,
		TsNano:   time.Now().UTC().UnixNano(),
	}
	select {
	case p.fills <- fill:
	default:
		logs.Errorf("fill feed full, dropping fill for order %d", id)
	}
	return true
}

// RestingCount returns how many simulated orders are currently resting.
func (p *Paper) RestingCount(id schema.SymbolID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, intent := range p.resting {
		if intent.SymbolID == id {
			n++
		}
	}
	return n
}

func (p *Paper) wait(ctx context.Context) error {
	if p.cfg.Latency <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.Latency):
		return nil
	}
}

package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/schema"
)

// State is the per-symbol execution state.
type State uint8

const (
	StateIdle State = iota
	StateQuoting
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuoting:
		return "quoting"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// Config controls the execution manager.
type Config struct {
	// Qty is the size of each resting order, in the symbol's quantity scale.
	Qty model.Quantity
	// Tolerance is the price distance a new quote must move beyond before
	// resting orders are cancelled and resubmitted. Zero requires equality.
	Tolerance model.Price
	// RetryBudget bounds per-symbol retries of transient broker failures.
	RetryBudget int
	// RetryBackoff is the initial backoff between retries; it doubles per
	// attempt.
	RetryBackoff time.Duration
	// StaleAfter pulls resting orders instead of re-quoting when the quote
	// is older than this. Zero disables the guard.
	StaleAfter time.Duration
	// FillBuffer sizes each symbol's fill channel. Default 64.
	FillBuffer int
	// ShutdownGrace bounds the final cancel of resting orders. Default 2s.
	ShutdownGrace time.Duration
}

type restingOrder struct {
	id    broker.OrderID
	price model.Price
}

type symbolTask struct {
	symbol schema.Symbol
	state  atomic.Uint32
	bid    *restingOrder
	ask    *restingOrder
	quotes *bus.Mailbox[model.Quote]
	fills  chan model.Fill
	resets chan struct{}
}

func (t *symbolTask) getState() State {
	return State(t.state.Load())
}

func (t *symbolTask) setState(s State) {
	t.state.Store(uint32(s))
}

// Manager is the order execution stage. Each symbol runs as its own task
// owning that symbol's quote mailbox, resting orders and position; broker
// calls suspend only the calling task. Failures are contained to the symbol:
// a halted AAA never stops BBB quoting.
type Manager struct {
	cfg      Config
	registry *schema.Registry
	broker   broker.Broker
	book     *PositionBook
	metrics  *obs.Metrics
	reports  *bus.Queue[Report]
	tasks    map[schema.SymbolID]*symbolTask
	running  atomic.Bool
}

// NewManager wires an execution manager to the quote board. Subscriptions
// are taken immediately so quotes published after construction are never
// missed.
func NewManager(registry *schema.Registry, brk broker.Broker, quotes *bus.Board[model.Quote], reports *bus.Queue[Report], metrics *obs.Metrics, cfg Config) *Manager {
	if cfg.Qty <= 0 {
		cfg.Qty = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	if cfg.FillBuffer <= 0 {
		cfg.FillBuffer = 64
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 2 * time.Second
	}
	if metrics == nil {
		metrics = obs.NewMetrics()
	}

	m := &Manager{
		cfg:      cfg,
		registry: registry,
		broker:   brk,
		book:     NewPositionBook(),
		metrics:  metrics,
		reports:  reports,
		tasks:    make(map[schema.SymbolID]*symbolTask),
	}
	for i := 0; i < registry.SymbolCount(); i++ {
		symbol, ok := registry.SymbolAt(i)
		if !ok {
			continue
		}
		m.tasks[symbol.ID] = &symbolTask{
			symbol: symbol,
			quotes: quotes.Subscribe(symbol.ID),
			fills:  make(chan model.Fill, cfg.FillBuffer),
			resets: make(chan struct{}, 1),
		}
	}
	return m
}

// State returns the current execution state for a symbol.
func (m *Manager) State(id schema.SymbolID) State {
	task, ok := m.tasks[id]
	if !ok {
		return StateIdle
	}
	return task.getState()
}

// Position returns the current position for a symbol.
func (m *Manager) Position(id schema.SymbolID) model.Position {
	return m.book.Position(id)
}

// Reset requests a manual restart of a halted symbol.
func (m *Manager) Reset(id schema.SymbolID) {
	task, ok := m.tasks[id]
	if !ok {
		return
	}
	select {
	case task.resets <- struct{}{}:
	default:
	}
}

// Run starts the fill router and one task per symbol, blocking until the
// context is canceled and every task has released its channels.
func (m *Manager) Run(ctx context.Context) error {
	if m.running.Swap(true) {
		return nil
	}
	defer m.running.Store(false)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.routeFills(ctx)
	}()
	for _, task := range m.tasks {
		wg.Add(1)
		go func(task *symbolTask) {
			defer wg.Done()
			m.runSymbol(ctx, task)
		}(task)
	}
	wg.Wait()
	return ctx.Err()
}

// routeFills moves broker fill notifications to the owning symbol task, so
// no two goroutines ever touch the same symbol's position.
func (m *Manager) routeFills(ctx context.Context) {
	feed := m.broker.Fills()
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-feed:
			if !ok {
				return
			}
			task, found := m.tasks[fill.SymbolID]
			if !found {
				logs.Warnf("fill for unknown symbol %d dropped", fill.SymbolID)
				continue
			}
			select {
			case task.fills <- fill:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (m *Manager) runSymbol(ctx context.Context, task *symbolTask) {
	for {
		// Fills take priority: position truth before the next quote action.
		select {
		case fill := <-task.fills:
			m.applyFill(task, fill)
			continue
		default:
		}

		if quote, ok := task.quotes.TryTake(); ok {
			m.onQuote(ctx, task, quote)
			continue
		}

		select {
		case <-ctx.Done():
			m.shutdownSymbol(task)
			return
		case fill := <-task.fills:
			m.applyFill(task, fill)
		case <-task.resets:
			m.applyReset(task)
		case <-task.quotes.Wait():
		}
	}
}

// onQuote drives the symbol state machine for one (freshest) quote. It is
// idempotent for no-op re-quotes: targets within tolerance of the resting
// orders cause no broker call.
func (m *Manager) onQuote(ctx context.Context, task *symbolTask, quote model.Quote) {
	if task.getState() == StateHalted {
		return
	}

	if m.cfg.StaleAfter > 0 && time.Now().UTC().UnixNano()-quote.TsNano > int64(m.cfg.StaleAfter) {
		logs.Warnf("stale quote for %s, pulling resting orders", task.symbol.Name)
		if err := m.cancelResting(ctx, task); err != nil {
			m.halt(task, err)
		}
		return
	}

	if task.getState() == StateQuoting &&
		task.bid != nil && task.ask != nil &&
		m.withinTolerance(task.bid.price, quote.Bid) &&
		m.withinTolerance(task.ask.price, quote.Ask) {
		return
	}

	if err := m.cancelResting(ctx, task); err != nil {
		m.halt(task, err)
		return
	}

	bidID, err := m.submitWithRetry(ctx, task, model.OrderIntent{
		SymbolID: task.symbol.ID,
		Side:     enum.OrderSideBuy,
		Price:    quote.Bid,
		Qty:      m.cfg.Qty,
	})
	if err != nil {
		m.halt(task, err)
		return
	}
	task.bid = &restingOrder{id: bidID, price: quote.Bid}
	m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportOrderSubmitted, State: task.getState(), OrderID: uint64(bidID)})

	askID, err := m.submitWithRetry(ctx, task, model.OrderIntent{
		SymbolID: task.symbol.ID,
		Side:     enum.OrderSideSell,
		Price:    quote.Ask,
		Qty:      m.cfg.Qty,
	})
	if err != nil {
		m.halt(task, err)
		return
	}
	task.ask = &restingOrder{id: askID, price: quote.Ask}
	m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportOrderSubmitted, State: task.getState(), OrderID: uint64(askID)})

	if task.getState() != StateQuoting {
		m.transition(task, StateQuoting)
	}
}

func (m *Manager) applyFill(task *symbolTask, fill model.Fill) {
	position := m.book.ApplyFill(fill)
	if task.bid != nil && uint64(task.bid.id) == fill.OrderID {
		task.bid = nil
	}
	if task.ask != nil && uint64(task.ask.id) == fill.OrderID {
		task.ask = nil
	}
	m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportFill, State: task.getState(), OrderID: fill.OrderID, Position: position})
}

func (m *Manager) applyReset(task *symbolTask) {
	if task.getState() != StateHalted {
		return
	}
	task.bid = nil
	task.ask = nil
	m.transition(task, StateIdle)
}

func (m *Manager) cancelResting(ctx context.Context, task *symbolTask) error {
	for _, resting := range []**restingOrder{&task.bid, &task.ask} {
		order := *resting
		if order == nil {
			continue
		}
		err := m.cancelWithRetry(ctx, task, order.id)
		switch {
		case err == nil, broker.IsUnknownOrder(err):
			// Already gone counts as cancelled: it was filled meanwhile.
			*resting = nil
			m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportOrderCanceled, State: task.getState(), OrderID: uint64(order.id)})
		default:
			return err
		}
	}
	return nil
}

func (m *Manager) submitWithRetry(ctx context.Context, task *symbolTask, intent model.OrderIntent) (broker.OrderID, error) {
	var id broker.OrderID
	err := m.callWithRetry(ctx, task, func(ctx context.Context) error {
		var err error
		id, err = m.broker.SubmitOrder(ctx, intent)
		return err
	})
	return id, err
}

func (m *Manager) cancelWithRetry(ctx context.Context, task *symbolTask, id broker.OrderID) error {
	return m.callWithRetry(ctx, task, func(ctx context.Context) error {
		return m.broker.CancelOrder(ctx, id)
	})
}

// callWithRetry retries transient broker failures with doubling backoff, up
// to the configured budget. It suspends only the calling symbol task.
func (m *Manager) callWithRetry(ctx context.Context, task *symbolTask, call func(context.Context) error) error {
	backoff := m.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := call(ctx)
		m.metrics.ObserveBrokerCall(time.Since(start))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !broker.IsTransient(err) || attempt >= m.cfg.RetryBudget {
			return err
		}
		m.metrics.ObserveBrokerRetry()
		m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportBrokerRetry, State: task.getState(), Err: err})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// halt is the terminal reaction to an unrecoverable broker error. Resting
// orders are pulled best effort; the symbol stays down until Reset.
func (m *Manager) halt(task *symbolTask, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	logs.Errorf("halting %s, err: %+v", task.symbol.Name, err)
	m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportBrokerError, State: StateHalted, Err: err})
	m.metrics.ObserveSymbolHalted()
	task.setState(StateHalted)

	cctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownGrace)
	defer cancel()
	m.pullOrders(cctx, task)
}

// shutdownSymbol completes the task's broker obligations before exiting so
// no orders are orphaned.
func (m *Manager) shutdownSymbol(task *symbolTask) {
	cctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownGrace)
	defer cancel()
	m.pullOrders(cctx, task)
}

// pullOrders cancels resting orders without retries; errors are logged only.
func (m *Manager) pullOrders(ctx context.Context, task *symbolTask) {
	for _, resting := range []**restingOrder{&task.bid, &task.ask} {
		order := *resting
		if order == nil {
			continue
		}
		if err := m.broker.CancelOrder(ctx, order.id); err != nil && !broker.IsUnknownOrder(err) {
			logs.Errorf("pull order %d for %s, err: %+v", order.id, task.symbol.Name, err)
			continue
		}
		*resting = nil
	}
}

func (m *Manager) transition(task *symbolTask, next State) {
	task.setState(next)
	m.report(Report{TsNano: nowNano(), SymbolID: task.symbol.ID, Kind: ReportStateChange, State: next})
}

func (m *Manager) withinTolerance(a, b model.Price) bool {
	diff := int64(a) - int64(b)
	if diff < 0 {
		diff = -diff
	}
	return diff <= int64(m.cfg.Tolerance)
}

func (m *Manager) report(r Report) {
	if m.reports == nil {
		return
	}
	if err := m.reports.TryPublish(r); err != nil {
		m.metrics.ObserveReportDropped()
	}
}

func nowNano() int64 {
	return time.Now().UTC().UnixNano()
}

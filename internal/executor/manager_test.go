package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/schema"
)

// scriptedBroker is a deterministic Broker stub: errors are queued per
// symbol and popped per call, delays are per symbol.
type scriptedBroker struct {
	mu        sync.Mutex
	nextID    broker.OrderID
	resting   map[broker.OrderID]model.OrderIntent
	submitted []model.OrderIntent
	canceled  []broker.OrderID
	errQueue  map[schema.SymbolID][]error
	delay     map[schema.SymbolID]time.Duration
	fills     chan model.Fill
}

func newScriptedBroker() *scriptedBroker {
	return &scriptedBroker{
		resting:  make(map[broker.OrderID]model.OrderIntent),
		errQueue: make(map[schema.SymbolID][]error),
		delay:    make(map[schema.SymbolID]time.Duration),
		fills:    make(chan model.Fill, 16),
	}
}

func (b *scriptedBroker) queueErr(id schema.SymbolID, errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errQueue[id] = append(b.errQueue[id], errs...)
}

func (b *scriptedBroker) popErr(id schema.SymbolID) error {
	queue := b.errQueue[id]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	b.errQueue[id] = queue[1:]
	return err
}

func (b *scriptedBroker) SubmitOrder(ctx context.Context, intent model.OrderIntent) (broker.OrderID, error) {
	b.mu.Lock()
	wait := b.delay[intent.SymbolID]
	b.mu.Unlock()
	if wait > 0 {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(wait):
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.popErr(intent.SymbolID); err != nil {
		return 0, err
	}
	b.nextID++
	b.resting[b.nextID] = intent
	b.submitted = append(b.submitted, intent)
	return b.nextID, nil
}

func (b *scriptedBroker) CancelOrder(ctx context.Context, id broker.OrderID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	intent, ok := b.resting[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, broker.ErrUnknownOrder)
	}
	if err := b.popErr(intent.SymbolID); err != nil {
		return err
	}
	delete(b.resting, id)
	b.canceled = append(b.canceled, id)
	return nil
}

func (b *scriptedBroker) Position(ctx context.Context, id schema.SymbolID) (model.Position, error) {
	return model.Position{SymbolID: id}, nil
}

func (b *scriptedBroker) Fills() <-chan model.Fill {
	return b.fills
}

func (b *scriptedBroker) restingBySide(id schema.SymbolID) map[enum.OrderSide][]model.OrderIntent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[enum.OrderSide][]model.OrderIntent)
	for _, intent := range b.resting {
		if intent.SymbolID == id {
			out[intent.Side] = append(out[intent.Side], intent)
		}
	}
	return out
}

func (b *scriptedBroker) restingIDs(id schema.SymbolID) []broker.OrderID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broker.OrderID
	for orderID, intent := range b.resting {
		if intent.SymbolID == id {
			out = append(out, orderID)
		}
	}
	return out
}

func (b *scriptedBroker) submittedCount(id schema.SymbolID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, intent := range b.submitted {
		if intent.SymbolID == id {
			n++
		}
	}
	return n
}

type managerFixture struct {
	registry *schema.Registry
	quotes   *bus.Board[model.Quote]
	broker   *scriptedBroker
	manager  *Manager
	metrics  *obs.Metrics
}

func newManagerFixture(t *testing.T, cfg Config, names ...string) *managerFixture {
	t.Helper()
	registry := schema.NewRegistry()
	for _, name := range names {
		_, err := registry.AddSymbol(name, schema.ScaleSpec{PriceScale: 4})
		require.NoError(t, err)
	}
	quotes := bus.NewBoard[model.Quote]()
	stub := newScriptedBroker()
	metrics := obs.NewMetrics()
	manager := NewManager(registry, stub, quotes, bus.NewQueue[Report](256), metrics, cfg)
	return &managerFixture{
		registry: registry,
		quotes:   quotes,
		broker:   stub,
		manager:  manager,
		metrics:  metrics,
	}
}

func (f *managerFixture) start(t *testing.T) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.manager.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("manager did not stop")
		}
	})
	return cancel
}

func (f *managerFixture) waitState(t *testing.T, id schema.SymbolID, want State) {
	t.Helper()
	require.Eventuallyf(t, func() bool {
		return f.manager.State(id) == want
	}, 2*time.Second, time.Millisecond, "symbol %d never reached %s", id, want)
}

func TestFirstQuoteMovesIdleToQuoting(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1}, "AAA")
	require.Equal(t, StateIdle, f.manager.State(1))
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)

	bySide := f.broker.restingBySide(1)
	require.Len(t, bySide[enum.OrderSideBuy], 1)
	require.Len(t, bySide[enum.OrderSideSell], 1)
	assert.Equal(t, model.Price(999_000), bySide[enum.OrderSideBuy][0].Price)
	assert.Equal(t, model.Price(1_001_000), bySide[enum.OrderSideSell][0].Price)
}

func TestRequoteWithinToleranceIsNoOp(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1, Tolerance: 100}, "AAA")
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)
	require.Equal(t, 2, f.broker.submittedCount(1))

	// Within tolerance on both sides: no broker call may happen.
	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_050, Ask: 1_001_050, TsNano: nowNano()})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.broker.submittedCount(1))
	assert.Empty(t, f.broker.canceled)
}

func TestRequoteBeyondToleranceCancelsAndResubmits(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1, Tolerance: 100}, "AAA")
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 1_004_000, Ask: 1_006_000, TsNano: nowNano()})
	require.Eventually(t, func() bool {
		return f.broker.submittedCount(1) == 4
	}, 2*time.Second, time.Millisecond)

	// The old pair is gone: never two outstanding orders per side.
	bySide := f.broker.restingBySide(1)
	require.Len(t, bySide[enum.OrderSideBuy], 1)
	require.Len(t, bySide[enum.OrderSideSell], 1)
	assert.Equal(t, model.Price(1_004_000), bySide[enum.OrderSideBuy][0].Price)
	assert.Equal(t, model.Price(1_006_000), bySide[enum.OrderSideSell][0].Price)
	assert.Len(t, f.broker.canceled, 2)
}

func TestFatalErrorHaltsSymbolOnly(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1}, "AAA", "BBB")
	f.broker.queueErr(1, fmt.Errorf("auth rejected: %w", broker.ErrFatal))
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 100, Ask: 200, TsNano: nowNano()})
	f.quotes.Publish(2, model.Quote{SymbolID: 2, Bid: 100, Ask: 200, TsNano: nowNano()})

	f.waitState(t, 1, StateHalted)
	f.waitState(t, 2, StateQuoting)

	// Further quotes for the halted symbol must not reach the broker.
	submitted := f.broker.submittedCount(1)
	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 300, Ask: 400, TsNano: nowNano()})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, submitted, f.broker.submittedCount(1))
	assert.Equal(t, StateQuoting, f.manager.State(2), "sibling symbol must keep quoting")
	assert.Equal(t, uint64(1), f.metrics.Snapshot().SymbolsHalted)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1, RetryBudget: 3, RetryBackoff: time.Millisecond}, "AAA")
	f.broker.queueErr(1,
		fmt.Errorf("timeout: %w", broker.ErrTransient),
		fmt.Errorf("timeout: %w", broker.ErrTransient),
	)
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 100, Ask: 200, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)

	assert.Equal(t, 2, f.broker.submittedCount(1))
	assert.GreaterOrEqual(t, f.metrics.Snapshot().BrokerRetries, uint64(2))
}

func TestRetryBudgetExhaustedHalts(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1, RetryBudget: 1, RetryBackoff: time.Millisecond}, "AAA")
	f.broker.queueErr(1,
		fmt.Errorf("timeout: %w", broker.ErrTransient),
		fmt.Errorf("timeout: %w", broker.ErrTransient),
		fmt.Errorf("timeout: %w", broker.ErrTransient),
	)
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 100, Ask: 200, TsNano: nowNano()})
	f.waitState(t, 1, StateHalted)
}

func TestFillUpdatesPositionAndStaysQuoting(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 3}, "AAA")
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)

	bySide := f.broker.restingBySide(1)
	require.Len(t, bySide[enum.OrderSideBuy], 1)
	ids := f.broker.restingIDs(1)
	require.Len(t, ids, 2)

	f.broker.fills <- model.Fill{
		OrderID:  uint64(ids[0]),
		SymbolID: 1,
		Side:     enum.OrderSideBuy,
		Price:    999_000,
		Qty:      3,
		TsNano:   nowNano(),
	}
	require.Eventually(t, func() bool {
		return f.manager.Position(1).Qty == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateQuoting, f.manager.State(1))
	assert.Equal(t, model.Price(999_000), f.manager.Position(1).AvgCost)
}

func TestResetRestartsHaltedSymbol(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1}, "AAA")
	f.broker.queueErr(1, fmt.Errorf("auth rejected: %w", broker.ErrFatal))
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 100, Ask: 200, TsNano: nowNano()})
	f.waitState(t, 1, StateHalted)

	f.manager.Reset(1)
	f.waitState(t, 1, StateIdle)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 100, Ask: 200, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)
}

func TestShutdownPullsRestingOrders(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1}, "AAA")
	cancel := f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)
	require.Len(t, f.broker.restingIDs(1), 2)

	cancel()
	require.Eventually(t, func() bool {
		return len(f.broker.restingIDs(1)) == 0
	}, 2*time.Second, time.Millisecond, "resting orders must be cancelled on shutdown, not orphaned")
}

func TestStaleQuotePullsOrders(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1, StaleAfter: 50 * time.Millisecond}, "AAA")
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano()})
	f.waitState(t, 1, StateQuoting)
	require.Len(t, f.broker.restingIDs(1), 2)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 999_000, Ask: 1_001_000, TsNano: nowNano() - int64(time.Second)})
	require.Eventually(t, func() bool {
		return len(f.broker.restingIDs(1)) == 0
	}, 2*time.Second, time.Millisecond)
}

func TestSlowBrokerForOneSymbolDoesNotBlockAnother(t *testing.T) {
	f := newManagerFixture(t, Config{Qty: 1}, "AAA", "BBB")
	f.broker.mu.Lock()
	f.broker.delay[1] = 300 * time.Millisecond
	f.broker.mu.Unlock()
	f.start(t)

	f.quotes.Publish(1, model.Quote{SymbolID: 1, Bid: 100, Ask: 200, TsNano: nowNano()})
	f.quotes.Publish(2, model.Quote{SymbolID: 2, Bid: 100, Ask: 200, TsNano: nowNano()})

	start := time.Now()
	f.waitState(t, 2, StateQuoting)
	assert.Less(t, time.Since(start), 200*time.Millisecond, "BBB must not wait behind AAA's slow broker")
}

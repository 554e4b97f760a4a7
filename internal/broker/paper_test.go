package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
)

func TestPaperSubmitAndCancel(t *testing.T) {
	p := NewPaper(PaperConfig{})

	id, err := p.SubmitOrder(t.Context(), model.OrderIntent{
		SymbolID: 1, Side: enum.OrderSideBuy, Price: 999_000, Qty: 2,
	})
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, 1, p.RestingCount(1))

	require.NoError(t, p.CancelOrder(t.Context(), id))
	assert.Equal(t, 0, p.RestingCount(1))

	err = p.CancelOrder(t.Context(), id)
	require.Error(t, err)
	assert.True(t, IsUnknownOrder(err))
}

func TestPaperRejectsNonPositiveQty(t *testing.T) {
	p := NewPaper(PaperConfig{})

	_, err := p.SubmitOrder(t.Context(), model.OrderIntent{SymbolID: 1, Side: enum.OrderSideBuy, Price: 100, Qty: 0})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestPaperAutoFillUpdatesPosition(t *testing.T) {
	p := NewPaper(PaperConfig{AutoFill: true})

	id, err := p.SubmitOrder(t.Context(), model.OrderIntent{
		SymbolID: 7, Side: enum.OrderSideBuy, Price: 1_001_000, Qty: 5,
	})
	require.NoError(t, err)

	select {
	case fill := <-p.Fills():
		assert.Equal(t, uint64(id), fill.OrderID)
		assert.Equal(t, model.Price(1_001_000), fill.Price)
		assert.Equal(t, model.Quantity(5), fill.Qty)
	case <-time.After(time.Second):
		t.Fatal("no fill emitted")
	}

	assert.Equal(t, 0, p.RestingCount(7), "filled order must not rest")
	position, err := p.Position(t.Context(), 7)
	require.NoError(t, err)
	assert.Equal(t, model.Quantity(5), position.Qty)
}

func TestPaperManualFillNetsSides(t *testing.T) {
	p := NewPaper(PaperConfig{})

	buy, err := p.SubmitOrder(t.Context(), model.OrderIntent{SymbolID: 1, Side: enum.OrderSideBuy, Price: 100, Qty: 4})
	require.NoError(t, err)
	sell, err := p.SubmitOrder(t.Context(), model.OrderIntent{SymbolID: 1, Side: enum.OrderSideSell, Price: 200, Qty: 1})
	require.NoError(t, err)

	require.True(t, p.Fill(buy))
	require.True(t, p.Fill(sell))
	assert.False(t, p.Fill(buy), "a filled order cannot fill twice")

	position, err := p.Position(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, model.Quantity(3), position.Qty)
}

func TestPaperInjectedErrorPerSymbol(t *testing.T) {
	p := NewPaper(PaperConfig{})
	injected := fmt.Errorf("venue down: %w", ErrTransient)
	p.InjectError(2, injected)

	_, err := p.SubmitOrder(t.Context(), model.OrderIntent{SymbolID: 2, Side: enum.OrderSideBuy, Price: 100, Qty: 1})
	require.ErrorIs(t, err, ErrTransient)

	// Other symbols are unaffected.
	_, err = p.SubmitOrder(t.Context(), model.OrderIntent{SymbolID: 3, Side: enum.OrderSideBuy, Price: 100, Qty: 1})
	require.NoError(t, err)

	p.InjectError(2, nil)
	_, err = p.SubmitOrder(t.Context(), model.OrderIntent{SymbolID: 2, Side: enum.OrderSideBuy, Price: 100, Qty: 1})
	require.NoError(t, err)
}

func TestPaperLatencyRespectsContext(t *testing.T) {
	p := NewPaper(PaperConfig{Latency: time.Second})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.SubmitOrder(ctx, model.OrderIntent{SymbolID: 1, Side: enum.OrderSideBuy, Price: 100, Qty: 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

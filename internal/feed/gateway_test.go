package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/schema"
)

func TestHubBroadcastReachesEverySubscriber(t *testing.T) {
	h := newHub()
	a := h.subscribe(4)
	b := h.subscribe(4)
	require.Equal(t, 2, h.count())

	h.broadcast([]byte("frame"))
	assert.Equal(t, []byte("frame"), <-a.ch)
	assert.Equal(t, []byte("frame"), <-b.ch)
}

func TestHubBroadcastNeverBlocksOnFullSubscriber(t *testing.T) {
	h := newHub()
	slow := h.subscribe(1)
	fast := h.subscribe(4)

	h.broadcast([]byte("one"))
	h.broadcast([]byte("two")) // slow's buffer is full, frame is dropped

	assert.Equal(t, []byte("one"), <-slow.ch)
	select {
	case frame := <-slow.ch:
		t.Fatalf("expected dropped frame, got %q", frame)
	default:
	}

	assert.Equal(t, []byte("one"), <-fast.ch)
	assert.Equal(t, []byte("two"), <-fast.ch)
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	h := newHub()
	sub := h.subscribe(1)
	h.unsubscribe(sub)
	h.unsubscribe(sub) // double close must not panic
	assert.Equal(t, 0, h.count())

	_, open := <-sub.ch
	assert.False(t, open)
}

func TestEncodeTickWireFormat(t *testing.T) {
	symbol := schema.Symbol{ID: 1, Name: "AAA", Scale: schema.ScaleSpec{PriceScale: 4}}
	frame := encodeTick(symbol, model.PriceTick{
		SymbolID: 1,
		Price:    1_000_000,
		TsNano:   1_700_000_000_123_000_000,
	})
	assert.JSONEq(t, `{"symbol":"AAA","price":"100.0000","timestamp":1700000000123}`, string(frame))
}

func TestEncodeQuoteWireFormat(t *testing.T) {
	symbol := schema.Symbol{ID: 2, Name: "BBB", Scale: schema.ScaleSpec{PriceScale: 4}}
	frame := encodeQuote(symbol, model.Quote{
		SymbolID: 2,
		Bid:      999_000,
		Ask:      1_001_000,
		TsNano:   1_700_000_000_123_000_000,
	})
	assert.JSONEq(t, `{"symbol":"BBB","bid":"99.9000","ask":"100.1000","timestamp":1700000000123}`, string(frame))
}

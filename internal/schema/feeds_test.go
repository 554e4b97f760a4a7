package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, name := range names {
		_, err := reg.AddSymbol(name, ScaleSpec{PriceScale: 4})
		require.NoError(t, err)
	}
	return reg
}

func TestChannelPlanFixture(t *testing.T) {
	reg := buildRegistry(t, "AAA", "BBB")
	plan, err := NewChannelPlan(reg, 13140, 13399)
	require.NoError(t, err)

	expected := map[string]map[FeedKind]int{
		"AAA": {FeedTick: 13140, FeedQuote: 13141},
		"BBB": {FeedTick: 13142, FeedQuote: 13143},
	}
	for name, kinds := range expected {
		for kind, port := range kinds {
			addr, err := plan.ResolveName(name, kind)
			require.NoError(t, err)
			assert.Equalf(t, port, addr.Port, "%s %s", name, kind)
		}
	}
}

func TestChannelPlanDeterminism(t *testing.T) {
	build := func() []ChannelAddress {
		reg := buildRegistry(t, "AAA", "BBB", "CCC")
		plan, err := NewChannelPlan(reg, 14000, 14100)
		require.NoError(t, err)
		return plan.Addresses()
	}
	assert.Equal(t, build(), build())
}

func TestChannelPlanUnknownSymbol(t *testing.T) {
	reg := buildRegistry(t, "AAA")
	plan, err := NewChannelPlan(reg, 13140, 13399)
	require.NoError(t, err)

	_, err = plan.ResolveName("ZZZ", FeedTick)
	require.ErrorIs(t, err, ErrUnknownSymbol)

	_, err = plan.Resolve(42, FeedQuote)
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestChannelPlanAddressExhaustion(t *testing.T) {
	// Two ports per symbol: three symbols fit exactly in [13140, 13145].
	reg := buildRegistry(t, "AAA", "BBB", "CCC")
	_, err := NewChannelPlan(reg, 13140, 13145)
	require.NoError(t, err)

	reg = buildRegistry(t, "AAA", "BBB", "CCC", "DDD")
	_, err = NewChannelPlan(reg, 13140, 13145)
	require.ErrorIs(t, err, ErrAddressExhaustion)
}

func TestChannelPlanInvalidRange(t *testing.T) {
	reg := buildRegistry(t, "AAA")
	_, err := NewChannelPlan(reg, 2000, 1000)
	require.ErrorIs(t, err, ErrAddressExhaustion)
}

func TestChannelPlanEndpoint(t *testing.T) {
	reg := buildRegistry(t, "AAA")
	plan, err := NewChannelPlan(reg, 13140, 13399)
	require.NoError(t, err)

	addr, err := plan.ResolveName("AAA", FeedQuote)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:13141", addr.Endpoint("127.0.0.1"))
}

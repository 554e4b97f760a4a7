package schema

import "fmt"

// FeedKind identifies which of a symbol's two channels an address refers to.
type FeedKind uint8

const (
	_feed_kind_beg FeedKind = iota
	FeedTick
	FeedQuote
	_feed_kind_end
)

func (k FeedKind) IsAvailable() bool {
	return k > _feed_kind_beg && k < _feed_kind_end
}

func (k FeedKind) String() string {
	switch k {
	case FeedTick:
		return "tick-feed"
	case FeedQuote:
		return "quote-feed"
	default:
		return "unknown"
	}
}

// feedsPerSymbol is the documented addressing bound: one tick-feed and one
// quote-feed endpoint per symbol.
const feedsPerSymbol = 2

// ChannelAddress binds a (symbol, kind) pair to its network endpoint.
// Addresses are assigned once at startup and never change.
type ChannelAddress struct {
	SymbolID SymbolID
	Kind     FeedKind
	Port     int
}

// Endpoint renders the address as host:port on the given host.
func (a ChannelAddress) Endpoint(host string) string {
	return fmt.Sprintf("%s:%d", host, a.Port)
}

// ChannelPlan is the deterministic (symbol, kind) -> endpoint mapping.
// Given the same ordered symbol list and base port it always produces the
// same assignment, which is what lets independently started processes agree
// on addressing without a discovery step.
type ChannelPlan struct {
	registry *Registry
	basePort int
}

// NewChannelPlan assigns ports to every (symbol, kind) pair of the registry.
// Symbol index i gets basePort+2i for its tick-feed and basePort+2i+1 for
// its quote-feed. It returns ErrAddressExhaustion when [basePort, maxPort]
// cannot hold 2 ports per symbol.
func NewChannelPlan(registry *Registry, basePort, maxPort int) (*ChannelPlan, error) {
	if registry == nil || registry.SymbolCount() == 0 {
		return nil, fmt.Errorf("registry has no symbols")
	}
	if basePort <= 0 || basePort > maxPort {
		return nil, fmt.Errorf("invalid port range [%d, %d]: %w", basePort, maxPort, ErrAddressExhaustion)
	}
	highest := basePort + feedsPerSymbol*registry.SymbolCount() - 1
	if highest > maxPort {
		return nil, fmt.Errorf("%d symbols need ports up to %d, max is %d: %w",
			registry.SymbolCount(), highest, maxPort, ErrAddressExhaustion)
	}
	return &ChannelPlan{registry: registry, basePort: basePort}, nil
}

// Resolve returns the channel address for a (symbol, kind) pair.
func (p *ChannelPlan) Resolve(id SymbolID, kind FeedKind) (ChannelAddress, error) {
	if _, ok := p.registry.Symbol(id); !ok {
		return ChannelAddress{}, fmt.Errorf("symbol id %d: %w", id, ErrUnknownSymbol)
	}
	if !kind.IsAvailable() {
		return ChannelAddress{}, fmt.Errorf("feed kind %d is invalid", kind)
	}
	offset := feedsPerSymbol * (int(id) - 1)
	if kind == FeedQuote {
		offset++
	}
	return ChannelAddress{SymbolID: id, Kind: kind, Port: p.basePort + offset}, nil
}

// ResolveName resolves by symbol name instead of ID.
func (p *ChannelPlan) ResolveName(name string, kind FeedKind) (ChannelAddress, error) {
	id, ok := p.registry.SymbolIDByName(name)
	if !ok {
		return ChannelAddress{}, fmt.Errorf("symbol %q: %w", name, ErrUnknownSymbol)
	}
	return p.Resolve(id, kind)
}

// Addresses returns every assigned channel address, ordered by port.
func (p *ChannelPlan) Addresses() []ChannelAddress {
	out := make([]ChannelAddress, 0, feedsPerSymbol*p.registry.SymbolCount())
	for i := 0; i < p.registry.SymbolCount(); i++ {
		symbol, ok := p.registry.SymbolAt(i)
		if !ok {
			continue
		}
		for _, kind := range []FeedKind{FeedTick, FeedQuote} {
			addr, err := p.Resolve(symbol.ID, kind)
			if err != nil {
				continue
			}
			out = append(out, addr)
		}
	}
	return out
}

// Registry returns the symbol registry the plan was built from.
func (p *ChannelPlan) Registry() *Registry {
	return p.registry
}

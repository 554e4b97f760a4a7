package schema

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSymbol     = errors.New("symbol not in configured set")
	ErrAddressExhaustion = errors.New("port range exhausted for symbol count")
)

// Scale is the number of decimal places used by a scaled integer.
// Example: Scale=4 means the integer value is scaled by 1e4.
type Scale int32

// ScaleSpec defines scaling for the numeric fields of a symbol.
type ScaleSpec struct {
	PriceScale    Scale `json:"priceScale"`
	QuantityScale Scale `json:"quantityScale"`
}

// SymbolID is the numeric identifier for a symbol. IDs are assigned in
// registration order starting from 1; 0 is never a valid ID.
type SymbolID uint32

// Symbol describes a tradable instrument.
type Symbol struct {
	ID    SymbolID
	Name  string
	Scale ScaleSpec
}

// Registry stores symbol mappings in a compact form. It is immutable once
// the supervisor finishes startup, so lookups need no locking.
type Registry struct {
	symbols      []Symbol
	symbolByName map[string]SymbolID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		symbolByName: make(map[string]SymbolID),
	}
}

// AddSymbol registers a new symbol and returns its ID.
func (r *Registry) AddSymbol(name string, scale ScaleSpec) (SymbolID, error) {
	if name == "" {
		return 0, fmt.Errorf("symbol name is empty")
	}
	if id, ok := r.symbolByName[name]; ok {
		return id, fmt.Errorf("symbol already exists: %s", name)
	}
	id := SymbolID(len(r.symbols) + 1)
	r.symbols = append(r.symbols, Symbol{
		ID:    id,
		Name:  name,
		Scale: scale,
	})
	r.symbolByName[name] = id
	return id, nil
}

// Symbol returns the symbol by ID.
func (r *Registry) Symbol(id SymbolID) (Symbol, bool) {
	if id == 0 || int(id) > len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[id-1], true
}

// SymbolIDByName returns the symbol ID for a name.
func (r *Registry) SymbolIDByName(name string) (SymbolID, bool) {
	id, ok := r.symbolByName[name]
	return id, ok
}

// SymbolCount returns the number of symbols in the registry.
func (r *Registry) SymbolCount() int {
	return len(r.symbols)
}

// SymbolAt returns the symbol by zero-based index.
func (r *Registry) SymbolAt(index int) (Symbol, bool) {
	if index < 0 || index >= len(r.symbols) {
		return Symbol{}, false
	}
	return r.symbols[index], true
}

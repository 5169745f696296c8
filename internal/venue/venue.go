// Package venue holds the snapshot sources the aggregator reads from.
package venue

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"book-aggregator/internal/core"
)

// Source returns the current ask and bid ladders of one venue. Asks must be
// sorted ascending and bids descending by price. Failures should be
// *core.Error values; anything else is treated as the venue being unavailable.
type Source interface {
	Name() string
	FetchOrderBook(ctx context.Context, pair core.CurrencyPair) (core.Snapshot, error)
}

// TickerSource is implemented by venues that publish best bid/ask. An
// empty pairs list asks for every listed pair.
type TickerSource interface {
	Tickers(ctx context.Context, pairs []core.CurrencyPair) ([]core.Ticker, error)
}

// MarketLister is implemented by venues that publish their listed pairs.
type MarketLister interface {
	Markets(ctx context.Context) ([]core.Market, error)
}

// Pinger is implemented by venues with a cheap connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NormalizeName folds a venue name onto its registry key. Venue names are
// case-insensitive.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Registry maps venue names to sources and remembers registration order.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	order   []string
}

func NewRegistry(sources ...Source) (*Registry, error) {
	r := &Registry{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(s Source) error {
	if s == nil {
		return fmt.Errorf("venue source is nil")
	}
	name := s.Name()
	key := NormalizeName(name)
	if key == "" {
		return fmt.Errorf("venue source has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[key]; ok {
		return fmt.Errorf("venue %s already registered", name)
	}
	r.sources[key] = s
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Lookup(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[NormalizeName(name)]
	return s, ok
}

// Names lists registered venues in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

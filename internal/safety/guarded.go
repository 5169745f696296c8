package safety

import (
	"context"
	"errors"

	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// GuardedSource wraps a venue source with its circuit. Only availability
// failures count against the venue; an unsupported pair is a healthy answer.
type GuardedSource struct {
	inner   venue.Source
	breaker *Breaker
}

func NewGuardedSource(inner venue.Source, breaker *Breaker) *GuardedSource {
	return &GuardedSource{
		inner:   inner,
		breaker: breaker,
	}
}

func (g *GuardedSource) Name() string { return g.inner.Name() }

func (g *GuardedSource) FetchOrderBook(ctx context.Context, pair core.CurrencyPair) (core.Snapshot, error) {
	return guardedCall(ctx, g, func(ctx context.Context) (core.Snapshot, error) {
		return g.inner.FetchOrderBook(ctx, pair)
	})
}

// Tickers forwards to the wrapped source through the same circuit as order
// book fetches.
func (g *GuardedSource) Tickers(ctx context.Context, pairs []core.CurrencyPair) ([]core.Ticker, error) {
	ts, ok := g.inner.(venue.TickerSource)
	if !ok {
		return nil, core.RequestInvalid(g.Name(), "venue does not publish tickers")
	}
	return guardedCall(ctx, g, func(ctx context.Context) ([]core.Ticker, error) {
		return ts.Tickers(ctx, pairs)
	})
}

func (g *GuardedSource) Markets(ctx context.Context) ([]core.Market, error) {
	ml, ok := g.inner.(venue.MarketLister)
	if !ok {
		return nil, core.RequestInvalid(g.Name(), "venue does not list markets")
	}
	return guardedCall(ctx, g, ml.Markets)
}

// Ping bypasses the circuit so readiness reflects the venue itself.
func (g *GuardedSource) Ping(ctx context.Context) error {
	p, ok := g.inner.(venue.Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func guardedCall[T any](ctx context.Context, g *GuardedSource, call func(context.Context) (T, error)) (T, error) {
	name := g.inner.Name()
	if err := g.breaker.Allow(name); err != nil {
		var zero T
		return zero, core.VenueUnavailable(name, err, "circuit open")
	}
	v, err := call(ctx)
	switch {
	case err == nil:
		_ = g.breaker.Record(name, nil)
	case errors.Is(ctx.Err(), context.Canceled):
		// Abandoned by the caller; says nothing about the venue.
	case countsAsFailure(err):
		_ = g.breaker.Record(name, err)
	default:
		_ = g.breaker.Record(name, nil)
	}
	return v, err
}

func countsAsFailure(err error) bool {
	switch core.KindOf(err) {
	case core.KindUnsupportedCurrencyPair, core.KindRequestInvalid:
		return false
	}
	return true
}

// Guard wraps every source in reg with breaker and returns a new registry in
// the same order.
func Guard(reg *venue.Registry, breaker *Breaker) (*venue.Registry, error) {
	out, err := venue.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, name := range reg.Names() {
		src, _ := reg.Lookup(name)
		if err := out.Register(NewGuardedSource(src, breaker)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

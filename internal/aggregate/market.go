package aggregate

import (
	"context"

	"golang.org/x/sync/errgroup"

	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// VenueHealth is one venue's answer to a readiness ping. Err is nil when the
// venue answered or has no check.
type VenueHealth struct {
	Venue string
	Err   *core.Error
}

// Tickers reads best bid/ask from one venue. Empty pairs asks for every
// pair the venue lists.
func (c *Coordinator) Tickers(ctx context.Context, venueName string, pairs []core.CurrencyPair) ([]core.Ticker, error) {
	for _, p := range pairs {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	src, err := c.resolveOne(venueName)
	if err != nil {
		return nil, err
	}
	ts, ok := src.(venue.TickerSource)
	if !ok {
		return nil, core.RequestInvalid(src.Name(), "venue does not publish tickers")
	}
	tickers, err := within(ctx, c.opts.FetchTimeout, func(cctx context.Context) ([]core.Ticker, error) {
		return ts.Tickers(cctx, pairs)
	})
	if err != nil {
		return nil, c.callFailed(ctx, src.Name(), "tickers", err)
	}
	return tickers, nil
}

// Markets lists the pairs one venue trades.
func (c *Coordinator) Markets(ctx context.Context, venueName string) ([]core.Market, error) {
	src, err := c.resolveOne(venueName)
	if err != nil {
		return nil, err
	}
	ml, ok := src.(venue.MarketLister)
	if !ok {
		return nil, core.RequestInvalid(src.Name(), "venue does not list markets")
	}
	markets, err := within(ctx, c.opts.FetchTimeout, ml.Markets)
	if err != nil {
		return nil, c.callFailed(ctx, src.Name(), "markets", err)
	}
	return markets, nil
}

// Ping checks every venue concurrently, in the given order. A venue failing
// its check does not fail the call; only caller cancellation does.
func (c *Coordinator) Ping(ctx context.Context, venues []string) ([]VenueHealth, error) {
	sources, err := c.resolve(venues)
	if err != nil {
		return nil, err
	}
	out := make([]VenueHealth, len(sources))
	g := &errgroup.Group{}
	g.SetLimit(c.opts.MaxInFlight)
	for i, src := range sources {
		i, src := i, src
		out[i].Venue = src.Name()
		p, ok := src.(venue.Pinger)
		if !ok {
			continue
		}
		g.Go(func() error {
			_, err := within(ctx, c.opts.FetchTimeout, func(cctx context.Context) (struct{}, error) {
				return struct{}{}, p.Ping(cctx)
			})
			if err != nil {
				out[i].Err = c.classify(ctx, src.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Coordinator) resolveOne(name string) (venue.Source, error) {
	sources, err := c.resolve([]string{name})
	if err != nil {
		return nil, err
	}
	return sources[0], nil
}

// callFailed types and logs a failed market data call. Caller cancellation
// is returned untouched.
func (c *Coordinator) callFailed(ctx context.Context, name, what string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	cerr := c.classify(ctx, name, err)
	c.logger.Warn().Err(cerr).Str("venue", name).Str("call", what).Msg("market data call failed")
	return cerr
}

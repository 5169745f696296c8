// Package aggregate builds one combined order book out of snapshots fetched
// from several venues.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"book-aggregator/internal/alert"
	"book-aggregator/internal/core"
	"book-aggregator/internal/merge"
	"book-aggregator/internal/metrics"
	"book-aggregator/internal/venue"
)

const (
	defaultMaxInFlight  = 8
	defaultFetchTimeout = 5 * time.Second
)

type Options struct {
	MaxInFlight  int
	FetchTimeout time.Duration
	Policy       core.FailurePolicy
}

// Sources resolves venue names; *venue.Registry implements it.
type Sources interface {
	Lookup(name string) (venue.Source, bool)
}

type Coordinator struct {
	sources Sources
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics
	alerter alert.Alerter
}

func New(sources Sources, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	if opts.Policy == "" {
		opts.Policy = core.PolicyAbort
	}
	return &Coordinator{
		sources: sources,
		opts:    opts,
		logger:  logger.With().Str("component", "aggregate").Logger(),
	}
}

func (c *Coordinator) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

func (c *Coordinator) SetAlerter(a alert.Alerter) {
	c.alerter = a
}

func (c *Coordinator) Policy() core.FailurePolicy {
	return c.opts.Policy
}

type fetchResult struct {
	snapshot core.Snapshot
	err      *core.Error
}

// Aggregate fetches pair from every venue concurrently and merges asks
// ascending and bids descending. The order of venues decides ties at equal
// price, independent of which fetch finishes first.
func (c *Coordinator) Aggregate(ctx context.Context, pair core.CurrencyPair, venues []string) (core.AggregatedOrderBook, error) {
	start := time.Now()
	book, err := c.aggregate(ctx, pair, venues)
	elapsed := time.Since(start)

	outcome := "ok"
	switch {
	case err != nil && core.KindOf(err) != "":
		outcome = string(core.KindOf(err))
	case err != nil:
		outcome = "canceled"
	case len(book.Excluded()) > 0:
		outcome = "partial"
	}
	c.metrics.ObserveAggregation(outcome, elapsed.Seconds())

	if err != nil {
		ev := c.logger.Warn()
		if core.KindOf(err) == core.KindMergeInputInvalid {
			ev = c.logger.Error()
		}
		ev.Err(err).Str("pair", pair.String()).Strs("venues", venues).Dur("elapsed", elapsed).Msg("aggregation failed")
		return core.AggregatedOrderBook{}, err
	}
	c.metrics.ObserveLevels("ask", book.Asks.Len())
	c.metrics.ObserveLevels("bid", book.Bids.Len())
	c.logger.Debug().
		Str("pair", pair.String()).
		Strs("venues", venues).
		Strs("excluded", book.Excluded()).
		Int("asks", book.Asks.Len()).
		Int("bids", book.Bids.Len()).
		Dur("elapsed", elapsed).
		Msg("aggregation complete")
	return book, nil
}

func (c *Coordinator) aggregate(ctx context.Context, pair core.CurrencyPair, venues []string) (core.AggregatedOrderBook, error) {
	if err := pair.Validate(); err != nil {
		return core.AggregatedOrderBook{}, err
	}
	sources, err := c.resolve(venues)
	if err != nil {
		return core.AggregatedOrderBook{}, err
	}

	results, err := c.fetchAll(ctx, sources, pair)
	if err != nil {
		return core.AggregatedOrderBook{}, err
	}

	book := core.AggregatedOrderBook{
		Pair:   pair,
		Venues: make([]core.VenueStatus, len(sources)),
	}
	asks := make([]core.VenueLadder, 0, len(sources))
	bids := make([]core.VenueLadder, 0, len(sources))
	var firstErr *core.Error
	for i, src := range sources {
		r := results[i]
		book.Venues[i] = core.VenueStatus{Venue: src.Name()}
		if r.err != nil {
			book.Venues[i].Excluded = true
			book.Venues[i].Err = r.err
			if firstErr == nil {
				firstErr = r.err
			}
			c.metrics.IncExcluded(src.Name())
			continue
		}
		asks = append(asks, r.snapshot.Asks)
		bids = append(bids, r.snapshot.Bids)
	}
	if len(asks) == 0 && firstErr != nil {
		return core.AggregatedOrderBook{}, firstErr
	}

	if book.Asks, err = merge.Ladders(asks, core.Ascending); err != nil {
		c.reportMergeInvalid(pair, err)
		return core.AggregatedOrderBook{}, err
	}
	if book.Bids, err = merge.Ladders(bids, core.Descending); err != nil {
		c.reportMergeInvalid(pair, err)
		return core.AggregatedOrderBook{}, err
	}
	return book, nil
}

// fetchAll runs one fetch per source with at most MaxInFlight in flight.
// Results are stored by request index. Under PolicyAbort the first failure
// cancels the remaining fetches and is returned.
func (c *Coordinator) fetchAll(ctx context.Context, sources []venue.Source, pair core.CurrencyPair) ([]fetchResult, error) {
	results := make([]fetchResult, len(sources))
	abort := c.opts.Policy != core.PolicyPartial

	var (
		g    *errgroup.Group
		gctx context.Context
	)
	if abort {
		g, gctx = errgroup.WithContext(ctx)
	} else {
		g, gctx = &errgroup.Group{}, ctx
	}
	g.SetLimit(c.opts.MaxInFlight)

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			snap, err := c.fetch(gctx, src, pair)
			if err != nil {
				if abort {
					return err
				}
				results[i] = fetchResult{err: err}
				return nil
			}
			results[i] = fetchResult{snapshot: snap}
			return nil
		})
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Coordinator) fetch(ctx context.Context, src venue.Source, pair core.CurrencyPair) (core.Snapshot, *core.Error) {
	name := src.Name()
	start := time.Now()
	snap, err := within(ctx, c.opts.FetchTimeout, func(fctx context.Context) (core.Snapshot, error) {
		return src.FetchOrderBook(fctx, pair)
	})
	elapsed := time.Since(start)
	if err == nil {
		c.metrics.ObserveFetch(name, elapsed.Seconds(), "")
		c.logger.Debug().Str("venue", name).Str("pair", pair.String()).
			Int("asks", snap.Asks.Len()).Int("bids", snap.Bids.Len()).Dur("elapsed", elapsed).Msg("snapshot fetched")
		return snap, nil
	}

	cerr := c.classify(ctx, name, err)
	if ctx.Err() == nil {
		c.metrics.ObserveFetch(name, elapsed.Seconds(), string(cerr.Kind))
		c.logger.Warn().Err(cerr).Str("venue", name).Str("pair", pair.String()).Dur("elapsed", elapsed).Msg("snapshot fetch failed")
	}
	return core.Snapshot{}, cerr
}

// classify turns a venue call failure into a typed error. Hitting the
// per-call deadline while ctx is still live is VenueUnavailable.
func (c *Coordinator) classify(ctx context.Context, name string, err error) *core.Error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return core.VenueUnavailable(name, err, "fetch timed out after %s", c.opts.FetchTimeout)
	}
	return core.ClassifyFetchError(name, err)
}

type callResult[T any] struct {
	val T
	err error
}

// within runs call with a context bounded by timeout and returns as soon as
// that context ends, whether or not call has. A result delivered after the
// deadline is dropped and the context error is returned instead.
func within[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult[T], 1)
	go func() {
		v, err := call(cctx)
		done <- callResult[T]{val: v, err: err}
	}()

	var zero T
	select {
	case r := <-done:
		if cctx.Err() != nil {
			return zero, cctx.Err()
		}
		return r.val, r.err
	case <-cctx.Done():
		return zero, cctx.Err()
	}
}

// Snapshot fetches a single venue's book and checks its ladders are sorted.
func (c *Coordinator) Snapshot(ctx context.Context, venueName string, pair core.CurrencyPair) (core.Snapshot, error) {
	if err := pair.Validate(); err != nil {
		return core.Snapshot{}, err
	}
	sources, err := c.resolve([]string{venueName})
	if err != nil {
		return core.Snapshot{}, err
	}
	snap, ferr := c.fetch(ctx, sources[0], pair)
	if ferr != nil {
		if ctx.Err() != nil {
			return core.Snapshot{}, ctx.Err()
		}
		return core.Snapshot{}, ferr
	}
	if _, err := merge.Ladders([]core.VenueLadder{snap.Asks}, core.Ascending); err != nil {
		c.reportMergeInvalid(pair, err)
		return core.Snapshot{}, err
	}
	if _, err := merge.Ladders([]core.VenueLadder{snap.Bids}, core.Descending); err != nil {
		c.reportMergeInvalid(pair, err)
		return core.Snapshot{}, err
	}
	return snap, nil
}

func (c *Coordinator) resolve(venues []string) ([]venue.Source, error) {
	if len(venues) == 0 {
		return nil, core.RequestInvalid("", "venue list is empty")
	}
	seen := make(map[string]struct{}, len(venues))
	out := make([]venue.Source, 0, len(venues))
	for _, raw := range venues {
		name := venue.NormalizeName(raw)
		if _, dup := seen[name]; dup {
			return nil, core.RequestInvalid(name, "venue requested more than once")
		}
		seen[name] = struct{}{}
		src, ok := c.sources.Lookup(name)
		if !ok {
			return nil, core.RequestInvalid(name, "unknown venue")
		}
		out = append(out, src)
	}
	return out, nil
}

func (c *Coordinator) reportMergeInvalid(pair core.CurrencyPair, err error) {
	if c.alerter == nil {
		return
	}
	fields := map[string]string{
		"pair":  pair.String(),
		"error": err.Error(),
	}
	if e, ok := core.AsError(err); ok {
		fields["venue"] = e.Venue
	}
	c.alerter.Important("merge_input_invalid", fields)
}

package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
	"book-aggregator/internal/metrics"
	"book-aggregator/internal/venue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type alertSpy struct {
	mu     sync.Mutex
	events []string
}

func (a *alertSpy) Important(event string, fields map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func newTestBreaker(maxFailures, probePasses int) (*Breaker, *fakeClock) {
	b := NewBreaker(config.CircuitBreakerConfig{
		Enabled:     true,
		MaxFailures: maxFailures,
		CooldownSec: 30,
		ProbePasses: probePasses,
	}, zerolog.Nop())
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b.now = clock.Now
	return b, clock
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(2, 1)
	spy := &alertSpy{}
	b.SetAlerter(spy)
	m := metrics.New()
	b.SetMetrics(m)

	if err := b.Record("binance", errors.New("timeout 1")); err != nil {
		t.Fatalf("Record(first) error = %v, want nil", err)
	}
	tripErr := b.Record("binance", errors.New("timeout 2"))
	if !errors.Is(tripErr, ErrCircuitOpen) {
		t.Fatalf("Record(second) error = %v, want ErrCircuitOpen", tripErr)
	}
	if err := b.Allow("binance"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() error = %v, want ErrCircuitOpen while cooling down", err)
	}
	if rem := b.CooldownRemaining("binance"); rem != 30*time.Second {
		t.Fatalf("CooldownRemaining() = %s, want 30s", rem)
	}
	if err := b.Allow("luno"); err != nil {
		t.Fatalf("Allow(luno) error = %v, circuits must be per venue", err)
	}
	if len(spy.events) != 1 || spy.events[0] != "circuit_breaker_trip" {
		t.Fatalf("alerts = %v", spy.events)
	}
	if got := testutil.ToFloat64(m.CircuitTripsTotal.WithLabelValues("binance")); got != 1 {
		t.Fatalf("circuit trips = %v, want 1", got)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, 1)
	_ = b.Record("luno", errors.New("boom"))
	_ = b.Record("luno", nil)
	if err := b.Record("luno", errors.New("boom")); err != nil {
		t.Fatalf("Record() error = %v, want nil after reset", err)
	}
	if b.State("luno") != CircuitClosed {
		t.Fatalf("State() = %s, want closed", b.State("luno"))
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b, clock := newTestBreaker(1, 2)
	_ = b.Record("binance", errors.New("dial failed"))

	clock.Advance(31 * time.Second)
	if err := b.Allow("binance"); err != nil {
		t.Fatalf("Allow(after cooldown) error = %v, want nil", err)
	}
	if b.State("binance") != CircuitHalfOpen {
		t.Fatalf("State() = %s, want half_open", b.State("binance"))
	}
	_ = b.Record("binance", nil)
	if b.State("binance") != CircuitHalfOpen {
		t.Fatalf("one trial pass of two should keep the circuit half-open")
	}
	_ = b.Record("binance", nil)
	if b.State("binance") != CircuitClosed {
		t.Fatalf("State() = %s, want closed after trial passes", b.State("binance"))
	}
	if rem := b.CooldownRemaining("binance"); rem != 0 {
		t.Fatalf("CooldownRemaining() = %s, want 0 after recovery", rem)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(3, 1)
	for i := 0; i < 3; i++ {
		_ = b.Record("binance", errors.New("dial failed"))
	}
	clock.Advance(31 * time.Second)
	if err := b.Allow("binance"); err != nil {
		t.Fatalf("Allow(after cooldown) error = %v, want nil", err)
	}
	if err := b.Record("binance", errors.New("trial request failed")); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Record(half-open failure) error = %v, want ErrCircuitOpen", err)
	}
	if err := b.Allow("binance"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() error = %v, want ErrCircuitOpen after re-open", err)
	}
}

func TestDisabledBreakerIsTransparent(t *testing.T) {
	b := NewBreaker(config.CircuitBreakerConfig{Enabled: false, MaxFailures: 1}, zerolog.Nop())
	for i := 0; i < 5; i++ {
		if err := b.Record("x", errors.New("boom")); err != nil {
			t.Fatalf("Record() error = %v on disabled breaker", err)
		}
	}
	if err := b.Allow("x"); err != nil {
		t.Fatalf("Allow() error = %v on disabled breaker", err)
	}
	var nilBreaker *Breaker
	if err := nilBreaker.Allow("x"); err != nil {
		t.Fatalf("nil Allow() error = %v", err)
	}
}

type stubSource struct {
	name  string
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) FetchOrderBook(ctx context.Context, pair core.CurrencyPair) (core.Snapshot, error) {
	s.calls++
	if s.err != nil {
		return core.Snapshot{}, s.err
	}
	return core.NewSnapshot(s.name, pair, nil, nil), nil
}

func TestGuardedSourceFailsFastWhenOpen(t *testing.T) {
	b, _ := newTestBreaker(2, 1)
	inner := &stubSource{name: "binance", err: core.VenueUnavailable("binance", errors.New("503"), "fetch failed")}
	g := NewGuardedSource(inner, b)
	pair := core.CurrencyPair{Base: "BTC", Quote: "USDT"}

	for i := 0; i < 2; i++ {
		if _, err := g.FetchOrderBook(context.Background(), pair); !errors.Is(err, core.ErrVenueUnavailable) {
			t.Fatalf("fetch %d error = %v", i, err)
		}
	}
	_, err := g.FetchOrderBook(context.Background(), pair)
	if !errors.Is(err, core.ErrVenueUnavailable) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit error = %v, want VENUE_UNAVAILABLE wrapping ErrCircuitOpen", err)
	}
	if inner.calls != 2 {
		t.Fatalf("inner calls = %d, want 2; open circuit must not reach the venue", inner.calls)
	}
}

func TestGuardedSourceIgnoresUnsupportedPair(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	pair := core.CurrencyPair{Base: "DOGE", Quote: "ZAR"}
	inner := &stubSource{name: "luno", err: core.UnsupportedCurrencyPair("luno", pair)}
	g := NewGuardedSource(inner, b)

	for i := 0; i < 3; i++ {
		if _, err := g.FetchOrderBook(context.Background(), pair); !errors.Is(err, core.ErrUnsupportedCurrencyPair) {
			t.Fatalf("fetch %d error = %v", i, err)
		}
	}
	if b.State("luno") != CircuitClosed {
		t.Fatalf("State() = %s, unsupported pair must not trip", b.State("luno"))
	}
}

func TestGuardedSourceIgnoresCallerCancellation(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	inner := &stubSource{name: "binance", err: context.Canceled}
	g := NewGuardedSource(inner, b)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _ = g.FetchOrderBook(ctx, core.CurrencyPair{Base: "BTC", Quote: "USDT"})
	if b.State("binance") != CircuitClosed {
		t.Fatalf("State() = %s, cancellation must not trip", b.State("binance"))
	}
}

func TestGuardWrapsRegistryInOrder(t *testing.T) {
	reg, err := venue.NewRegistry(&stubSource{name: "b"}, &stubSource{name: "a"})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	b, _ := newTestBreaker(1, 1)
	guarded, err := Guard(reg, b)
	if err != nil {
		t.Fatalf("Guard() error = %v", err)
	}
	names := guarded.Names()
	if len(names) != 2 || names[0] != "b" || names[1] != "a" {
		t.Fatalf("Names() = %v", names)
	}
	src, _ := guarded.Lookup("a")
	if _, ok := src.(*GuardedSource); !ok {
		t.Fatalf("Lookup() = %T, want *GuardedSource", src)
	}
}

type marketStub struct {
	stubSource
	tickerErr error
	pinged    int
}

func (m *marketStub) Tickers(ctx context.Context, pairs []core.CurrencyPair) ([]core.Ticker, error) {
	m.calls++
	if m.tickerErr != nil {
		return nil, m.tickerErr
	}
	return []core.Ticker{{Venue: m.name, Pair: pairs[0]}}, nil
}

func (m *marketStub) Markets(ctx context.Context) ([]core.Market, error) {
	return []core.Market{{Venue: m.name, Symbol: "BTCUSDT"}}, nil
}

func (m *marketStub) Ping(ctx context.Context) error {
	m.pinged++
	return m.err
}

func TestGuardedSourceForwardsMarketData(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	pair := core.CurrencyPair{Base: "BTC", Quote: "USDT"}
	inner := &marketStub{stubSource: stubSource{name: "binance"}}
	g := NewGuardedSource(inner, b)

	tickers, err := g.Tickers(context.Background(), []core.CurrencyPair{pair})
	if err != nil || len(tickers) != 1 || tickers[0].Pair != pair {
		t.Fatalf("Tickers() = %+v, %v", tickers, err)
	}
	if markets, err := g.Markets(context.Background()); err != nil || len(markets) != 1 {
		t.Fatalf("Markets() = %+v, %v", markets, err)
	}

	inner.tickerErr = core.VenueUnavailable("binance", errors.New("502"), "bookTicker request failed")
	if _, err := g.Tickers(context.Background(), []core.CurrencyPair{pair}); !errors.Is(err, core.ErrVenueUnavailable) {
		t.Fatalf("Tickers() error = %v", err)
	}
	if b.State("binance") != CircuitOpen {
		t.Fatalf("State() = %s, ticker failures count against the venue", b.State("binance"))
	}
	if _, err := g.Markets(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Markets() error = %v, want circuit open", err)
	}

	inner.err = errors.New("down")
	if err := g.Ping(context.Background()); err == nil || inner.pinged != 1 {
		t.Fatalf("Ping() = %v after %d pings, want the venue reached despite the open circuit", err, inner.pinged)
	}
}

func TestGuardedSourceWithoutCapabilities(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	g := NewGuardedSource(&stubSource{name: "replay"}, b)

	if _, err := g.Tickers(context.Background(), nil); !errors.Is(err, core.ErrRequestInvalid) {
		t.Fatalf("Tickers() error = %v, want REQUEST_INVALID", err)
	}
	if _, err := g.Markets(context.Background()); !errors.Is(err, core.ErrRequestInvalid) {
		t.Fatalf("Markets() error = %v, want REQUEST_INVALID", err)
	}
	if err := g.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v, want nil for venues without a check", err)
	}
	if b.State("replay") != CircuitClosed {
		t.Fatalf("missing capabilities must not trip the circuit")
	}
}

func TestBreakerStatesSnapshot(t *testing.T) {
	b, _ := newTestBreaker(1, 1)
	_ = b.Record("binance", errors.New("boom"))
	_ = b.Record("luno", nil)

	states := b.States()
	if states["binance"] != CircuitOpen || states["luno"] != CircuitClosed || len(states) != 2 {
		t.Fatalf("States() = %v", states)
	}
	var nilBreaker *Breaker
	if got := nilBreaker.States(); len(got) != 0 {
		t.Fatalf("nil States() = %v", got)
	}
}

package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
)

func newTestSource(t *testing.T) *Source {
	t.Helper()
	s, err := NewSource(config.VenueConfig{Name: "replay", Kind: config.VenueFile, DataDir: "testdata"})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	return s
}

func TestFetchOrderBookFromFile(t *testing.T) {
	s := newTestSource(t)
	pair := core.CurrencyPair{Base: "BTC", Quote: "USDT"}

	snap, err := s.FetchOrderBook(context.Background(), pair)
	if err != nil {
		t.Fatalf("FetchOrderBook() error = %v", err)
	}
	if snap.Venue != "replay" || snap.Asks.Len() != 2 || snap.Bids.Len() != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := snap.Asks.Entries[1].Quantity.String(); got != "2.25" {
		t.Fatalf("ask quantity = %s, want 2.25", got)
	}
	if got := snap.Bids.Entries[1].Price.String(); got != "99.5" {
		t.Fatalf("numeric bid price = %s, want 99.5", got)
	}
}

func TestFetchOrderBookErrors(t *testing.T) {
	s := newTestSource(t)
	cases := []struct {
		pair core.CurrencyPair
		want error
	}{
		{core.CurrencyPair{Base: "DOGE", Quote: "USDT"}, core.ErrUnsupportedCurrencyPair},
		{core.CurrencyPair{Base: "ETH", Quote: "USDT"}, core.ErrMalformedSnapshot},
		{core.CurrencyPair{Base: "SOL", Quote: "USDT"}, core.ErrMalformedSnapshot},
	}
	for _, tc := range cases {
		_, err := s.FetchOrderBook(context.Background(), tc.pair)
		if !errors.Is(err, tc.want) {
			t.Fatalf("FetchOrderBook(%s) error = %v, want %v", tc.pair, err, tc.want)
		}
		if e, ok := core.AsError(err); !ok || e.Venue != "replay" {
			t.Fatalf("error should name the venue, got %v", err)
		}
	}
}

func TestFetchOrderBookHonoursCancellation(t *testing.T) {
	s := newTestSource(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.FetchOrderBook(ctx, core.CurrencyPair{Base: "BTC", Quote: "USDT"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchOrderBook() error = %v, want context.Canceled", err)
	}
}

func TestNewSourceValidatesDir(t *testing.T) {
	if _, err := NewSource(config.VenueConfig{Name: "x", Kind: config.VenueFile}); err == nil {
		t.Fatalf("NewSource() without data_dir should fail")
	}
	if _, err := NewSource(config.VenueConfig{Name: "x", Kind: config.VenueFile, DataDir: "testdata/BTCUSDT.json"}); err == nil {
		t.Fatalf("NewSource() with a file path should fail")
	}
	if _, err := NewSource(config.VenueConfig{Name: "x", Kind: config.VenueBinance, DataDir: "testdata"}); err == nil {
		t.Fatalf("NewSource() with another kind should fail")
	}
}

func TestWriteSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := newTestSource(t)
	pair := core.CurrencyPair{Base: "BTC", Quote: "USDT"}
	snap, err := src.FetchOrderBook(context.Background(), pair)
	if err != nil {
		t.Fatalf("FetchOrderBook() error = %v", err)
	}

	path, err := WriteSnapshot(dir, snap)
	if err != nil {
		t.Fatalf("WriteSnapshot() error = %v", err)
	}
	if filepath.Base(path) != "BTCUSDT.json" {
		t.Fatalf("path = %s", path)
	}

	replay, err := NewSource(config.VenueConfig{Name: "replay", Kind: config.VenueFile, DataDir: dir})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	got, err := replay.FetchOrderBook(context.Background(), pair)
	if err != nil {
		t.Fatalf("replay FetchOrderBook() error = %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Fatalf("replayed snapshot = %+v, want %+v", got, snap)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("capture dir should hold only the snapshot, got %d entries", len(entries))
	}
}

func TestTickersFromFile(t *testing.T) {
	s := newTestSource(t)
	pair := core.CurrencyPair{Base: "BTC", Quote: "USDT"}

	tickers, err := s.Tickers(context.Background(), []core.CurrencyPair{pair})
	if err != nil {
		t.Fatalf("Tickers() error = %v", err)
	}
	if len(tickers) != 1 {
		t.Fatalf("Tickers() = %+v", tickers)
	}
	tk := tickers[0]
	if tk.Venue != "replay" || tk.Ask.String() != "100.5" || tk.AskQty.String() != "1" || tk.Bid.String() != "100" || tk.Spread().String() != "0.5" {
		t.Fatalf("ticker = %+v", tk)
	}

	if _, err := s.Tickers(context.Background(), nil); !errors.Is(err, core.ErrRequestInvalid) {
		t.Fatalf("Tickers(nil) error = %v, want REQUEST_INVALID", err)
	}
	if _, err := s.Tickers(context.Background(), []core.CurrencyPair{{Base: "DOGE", Quote: "USDT"}}); !errors.Is(err, core.ErrUnsupportedCurrencyPair) {
		t.Fatalf("Tickers(DOGE) error = %v, want UNSUPPORTED_CURRENCY_PAIR", err)
	}
}

func TestPingDataDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSource(config.VenueConfig{Name: "replay", Kind: config.VenueFile, DataDir: dir})
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, core.ErrVenueUnavailable) {
		t.Fatalf("Ping() error = %v, want VENUE_UNAVAILABLE", err)
	}
}

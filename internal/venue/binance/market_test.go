package binance

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"book-aggregator/internal/core"
)

const exchangeInfoBody = `{"timezone":"UTC","symbols":[
	{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
	{"symbol":"ETHBTC","status":"BREAK","baseAsset":"ETH","quoteAsset":"BTC"},
	{"symbol":"X$USDT","status":"TRADING","baseAsset":"X$","quoteAsset":"USDT"}]}`

const bookTickerBody = `[
	{"symbol":"BTCUSDT","bidPrice":"4.00000000","bidQty":"431.00000000","askPrice":"4.00000200","askQty":"9.00000000"},
	{"symbol":"ETHBTC","bidPrice":"0.05","bidQty":"1","askPrice":"0.0501","askQty":"2"},
	{"symbol":"LTCBTC","bidPrice":"0.002","bidQty":"1","askPrice":"0.0021","askQty":"2"}]`

func TestMarkets(t *testing.T) {
	c := newRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(exchangeInfoBody))
	})

	markets, err := c.Markets(context.Background())
	if err != nil {
		t.Fatalf("Markets() error = %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("Markets() = %+v, want the invalid symbol skipped", markets)
	}
	if m := markets[0]; m.Pair != btcusdt || m.Symbol != "BTCUSDT" || !m.Active || m.Venue != "binance" {
		t.Fatalf("markets[0] = %+v", m)
	}
	if markets[1].Active {
		t.Fatalf("ETHBTC in BREAK should not be active")
	}
	if got := core.Currencies(markets); len(got) != 3 || got[0] != "BTC" || got[2] != "USDT" {
		t.Fatalf("Currencies() = %v", got)
	}
}

func TestTickersForPair(t *testing.T) {
	var gotQuery string
	c := newRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/bookTicker" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotQuery = r.URL.Query().Get("symbols")
		_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","bidPrice":"4.00000000","bidQty":"431.00000000","askPrice":"4.00000200","askQty":"9.00000000"}]`))
	})

	tickers, err := c.Tickers(context.Background(), []core.CurrencyPair{btcusdt})
	if err != nil {
		t.Fatalf("Tickers() error = %v", err)
	}
	if gotQuery != `["BTCUSDT"]` {
		t.Fatalf("symbols = %s", gotQuery)
	}
	if len(tickers) != 1 {
		t.Fatalf("Tickers() = %+v", tickers)
	}
	tk := tickers[0]
	if tk.Pair != btcusdt || tk.Bid.String() != "4" || tk.Ask.String() != "4.000002" || tk.BidQty.String() != "431" {
		t.Fatalf("ticker = %+v", tk)
	}
	if tk.Spread().String() != "0.000002" {
		t.Fatalf("Spread() = %s", tk.Spread())
	}
}

func TestTickersAllListed(t *testing.T) {
	c := newRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_, _ = w.Write([]byte(exchangeInfoBody))
		case "/api/v3/ticker/bookTicker":
			if r.URL.RawQuery != "" {
				t.Errorf("query = %s, want none", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(bookTickerBody))
		default:
			http.NotFound(w, r)
		}
	})

	tickers, err := c.Tickers(context.Background(), nil)
	if err != nil {
		t.Fatalf("Tickers() error = %v", err)
	}
	if len(tickers) != 2 || tickers[1].Pair != (core.CurrencyPair{Base: "ETH", Quote: "BTC"}) {
		t.Fatalf("Tickers() = %+v, want unlisted LTCBTC dropped", tickers)
	}
}

func TestTickersErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		pairs  []core.CurrencyPair
		want   error
	}{
		{name: "invalid symbol", status: http.StatusBadRequest, body: `{"code":-1121,"msg":"Invalid symbol."}`, pairs: []core.CurrencyPair{btcusdt}, want: core.ErrUnsupportedCurrencyPair},
		{name: "invalid symbol in batch", status: http.StatusBadRequest, body: `{"code":-1121,"msg":"Invalid symbol."}`, pairs: []core.CurrencyPair{btcusdt, {Base: "FOO", Quote: "BAR"}}, want: core.ErrRequestInvalid},
		{name: "bad number", status: http.StatusOK, body: `[{"symbol":"BTCUSDT","bidPrice":"x","bidQty":"1","askPrice":"1","askQty":"1"}]`, pairs: []core.CurrencyPair{btcusdt}, want: core.ErrMalformedSnapshot},
		{name: "server error", status: http.StatusBadGateway, body: "upstream", pairs: []core.CurrencyPair{btcusdt}, want: core.ErrVenueUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			if _, err := c.Tickers(context.Background(), tc.pairs); !errors.Is(err, tc.want) {
				t.Fatalf("Tickers() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPing(t *testing.T) {
	var down atomic.Bool
	c := newRESTClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ping" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	down.Store(true)
	if err := c.Ping(context.Background()); !errors.Is(err, core.ErrVenueUnavailable) {
		t.Fatalf("Ping() error = %v, want VENUE_UNAVAILABLE", err)
	}
}

package luno

import (
	"context"

	"github.com/luno/luno-go"
	"github.com/shopspring/decimal"

	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// Markets lists Luno's markets with asset codes mapped back to common
// tickers, so XBTZAR is reported as BTC/ZAR.
func (c *Client) Markets(ctx context.Context) ([]core.Market, error) {
	res, err := c.client.Markets(ctx, &luno.MarketsRequest{})
	if err != nil {
		return nil, c.classifyError(core.CurrencyPair{}, "markets request", err)
	}
	if res == nil {
		return nil, core.MalformedSnapshot(c.name, nil, "empty markets response")
	}
	out := make([]core.Market, 0, len(res.Markets))
	for _, m := range res.Markets {
		pair, err := core.NewPair(unalias(m.BaseCurrency), unalias(m.CounterCurrency))
		if err != nil {
			continue
		}
		out = append(out, core.Market{
			Venue:  c.name,
			Pair:   pair,
			Symbol: m.MarketId,
			Active: string(m.TradingStatus) == "ACTIVE",
		})
	}
	return out, nil
}

// Tickers reads one ticker per requested pair, or every ticker when pairs
// is empty.
func (c *Client) Tickers(ctx context.Context, pairs []core.CurrencyPair) ([]core.Ticker, error) {
	if len(pairs) > 0 {
		out := make([]core.Ticker, 0, len(pairs))
		for _, p := range pairs {
			res, err := c.client.GetTicker(ctx, &luno.GetTickerRequest{Pair: Symbol(p)})
			if err != nil {
				return nil, c.classifyError(p, "ticker request", err)
			}
			if res == nil {
				return nil, core.MalformedSnapshot(c.name, nil, "empty ticker response")
			}
			t, err := c.ticker(p, res.Bid.String(), res.Ask.String(), res.LastTrade.String())
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}

	markets, err := c.Markets(ctx)
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string]core.CurrencyPair, len(markets))
	for _, m := range markets {
		bySymbol[m.Symbol] = m.Pair
	}
	res, err := c.client.GetTickers(ctx, &luno.GetTickersRequest{})
	if err != nil {
		return nil, c.classifyError(core.CurrencyPair{}, "tickers request", err)
	}
	if res == nil {
		return nil, core.MalformedSnapshot(c.name, nil, "empty tickers response")
	}
	out := make([]core.Ticker, 0, len(res.Tickers))
	for _, tk := range res.Tickers {
		pair, ok := bySymbol[tk.Pair]
		if !ok {
			continue
		}
		t, err := c.ticker(pair, tk.Bid.String(), tk.Ask.String(), tk.LastTrade.String())
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) ticker(pair core.CurrencyPair, bid, ask, last string) (core.Ticker, error) {
	t := core.Ticker{Venue: c.name, Pair: pair}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&t.Bid, bid}, {&t.Ask, ask}, {&t.Last, last}} {
		v, ok := venue.ParseDecimal(f.raw)
		if !ok || v.IsNegative() {
			return core.Ticker{}, core.MalformedSnapshot(c.name, nil, "ticker %s: bad value %q", pair, f.raw)
		}
		*f.dst = v
	}
	return t, nil
}

package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// Markets lists every spot symbol from /api/v3/exchangeInfo. Symbols whose
// assets are not valid currency codes are skipped.
func (c *Client) Markets(ctx context.Context) ([]core.Market, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", url.Values{})
	if err != nil {
		return nil, c.classifyError(core.CurrencyPair{}, "exchangeInfo request", err)
	}
	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, core.MalformedSnapshot(c.name, err, "decode exchangeInfo response")
	}
	out := make([]core.Market, 0, len(info.Symbols))
	skipped := 0
	for _, s := range info.Symbols {
		pair, err := core.NewPair(s.BaseAsset, s.QuoteAsset)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, core.Market{
			Venue:  c.name,
			Pair:   pair,
			Symbol: s.Symbol,
			Active: s.Status == "TRADING",
		})
	}
	if skipped > 0 {
		c.logger.Debug().Int("skipped", skipped).Msg("exchangeInfo symbols skipped")
	}
	return out, nil
}

// Tickers reads /api/v3/ticker/bookTicker. Without pairs every listed
// symbol is returned, which costs an extra exchangeInfo request to map
// symbols back to pairs.
func (c *Client) Tickers(ctx context.Context, pairs []core.CurrencyPair) ([]core.Ticker, error) {
	bySymbol := make(map[string]core.CurrencyPair, len(pairs))
	params := url.Values{}
	var single core.CurrencyPair
	if len(pairs) > 0 {
		symbols := make([]string, 0, len(pairs))
		for _, p := range pairs {
			bySymbol[p.Symbol()] = p
			symbols = append(symbols, p.Symbol())
		}
		raw, err := json.Marshal(symbols)
		if err != nil {
			return nil, err
		}
		params.Set("symbols", string(raw))
		if len(pairs) == 1 {
			single = pairs[0]
		}
	} else {
		markets, err := c.Markets(ctx)
		if err != nil {
			return nil, err
		}
		for _, m := range markets {
			bySymbol[m.Symbol] = m.Pair
		}
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", params)
	if err != nil {
		return nil, c.classifyError(single, "bookTicker request", err)
	}
	var rows []bookTicker
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, core.MalformedSnapshot(c.name, err, "decode bookTicker response")
	}
	out := make([]core.Ticker, 0, len(rows))
	for _, row := range rows {
		pair, ok := bySymbol[row.Symbol]
		if !ok {
			continue
		}
		t := core.Ticker{Venue: c.name, Pair: pair}
		fields := []struct {
			dst *decimal.Decimal
			raw string
		}{
			{&t.Bid, row.BidPrice}, {&t.BidQty, row.BidQty}, {&t.Ask, row.AskPrice}, {&t.AskQty, row.AskQty},
		}
		for _, f := range fields {
			v, ok := venue.ParseDecimal(f.raw)
			if !ok || v.IsNegative() {
				return nil, core.MalformedSnapshot(c.name, nil, "bookTicker %s: bad value %q", row.Symbol, f.raw)
			}
			*f.dst = v
		}
		out = append(out, t)
	}
	return out, nil
}

package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Ticker is the top of one venue's book for a pair. Fields a venue does not
// publish stay zero.
type Ticker struct {
	Venue  string
	Pair   CurrencyPair
	Bid    decimal.Decimal
	BidQty decimal.Decimal
	Ask    decimal.Decimal
	AskQty decimal.Decimal
	Last   decimal.Decimal
}

// Spread is Ask - Bid. It is zero when either side is missing.
func (t Ticker) Spread() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid)
}

// TickerFromSnapshot takes the best level of each side.
func TickerFromSnapshot(s Snapshot) Ticker {
	t := Ticker{Venue: s.Venue, Pair: s.Pair}
	if s.Asks.Len() > 0 {
		t.Ask, t.AskQty = s.Asks.Entries[0].Price, s.Asks.Entries[0].Quantity
	}
	if s.Bids.Len() > 0 {
		t.Bid, t.BidQty = s.Bids.Entries[0].Price, s.Bids.Entries[0].Quantity
	}
	return t
}

// Market is a pair listed by a venue, with the venue's own symbol for it.
type Market struct {
	Venue  string
	Pair   CurrencyPair
	Symbol string
	Active bool
}

// Currencies lists the distinct currencies of markets in sorted order.
func Currencies(markets []Market) []string {
	seen := make(map[string]struct{}, len(markets)*2)
	for _, m := range markets {
		seen[m.Pair.Base] = struct{}{}
		seen[m.Pair.Quote] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

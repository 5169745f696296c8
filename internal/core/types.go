package core

import (
	"github.com/shopspring/decimal"
)

type Side string

type Direction string

const (
	Ask Side = "ASK"
	Bid Side = "BID"
)

const (
	Ascending  Direction = "ASCENDING"
	Descending Direction = "DESCENDING"
)

// Direction returns the sort order a ladder of this side is kept in.
func (s Side) Direction() Direction {
	if s == Bid {
		return Descending
	}
	return Ascending
}

// Level is a raw price/quantity pair as reported by a venue.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

type PricedEntry struct {
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	Side          Side            `json:"side"`
	Venue         string          `json:"venue"`
	SequenceIndex int             `json:"sequence_index"`
}

// VenueLadder is one side of one venue's book, sorted by the venue in
// Side.Direction() order.
type VenueLadder struct {
	Venue   string
	Side    Side
	Entries []PricedEntry
}

func NewVenueLadder(venue string, side Side, levels []Level) VenueLadder {
	entries := make([]PricedEntry, 0, len(levels))
	for i, lvl := range levels {
		entries = append(entries, PricedEntry{
			Price:         lvl.Price,
			Quantity:      lvl.Qty,
			Side:          side,
			Venue:         venue,
			SequenceIndex: i,
		})
	}
	return VenueLadder{Venue: venue, Side: side, Entries: entries}
}

func (l VenueLadder) Len() int { return len(l.Entries) }

// Snapshot is a single point-in-time read of one venue's book.
type Snapshot struct {
	Venue string
	Pair  CurrencyPair
	Asks  VenueLadder
	Bids  VenueLadder
}

func NewSnapshot(venue string, pair CurrencyPair, asks, bids []Level) Snapshot {
	return Snapshot{
		Venue: venue,
		Pair:  pair,
		Asks:  NewVenueLadder(venue, Ask, asks),
		Bids:  NewVenueLadder(venue, Bid, bids),
	}
}

type AggregatedLadder struct {
	Side      Side
	Direction Direction
	Entries   []PricedEntry
}

func (l AggregatedLadder) Len() int { return len(l.Entries) }

type VenueStatus struct {
	Venue    string
	Excluded bool
	Err      *Error
}

type AggregatedOrderBook struct {
	Pair   CurrencyPair
	Venues []VenueStatus
	Asks   AggregatedLadder
	Bids   AggregatedLadder
}

// Excluded lists venues that were skipped under the partial policy, in request order.
func (b AggregatedOrderBook) Excluded() []string {
	var out []string
	for _, v := range b.Venues {
		if v.Excluded {
			out = append(out, v.Venue)
		}
	}
	return out
}

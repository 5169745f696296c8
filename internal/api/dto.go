package api

import (
	"github.com/shopspring/decimal"

	"book-aggregator/internal/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Venue   string `json:"venue,omitempty"`
	Message string `json:"message"`
}

type levelDTO struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Venue    string          `json:"venue"`
}

type venueStatusDTO struct {
	Venue    string       `json:"venue"`
	Excluded bool         `json:"excluded"`
	Error    *errorDetail `json:"error,omitempty"`
}

type bookDTO struct {
	Pair     string           `json:"pair"`
	Policy   string           `json:"policy"`
	Venues   []venueStatusDTO `json:"venues"`
	Excluded []string         `json:"excluded"`
	Asks     []levelDTO       `json:"asks"`
	Bids     []levelDTO       `json:"bids"`
}

type snapshotDTO struct {
	Venue string     `json:"venue"`
	Pair  string     `json:"pair"`
	Asks  []levelDTO `json:"asks"`
	Bids  []levelDTO `json:"bids"`
}

type venueDTO struct {
	Name       string `json:"name"`
	Circuit    string `json:"circuit"`
	CooldownMs int64  `json:"cooldown_ms,omitempty"`
}

type venueHealthDTO struct {
	Venue string       `json:"venue"`
	OK    bool         `json:"ok"`
	Error *errorDetail `json:"error,omitempty"`
}

type readyDTO struct {
	Status string           `json:"status"`
	Venues []venueHealthDTO `json:"venues"`
}

type tickerDTO struct {
	Venue  string          `json:"venue"`
	Pair   string          `json:"pair"`
	Bid    decimal.Decimal `json:"bid"`
	BidQty decimal.Decimal `json:"bid_quantity"`
	Ask    decimal.Decimal `json:"ask"`
	AskQty decimal.Decimal `json:"ask_quantity"`
	Last   decimal.Decimal `json:"last"`
	Spread decimal.Decimal `json:"spread"`
}

type marketDTO struct {
	Pair   string `json:"pair"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Symbol string `json:"symbol"`
	Active bool   `json:"active"`
}

// aggregateRequest is the POST body; field names follow the public
// order book API the service replaces.
type aggregateRequest struct {
	BaseCurrency  string   `json:"base_currency"`
	QuoteCurrency string   `json:"quote_currency"`
	Exchanges     []string `json:"exchanges"`
}

func levelsDTO(entries []core.PricedEntry) []levelDTO {
	out := make([]levelDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, levelDTO{Price: e.Price, Quantity: e.Quantity, Venue: e.Venue})
	}
	return out
}

func newBookDTO(book core.AggregatedOrderBook, policy string) bookDTO {
	out := bookDTO{
		Pair:     book.Pair.String(),
		Policy:   policy,
		Venues:   make([]venueStatusDTO, 0, len(book.Venues)),
		Excluded: book.Excluded(),
		Asks:     levelsDTO(book.Asks.Entries),
		Bids:     levelsDTO(book.Bids.Entries),
	}
	if out.Excluded == nil {
		out.Excluded = []string{}
	}
	for _, v := range book.Venues {
		st := venueStatusDTO{Venue: v.Venue, Excluded: v.Excluded}
		if v.Err != nil {
			st.Error = &errorDetail{Kind: string(v.Err.Kind), Venue: v.Err.Venue, Message: v.Err.Error()}
		}
		out.Venues = append(out.Venues, st)
	}
	return out
}

func newSnapshotDTO(snap core.Snapshot) snapshotDTO {
	return snapshotDTO{
		Venue: snap.Venue,
		Pair:  snap.Pair.String(),
		Asks:  levelsDTO(snap.Asks.Entries),
		Bids:  levelsDTO(snap.Bids.Entries),
	}
}

func newTickerDTO(t core.Ticker) tickerDTO {
	return tickerDTO{
		Venue:  t.Venue,
		Pair:   t.Pair.String(),
		Bid:    t.Bid,
		BidQty: t.BidQty,
		Ask:    t.Ask,
		AskQty: t.AskQty,
		Last:   t.Last,
		Spread: t.Spread(),
	}
}

package venue

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"book-aggregator/internal/core"
)

// ParseLevels converts [price, quantity] pairs as most venues publish them.
// Levels keep the venue's order; sorting is the venue's job and is checked
// at merge time.
func ParseLevels(venueName string, side core.Side, raw [][]string) ([]core.Level, error) {
	out := make([]core.Level, 0, len(raw))
	for i, row := range raw {
		if len(row) < 2 {
			return nil, core.MalformedSnapshot(venueName, nil, "%s level %d has %d fields, want 2", side, i, len(row))
		}
		lvl, err := ParseLevel(venueName, side, i, row[0], row[1])
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// ParseLevel rejects non-positive prices and negative quantities.
func ParseLevel(venueName string, side core.Side, i int, price, qty interface{}) (core.Level, error) {
	p, ok := ParseDecimal(price)
	if !ok {
		return core.Level{}, core.MalformedSnapshot(venueName, nil, "%s level %d: bad price %v", side, i, price)
	}
	q, ok := ParseDecimal(qty)
	if !ok {
		return core.Level{}, core.MalformedSnapshot(venueName, nil, "%s level %d: bad quantity %v", side, i, qty)
	}
	if !p.IsPositive() {
		return core.Level{}, core.MalformedSnapshot(venueName, nil, "%s level %d: price %s is not positive", side, i, p)
	}
	if q.IsNegative() {
		return core.Level{}, core.MalformedSnapshot(venueName, nil, "%s level %d: quantity %s is negative", side, i, q)
	}
	return core.Level{Price: p, Qty: q}, nil
}

// ParseDecimal accepts the shapes JSON decoders hand back for numbers. Floats
// are only accepted from json.Number so no binary rounding creeps in.
func ParseDecimal(v interface{}) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case json.Number:
		dec, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, false
		}
		return dec, true
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return decimal.Zero, false
		}
		dec, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero, false
		}
		return dec, true
	case int64:
		return decimal.NewFromInt(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	}
	return decimal.Zero, false
}

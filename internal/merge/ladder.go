package merge

import (
	"book-aggregator/internal/core"
)

// Ladders merges per-venue ladders into one aggregated ladder sorted in dir.
// The order of ladders is the tie-break order. Every ladder is checked
// before merging; a ladder out of order fails with MergeInputInvalid naming
// its venue.
func Ladders(ladders []core.VenueLadder, dir core.Direction) (core.AggregatedLadder, error) {
	cmp, err := priceOrder(dir)
	if err != nil {
		return core.AggregatedLadder{}, err
	}
	side := sideFor(dir)
	seqs := make([][]core.PricedEntry, 0, len(ladders))
	for _, l := range ladders {
		if err := validateLadder(l, side, cmp); err != nil {
			return core.AggregatedLadder{}, err
		}
		seqs = append(seqs, l.Entries)
	}
	return core.AggregatedLadder{
		Side:      side,
		Direction: dir,
		Entries:   KWay(seqs, cmp),
	}, nil
}

func priceOrder(dir core.Direction) (func(a, b core.PricedEntry) int, error) {
	switch dir {
	case core.Ascending:
		return func(a, b core.PricedEntry) int { return a.Price.Cmp(b.Price) }, nil
	case core.Descending:
		return func(a, b core.PricedEntry) int { return b.Price.Cmp(a.Price) }, nil
	}
	return nil, core.MergeInputInvalid("", "unknown merge direction %q", dir)
}

func sideFor(dir core.Direction) core.Side {
	if dir == core.Descending {
		return core.Bid
	}
	return core.Ask
}

func validateLadder(l core.VenueLadder, side core.Side, cmp func(a, b core.PricedEntry) int) error {
	if l.Side != "" && l.Side != side {
		return core.MergeInputInvalid(l.Venue, "%s ladder merged as %s", l.Side, side)
	}
	for i, e := range l.Entries {
		if e.Venue != l.Venue {
			return core.MergeInputInvalid(l.Venue, "entry %d tagged with venue %q", i, e.Venue)
		}
	}
	if i := FirstUnsorted(l.Entries, cmp); i >= 0 {
		return core.MergeInputInvalid(l.Venue, "%s ladder not %s at level %d: %s after %s",
			side, side.Direction(), i, l.Entries[i].Price, l.Entries[i-1].Price)
	}
	return nil
}

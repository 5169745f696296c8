// Package file serves order book snapshots from JSON files on disk, one per
// pair, for replaying captured books and for offline runs.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// maxSnapshotBytes bounds a single snapshot file.
const maxSnapshotBytes = 64 << 20

type Source struct {
	name string
	dir  string
}

type snapshotFile struct {
	Asks [][]json.Number `json:"asks"`
	Bids [][]json.Number `json:"bids"`
}

func NewSource(cfg config.VenueConfig) (*Source, error) {
	if cfg.Kind != config.VenueFile {
		return nil, fmt.Errorf("venue %s is %s, not file", cfg.Name, cfg.Kind)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("venue %s: data_dir is required", cfg.Name)
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", cfg.Name, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("venue %s: %s is not a directory", cfg.Name, cfg.DataDir)
	}
	return &Source{name: cfg.Name, dir: cfg.DataDir}, nil
}

func (s *Source) Name() string { return s.name }

// Path is where the snapshot for pair is read from: <dir>/<BASE><QUOTE>.json.
func (s *Source) Path(pair core.CurrencyPair) string {
	return filepath.Join(s.dir, pair.Symbol()+".json")
}

// FetchOrderBook reads the pair's file. A missing file means the pair is not
// listed on this venue.
func (s *Source) FetchOrderBook(ctx context.Context, pair core.CurrencyPair) (core.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return core.Snapshot{}, err
	}
	path := s.Path(pair)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.Snapshot{}, core.UnsupportedCurrencyPair(s.name, pair)
	}
	if err != nil {
		return core.Snapshot{}, core.VenueUnavailable(s.name, err, "stat snapshot")
	}
	if info.Size() > maxSnapshotBytes {
		return core.Snapshot{}, core.MalformedSnapshot(s.name, nil, "snapshot %s is %d bytes", filepath.Base(path), info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return core.Snapshot{}, core.VenueUnavailable(s.name, err, "read snapshot")
	}

	var raw snapshotFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.Snapshot{}, core.MalformedSnapshot(s.name, err, "decode %s", filepath.Base(path))
	}
	asks, err := parseSide(s.name, core.Ask, raw.Asks)
	if err != nil {
		return core.Snapshot{}, err
	}
	bids, err := parseSide(s.name, core.Bid, raw.Bids)
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.NewSnapshot(s.name, pair, asks, bids), nil
}

func parseSide(name string, side core.Side, rows [][]json.Number) ([]core.Level, error) {
	out := make([]core.Level, 0, len(rows))
	for i, row := range rows {
		if len(row) != 2 {
			return nil, core.MalformedSnapshot(name, nil, "%s level %d has %d fields, want 2", side, i, len(row))
		}
		lvl, err := venue.ParseLevel(name, side, i, row[0], row[1])
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// Tickers reads each pair's file and reports its best levels. Files carry
// no pair listing, so pairs must be given.
func (s *Source) Tickers(ctx context.Context, pairs []core.CurrencyPair) ([]core.Ticker, error) {
	if len(pairs) == 0 {
		return nil, core.RequestInvalid(s.name, "file venue needs explicit pairs for tickers")
	}
	out := make([]core.Ticker, 0, len(pairs))
	for _, p := range pairs {
		snap, err := s.FetchOrderBook(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, core.TickerFromSnapshot(snap))
	}
	return out, nil
}

// Ping checks the data directory is still readable.
func (s *Source) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.ReadDir(s.dir); err != nil {
		return core.VenueUnavailable(s.name, err, "read data dir")
	}
	return nil
}

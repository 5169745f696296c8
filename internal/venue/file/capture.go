package file

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"book-aggregator/internal/core"
)

// WriteSnapshot stores snap under dir in the layout Source reads, replacing
// any previous capture atomically. It returns the written path.
func WriteSnapshot(dir string, snap core.Snapshot) (string, error) {
	if dir == "" {
		return "", errors.New("capture dir required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, snap.Pair.Symbol()+".json")
	if err := writeJSONAtomic(path, snapshotFile{
		Asks: ladderRows(snap.Asks),
		Bids: ladderRows(snap.Bids),
	}); err != nil {
		return "", err
	}
	return path, nil
}

func ladderRows(l core.VenueLadder) [][]json.Number {
	rows := make([][]json.Number, 0, len(l.Entries))
	for _, e := range l.Entries {
		rows = append(rows, []json.Number{json.Number(e.Price.String()), json.Number(e.Quantity.String())})
	}
	return rows
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "tmp-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

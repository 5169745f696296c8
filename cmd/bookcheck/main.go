// Command bookcheck fetches one aggregated order book using the configured
// venues and prints it as JSON. It exits non-zero with the error kind on
// failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"book-aggregator/internal/app"
	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
	"book-aggregator/internal/logging"
	"book-aggregator/internal/venue"
	"book-aggregator/internal/venue/file"
)

type levelLine struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Venue    string          `json:"venue"`
}

type output struct {
	Pair     string      `json:"pair"`
	Venues   []string    `json:"venues"`
	Excluded []string    `json:"excluded,omitempty"`
	Asks     []levelLine `json:"asks"`
	Bids     []levelLine `json:"bids"`
}

type failure struct {
	Kind    string `json:"kind"`
	Venue   string `json:"venue,omitempty"`
	Message string `json:"message"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("bookcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath string
		envFile    string
		pairRaw    string
		venuesRaw  string
		depth      int
		policy     string
		captureDir string
		ping       bool
	)
	fs.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	fs.StringVar(&envFile, "env", ".env", "dotenv file loaded before the config is expanded")
	fs.StringVar(&pairRaw, "pair", "BTC/USDT", "currency pair, BASE/QUOTE")
	fs.StringVar(&venuesRaw, "venues", "", "comma separated venues in tie-break order (default: all configured)")
	fs.IntVar(&depth, "depth", 10, "levels printed per side, 0 for all")
	fs.StringVar(&policy, "policy", "", "override aggregation.failure_policy (abort|partial)")
	fs.StringVar(&captureDir, "capture", "", "also write each venue's snapshot under DIR/<venue>/ for the file venue")
	fs.BoolVar(&ping, "ping", false, "only check each venue is reachable")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "load %s: %v\n", envFile, err)
		return 2
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if policy != "" {
		p, err := core.ParseFailurePolicy(policy)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}
		cfg.Aggregation.FailurePolicy = p
	}
	// One-shot runs never alert.
	cfg.Observability.Telegram.Enabled = false
	cfg.Observability.Discord.Enabled = false
	cfg.Logging.Pretty = true

	pair, err := core.ParsePair(pairRaw)
	if err != nil {
		return fail(stdout, err)
	}

	a, err := app.New(cfg, logging.NewWithWriter(cfg.Logging, cfg.Service, stderr))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	venues := a.Venues.Names()
	if venuesRaw != "" {
		venues = nil
		for _, v := range strings.Split(venuesRaw, ",") {
			if v = venue.NormalizeName(v); v != "" {
				venues = append(venues, v)
			}
		}
	}

	if ping {
		return pingVenues(ctx, a, venues, stdout)
	}

	if captureDir != "" {
		if err := capture(ctx, a, pair, venues, captureDir, stderr); err != nil {
			return fail(stdout, err)
		}
	}

	book, err := a.Coordinator.Aggregate(ctx, pair, venues)
	if err != nil {
		return fail(stdout, err)
	}
	out := output{
		Pair:     book.Pair.String(),
		Venues:   venues,
		Excluded: book.Excluded(),
		Asks:     lines(book.Asks.Entries, depth),
		Bids:     lines(book.Bids.Entries, depth),
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

type pingLine struct {
	Venue string   `json:"venue"`
	OK    bool     `json:"ok"`
	Error *failure `json:"error,omitempty"`
}

func pingVenues(ctx context.Context, a *app.App, venues []string, stdout io.Writer) int {
	health, err := a.Coordinator.Ping(ctx, venues)
	if err != nil {
		return fail(stdout, err)
	}
	code := 0
	out := make([]pingLine, 0, len(health))
	for _, h := range health {
		line := pingLine{Venue: h.Venue, OK: h.Err == nil}
		if h.Err != nil {
			line.Error = &failure{Kind: string(h.Err.Kind), Venue: h.Err.Venue, Message: h.Err.Error()}
			code = 1
		}
		out = append(out, line)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
	return code
}

func capture(ctx context.Context, a *app.App, pair core.CurrencyPair, venues []string, dir string, stderr io.Writer) error {
	for _, v := range venues {
		snap, err := a.Coordinator.Snapshot(ctx, v, pair)
		if err != nil {
			return err
		}
		path, err := file.WriteSnapshot(filepath.Join(dir, v), snap)
		if err != nil {
			return err
		}
		fmt.Fprintf(stderr, "captured %s %s -> %s\n", v, pair, path)
	}
	return nil
}

func lines(entries []core.PricedEntry, depth int) []levelLine {
	if depth > 0 && len(entries) > depth {
		entries = entries[:depth]
	}
	out := make([]levelLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, levelLine{Price: e.Price, Quantity: e.Quantity, Venue: e.Venue})
	}
	return out
}

func fail(w io.Writer, err error) int {
	f := failure{Kind: "INTERNAL", Message: err.Error()}
	if e, ok := core.AsError(err); ok {
		f = failure{Kind: string(e.Kind), Venue: e.Venue, Message: e.Error()}
	}
	_ = json.NewEncoder(w).Encode(map[string]failure{"error": f})
	return 1
}

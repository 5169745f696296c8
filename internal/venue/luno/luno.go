// Package luno reads order books from the Luno public REST API.
package luno

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/luno/luno-go"
	"github.com/rs/zerolog"

	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// assetAliases maps common tickers onto the codes Luno lists.
var assetAliases = map[string]string{
	"BTC": "XBT",
}

type Client struct {
	name   string
	client *luno.Client
	logger zerolog.Logger
}

func NewClient(cfg config.VenueConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.Kind != config.VenueLuno {
		return nil, fmt.Errorf("venue %s is %s, not luno", cfg.Name, cfg.Kind)
	}
	cl := luno.NewClient()
	if cfg.RestBaseURL != "" {
		cl.SetBaseURL(strings.TrimRight(cfg.RestBaseURL, "/"))
	}
	if cfg.HTTPTimeoutSec > 0 {
		cl.SetTimeout(time.Duration(cfg.HTTPTimeoutSec) * time.Second)
	}
	name := cfg.Name
	if name == "" {
		name = "luno"
	}
	return &Client{
		name:   name,
		client: cl,
		logger: logger.With().Str("venue", name).Logger(),
	}, nil
}

func (c *Client) Name() string { return c.name }

// FetchOrderBook reads the full order book. Luno returns asks ascending and
// bids descending.
func (c *Client) FetchOrderBook(ctx context.Context, pair core.CurrencyPair) (core.Snapshot, error) {
	res, err := c.client.GetOrderBook(ctx, &luno.GetOrderBookRequest{Pair: Symbol(pair)})
	if err != nil {
		return core.Snapshot{}, c.classifyError(pair, "order book request", err)
	}
	if res == nil {
		return core.Snapshot{}, core.MalformedSnapshot(c.name, nil, "empty order book response")
	}
	asks := make([]core.Level, 0, len(res.Asks))
	for i, e := range res.Asks {
		lvl, err := venue.ParseLevel(c.name, core.Ask, i, e.Price.String(), e.Volume.String())
		if err != nil {
			return core.Snapshot{}, err
		}
		asks = append(asks, lvl)
	}
	bids := make([]core.Level, 0, len(res.Bids))
	for i, e := range res.Bids {
		lvl, err := venue.ParseLevel(c.name, core.Bid, i, e.Price.String(), e.Volume.String())
		if err != nil {
			return core.Snapshot{}, err
		}
		bids = append(bids, lvl)
	}
	return core.NewSnapshot(c.name, pair, asks, bids), nil
}

// Symbol is the Luno pair code, e.g. XBTZAR for BTC/ZAR.
func Symbol(pair core.CurrencyPair) string {
	return alias(pair.Base) + alias(pair.Quote)
}

func alias(asset string) string {
	if a, ok := assetAliases[asset]; ok {
		return a
	}
	return asset
}

// unalias maps a Luno asset code back to its common ticker.
func unalias(asset string) string {
	for common, code := range assetAliases {
		if code == asset {
			return common
		}
	}
	return asset
}

// classifyError maps a luno-go failure onto the aggregator's error kinds.
// what names the request in messages.
func (c *Client) classifyError(pair core.CurrencyPair, what string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.VenueUnavailable(c.name, err, "%s aborted", what)
	}
	msg := strings.ToLower(err.Error())
	if pair != (core.CurrencyPair{}) && strings.Contains(msg, "pair") &&
		(strings.Contains(msg, "invalid") || strings.Contains(msg, "not found") || strings.Contains(msg, "unknown")) {
		return core.UnsupportedCurrencyPair(c.name, pair)
	}
	return core.VenueUnavailable(c.name, err, "%s failed", what)
}

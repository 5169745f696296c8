// Package binance reads order book depth from Binance spot, over REST or
// the ws-api request/response endpoint.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
	"book-aggregator/internal/venue"
)

// validDepths are the limits /api/v3/depth accepts.
var validDepths = []int{5, 10, 20, 50, 100, 500, 1000, 5000}

type Client struct {
	name       string
	baseURL    string
	wsBaseURL  string
	transport  config.Transport
	depth      int
	httpClient *http.Client
	logger     zerolog.Logger

	// wsSem is a one-slot semaphore guarding wsConn.
	wsSem  chan struct{}
	wsConn *websocket.Conn
}

type Options struct {
	Name           string
	RestBaseURL    string
	WSBaseURL      string
	Transport      config.Transport
	Depth          int
	HTTPTimeoutSec int64
}

func NewClient(cfg config.VenueConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.Kind != config.VenueBinance {
		return nil, fmt.Errorf("venue %s is %s, not binance", cfg.Name, cfg.Kind)
	}
	return NewClientWithOptions(Options{
		Name:           cfg.Name,
		RestBaseURL:    cfg.RestBaseURL,
		WSBaseURL:      cfg.WSBaseURL,
		Transport:      cfg.Transport,
		Depth:          cfg.Depth,
		HTTPTimeoutSec: cfg.HTTPTimeoutSec,
	}, logger), nil
}

func NewClientWithOptions(opts Options, logger zerolog.Logger) *Client {
	timeout := 15 * time.Second
	if opts.HTTPTimeoutSec > 0 {
		timeout = time.Duration(opts.HTTPTimeoutSec) * time.Second
	}
	name := opts.Name
	if name == "" {
		name = "binance"
	}
	transport := opts.Transport
	if transport == "" {
		transport = config.TransportREST
	}
	return &Client{
		name:       name,
		baseURL:    strings.TrimRight(opts.RestBaseURL, "/"),
		wsBaseURL:  strings.TrimRight(opts.WSBaseURL, "/"),
		transport:  transport,
		depth:      normalizeDepth(opts.Depth),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("venue", name).Logger(),
		wsSem:      make(chan struct{}, 1),
	}
}

func (c *Client) Name() string { return c.name }

func (c *Client) Close() error {
	c.wsSem <- struct{}{}
	defer c.releaseWS()
	if c.wsConn == nil {
		return nil
	}
	err := c.wsConn.Close()
	c.wsConn = nil
	return err
}

// FetchOrderBook returns the top levels of pair's book. Binance publishes
// asks ascending and bids descending, which is the order the merge expects.
func (c *Client) FetchOrderBook(ctx context.Context, pair core.CurrencyPair) (core.Snapshot, error) {
	var (
		depth depthResponse
		err   error
	)
	if c.transport == config.TransportWS {
		depth, err = c.depthWS(ctx, pair.Symbol())
	} else {
		depth, err = c.depthREST(ctx, pair.Symbol())
	}
	if err != nil {
		return core.Snapshot{}, c.classifyError(pair, "depth request", err)
	}
	asks, err := venue.ParseLevels(c.name, core.Ask, depth.Asks)
	if err != nil {
		return core.Snapshot{}, err
	}
	bids, err := venue.ParseLevels(c.name, core.Bid, depth.Bids)
	if err != nil {
		return core.Snapshot{}, err
	}
	return core.NewSnapshot(c.name, pair, asks, bids), nil
}

func (c *Client) depthREST(ctx context.Context, symbol string) (depthResponse, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(c.depth))
	body, err := c.doRequest(ctx, http.MethodGet, "/api/v3/depth", params)
	if err != nil {
		return depthResponse{}, err
	}
	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return depthResponse{}, core.MalformedSnapshot(c.name, err, "decode depth response")
	}
	return resp, nil
}

// Ping checks REST connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/v3/ping", url.Values{}); err != nil {
		return c.classifyError(core.CurrencyPair{}, "ping", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	urlStr := c.baseURL + path
	if encoded := params.Encode(); encoded != "" {
		urlStr += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return APIError{Status: status, Code: apiErr.Code, Msg: apiErr.Msg}
	}
	return HTTPError{Status: status, Body: strings.TrimSpace(string(body))}
}

// normalizeDepth rounds up to the nearest limit the endpoint accepts.
func normalizeDepth(depth int) int {
	if depth <= 0 {
		return 100
	}
	for _, d := range validDepths {
		if depth <= d {
			return d
		}
	}
	return validDepths[len(validDepths)-1]
}

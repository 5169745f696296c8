package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"book-aggregator/internal/core"
	"book-aggregator/internal/safety"
)

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// readyHandler pings every configured venue; any failure makes the service
// not ready.
func (s *Server) readyHandler(c *fiber.Ctx) error {
	health, err := s.deps.Aggregator.Ping(c.UserContext(), s.configuredVenues())
	if err != nil {
		return err
	}
	out := readyDTO{Status: "ready", Venues: make([]venueHealthDTO, 0, len(health))}
	for _, h := range health {
		v := venueHealthDTO{Venue: h.Venue, OK: h.Err == nil}
		if h.Err != nil {
			out.Status = "degraded"
			v.Error = &errorDetail{Kind: string(h.Err.Kind), Venue: h.Err.Venue, Message: h.Err.Error()}
		}
		out.Venues = append(out.Venues, v)
	}
	status := fiber.StatusOK
	if out.Status != "ready" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(out)
}

func (s *Server) venuesHandler(c *fiber.Ctx) error {
	names := s.configuredVenues()
	states := s.deps.Breaker.States()
	out := make([]venueDTO, 0, len(names))
	for _, n := range names {
		st, ok := states[n]
		if !ok {
			st = safety.CircuitClosed
		}
		v := venueDTO{Name: n, Circuit: string(st)}
		if rem := s.deps.Breaker.CooldownRemaining(n); rem > 0 {
			v.CooldownMs = rem.Milliseconds()
		}
		out = append(out, v)
	}
	return c.JSON(out)
}

// tickersHandler serves /venues/:venue/tickers with an optional ?pair=.
func (s *Server) tickersHandler(c *fiber.Ctx) error {
	var pairs []core.CurrencyPair
	if raw := c.Query("pair"); raw != "" {
		pair, err := core.ParsePair(raw)
		if err != nil {
			return err
		}
		pairs = append(pairs, pair)
	}
	tickers, err := s.deps.Aggregator.Tickers(c.UserContext(), c.Params("venue"), pairs)
	if err != nil {
		return err
	}
	out := make([]tickerDTO, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, newTickerDTO(t))
	}
	return c.JSON(out)
}

func (s *Server) pairsHandler(c *fiber.Ctx) error {
	markets, err := s.deps.Aggregator.Markets(c.UserContext(), c.Params("venue"))
	if err != nil {
		return err
	}
	out := make([]marketDTO, 0, len(markets))
	for _, m := range markets {
		out = append(out, marketDTO{Pair: m.Pair.String(), Base: m.Pair.Base, Quote: m.Pair.Quote, Symbol: m.Symbol, Active: m.Active})
	}
	return c.JSON(out)
}

func (s *Server) currenciesHandler(c *fiber.Ctx) error {
	markets, err := s.deps.Aggregator.Markets(c.UserContext(), c.Params("venue"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"venue": c.Params("venue"), "currencies": core.Currencies(markets)})
}

// aggregateGetHandler serves ?pair=BTC-USDT&venues=binance,luno. Without a
// venues parameter every configured venue is queried in configured order.
func (s *Server) aggregateGetHandler(c *fiber.Ctx) error {
	pair, err := core.ParsePair(c.Query("pair"))
	if err != nil {
		return err
	}
	venues := s.configuredVenues()
	if raw, given := queryValue(c, "venues"); given {
		venues = splitVenues(raw)
	}
	return s.aggregate(c, pair, venues)
}

func (s *Server) aggregatePostHandler(c *fiber.Ctx) error {
	var req aggregateRequest
	if err := c.BodyParser(&req); err != nil {
		return core.RequestInvalid("", "decode request body: %v", err)
	}
	pair, err := core.NewPair(req.BaseCurrency, req.QuoteCurrency)
	if err != nil {
		return err
	}
	return s.aggregate(c, pair, req.Exchanges)
}

func (s *Server) aggregate(c *fiber.Ctx, pair core.CurrencyPair, venues []string) error {
	book, err := s.deps.Aggregator.Aggregate(c.UserContext(), pair, venues)
	if err != nil {
		return err
	}
	return c.JSON(newBookDTO(book, string(s.deps.Aggregator.Policy())))
}

func (s *Server) snapshotHandler(c *fiber.Ctx) error {
	pair, err := core.ParsePair(c.Query("pair"))
	if err != nil {
		return err
	}
	snap, err := s.deps.Aggregator.Snapshot(c.UserContext(), c.Params("venue"), pair)
	if err != nil {
		return err
	}
	return c.JSON(newSnapshotDTO(snap))
}

func (s *Server) configuredVenues() []string {
	if s.deps.Venues == nil {
		return nil
	}
	return s.deps.Venues()
}

// queryValue distinguishes a missing parameter from an empty one.
func queryValue(c *fiber.Ctx, key string) (string, bool) {
	args := c.Context().QueryArgs()
	if !args.Has(key) {
		return "", false
	}
	return string(args.Peek(key)), true
}

func splitVenues(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

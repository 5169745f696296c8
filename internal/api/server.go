// Package api serves aggregated order books over HTTP.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"book-aggregator/internal/aggregate"
	"book-aggregator/internal/config"
	"book-aggregator/internal/core"
	"book-aggregator/internal/metrics"
	"book-aggregator/internal/safety"
)

// Aggregator is the part of *aggregate.Coordinator the handlers use.
type Aggregator interface {
	Aggregate(ctx context.Context, pair core.CurrencyPair, venues []string) (core.AggregatedOrderBook, error)
	Snapshot(ctx context.Context, venue string, pair core.CurrencyPair) (core.Snapshot, error)
	Tickers(ctx context.Context, venue string, pairs []core.CurrencyPair) ([]core.Ticker, error)
	Markets(ctx context.Context, venue string) ([]core.Market, error)
	Ping(ctx context.Context, venues []string) ([]aggregate.VenueHealth, error)
	Policy() core.FailurePolicy
}

type Deps struct {
	Aggregator Aggregator
	// Venues lists configured venues in their default request order.
	Venues  func() []string
	Breaker *safety.Breaker
	Metrics *metrics.Metrics
}

type Server struct {
	*fiber.App

	deps   Deps
	logger zerolog.Logger
}

func New(service string, cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.App = fiber.New(fiber.Config{
		ServerHeader:          service,
		AppName:               service,
		ReadTimeout:           time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeoutSec) * time.Second,
		IdleTimeout:           time.Duration(cfg.IdleTimeoutSec) * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.App.Use(recover.New())
	s.App.Use(s.requestLogger)
	s.RegisterRoutes()
	return s
}

func (s *Server) RegisterRoutes() {
	s.App.Get("/healthz", s.healthHandler)
	s.App.Get("/readyz", s.readyHandler)
	if s.deps.Metrics != nil {
		s.App.Get("/metrics", adaptor.HTTPHandler(s.deps.Metrics.Handler()))
	}

	v1 := s.App.Group("/api/v1")
	v1.Get("/venues", s.venuesHandler)
	v1.Get("/venues/:venue/tickers", s.tickersHandler)
	v1.Get("/venues/:venue/pairs", s.pairsHandler)
	v1.Get("/venues/:venue/currencies", s.currenciesHandler)
	v1.Get("/orderbook/aggregate", s.aggregateGetHandler)
	v1.Post("/orderbook/aggregate", s.aggregatePostHandler)
	v1.Get("/orderbook/:venue", s.snapshotHandler)
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		status = statusFor(err)
	}
	ev := s.logger.Debug()
	if status >= fiber.StatusInternalServerError {
		ev = s.logger.Warn()
	}
	ev.Str("method", c.Method()).Str("path", c.Path()).Int("status", status).
		Dur("elapsed", time.Since(start)).Msg("request")
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := errorBody{Error: errorDetail{Kind: "INTERNAL", Message: err.Error()}}
	if e, ok := core.AsError(err); ok {
		body.Error = errorDetail{Kind: string(e.Kind), Venue: e.Venue, Message: e.Error()}
	} else if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		body.Error = errorDetail{Kind: "CANCELED", Message: err.Error()}
	} else {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			body.Error = errorDetail{Kind: "HTTP", Message: fe.Message}
		}
	}
	return c.Status(status).JSON(body)
}

func statusFor(err error) int {
	switch core.KindOf(err) {
	case core.KindRequestInvalid:
		return fiber.StatusBadRequest
	case core.KindUnsupportedCurrencyPair:
		return fiber.StatusNotFound
	case core.KindVenueUnavailable:
		return fiber.StatusServiceUnavailable
	case core.KindMalformedSnapshot:
		return fiber.StatusBadGateway
	case core.KindMergeInputInvalid:
		return fiber.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fiber.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		// Client went away; nginx's convention.
		return 499
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

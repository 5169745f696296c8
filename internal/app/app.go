// Package app wires configuration into a running aggregator: venue sources,
// circuit breakers, alerts, metrics and the coordinator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"book-aggregator/internal/aggregate"
	"book-aggregator/internal/alert"
	"book-aggregator/internal/config"
	"book-aggregator/internal/metrics"
	"book-aggregator/internal/safety"
	"book-aggregator/internal/venue"
	"book-aggregator/internal/venue/binance"
	"book-aggregator/internal/venue/file"
	"book-aggregator/internal/venue/luno"
)

type App struct {
	Config      config.Config
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics
	Alerts      *alert.Manager
	Breaker     *safety.Breaker
	Venues      *venue.Registry
	Coordinator *aggregate.Coordinator

	closers []io.Closer
}

func New(cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if cfg.Observability.MetricsEnabled {
		a.Metrics = metrics.New()
	}

	alerts, err := alert.NewFromConfig(cfg.Service, cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	a.Alerts = alerts

	a.Breaker = safety.NewBreaker(cfg.CircuitBreaker, logger)
	a.Breaker.SetMetrics(a.Metrics)
	if alerts != nil {
		a.Breaker.SetAlerter(alerts)
	}

	raw, closers, err := BuildSources(cfg.Venues, logger)
	if err != nil {
		return nil, err
	}
	a.closers = closers
	reg, err := venue.NewRegistry(raw...)
	if err != nil {
		a.closeSources()
		return nil, err
	}
	if a.Venues, err = safety.Guard(reg, a.Breaker); err != nil {
		a.closeSources()
		return nil, err
	}

	a.Coordinator = aggregate.New(a.Venues, aggregate.Options{
		MaxInFlight:  cfg.Aggregation.MaxInFlight,
		FetchTimeout: time.Duration(cfg.Aggregation.FetchTimeoutMs) * time.Millisecond,
		Policy:       cfg.Aggregation.FailurePolicy,
	}, logger)
	a.Coordinator.SetMetrics(a.Metrics)
	if alerts != nil {
		a.Coordinator.SetAlerter(alerts)
	}

	logger.Info().Strs("venues", a.Venues.Names()).Str("policy", a.Coordinator.Policy().String()).
		Int("max_in_flight", cfg.Aggregation.MaxInFlight).Bool("circuit_breaker", cfg.CircuitBreaker.Enabled).
		Msg("aggregator ready")
	return a, nil
}

// BuildSources creates one source per configured venue, in config order.
// The returned closers release connections held by the sources.
func BuildSources(venues []config.VenueConfig, logger zerolog.Logger) ([]venue.Source, []io.Closer, error) {
	sources := make([]venue.Source, 0, len(venues))
	var closers []io.Closer
	for _, v := range venues {
		switch v.Kind {
		case config.VenueBinance:
			c, err := binance.NewClient(v, logger)
			if err != nil {
				return nil, nil, err
			}
			sources = append(sources, c)
			closers = append(closers, c)
		case config.VenueLuno:
			c, err := luno.NewClient(v, logger)
			if err != nil {
				return nil, nil, err
			}
			sources = append(sources, c)
		case config.VenueFile:
			s, err := file.NewSource(v)
			if err != nil {
				return nil, nil, err
			}
			sources = append(sources, s)
		default:
			return nil, nil, fmt.Errorf("venue %s: unsupported kind %q", v.Name, v.Kind)
		}
	}
	return sources, closers, nil
}

func (a *App) closeSources() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Close releases venue connections and flushes queued alerts.
func (a *App) Close(ctx context.Context) error {
	err := a.closeSources()
	if a.Alerts != nil {
		err = errors.Join(err, a.Alerts.Close(ctx))
	}
	return err
}

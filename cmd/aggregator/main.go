package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"book-aggregator/internal/api"
	"book-aggregator/internal/app"
	"book-aggregator/internal/config"
	"book-aggregator/internal/logging"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var (
		configPath string
		envFile    string
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.StringVar(&envFile, "env", ".env", "dotenv file loaded before the config is expanded")
	flag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fatal(fmt.Sprintf("load %s: %v", envFile, err))
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	logger := logging.New(cfg.Logging, cfg.Service)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build aggregator")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	srv := api.New(cfg.Service, cfg.Server, api.Deps{
		Aggregator: a.Coordinator,
		Venues:     a.Venues.Names,
		Breaker:    a.Breaker,
		Metrics:    a.Metrics,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("http server listening")
		errCh <- srv.Listen(cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
		return
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server forced to shutdown")
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

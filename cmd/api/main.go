// Command api serves the Fairweather HTTP API: event CRUD with weather
// scoring, alternative date search and raw forecast lookups.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"fairweather/internal/api/handlers"
	"fairweather/internal/app"
	"fairweather/internal/config"
	"fairweather/internal/core"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := app.NewLogger(cfg.LogLevel, os.Stdout)
	logger.Info("starting api",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
	)

	ctx := context.Background()
	comps, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring components: %w", err)
	}

	srv, err := newServer(cfg, comps, logger)
	if err != nil {
		_ = comps.Close()
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// newServer builds the HTTP server around comps. The server owns comps and
// closes them on Shutdown.
func newServer(cfg *config.Config, comps *app.Components, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = comps.Metrics
	srv.HealthProbes = comps.HealthProbes()
	srv.Closers = append(srv.Closers, comps)

	eventHandler := handlers.NewEventHandler(comps.Events, srv.Validator, logger)
	weatherHandler := handlers.NewWeatherHandler(comps.Provider, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { r.Route("/events", eventHandler.RegisterRoutes) },
		func(r chi.Router) { r.Route("/weather", weatherHandler.RegisterRoutes) },
		func(r chi.Router) { r.Get("/event-types", handlers.HandleEventTypes) },
	)

	srv.MountRoutes()
	return srv, nil
}

// runHTTPServer serves until SIGINT/SIGTERM or a listener error, then drains
// in-flight requests and closes srv within the shutdown timeout.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("draining connections", "error", err)
		}
		return srv.Shutdown(ctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// Package main is the entrypoint for the Rescorer Lambda function.
//
// An EventBridge schedule invokes the handler periodically. Each invocation
// refreshes the forecast and score of every event inside the lookahead
// window and publishes the outcome counts as metrics. Outside Lambda the
// binary performs a single pass and prints the summary as JSON.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"fairweather/internal/app"
	"fairweather/internal/config"
	"fairweather/internal/events"
)

const maxLookaheadDays = 16

// RescorePayload is the EventBridge input. LookaheadDays overrides the
// configured window when set.
type RescorePayload struct {
	LookaheadDays *int `json:"lookahead_days,omitempty"`
}

// Rescorer refreshes stored event scores.
type Rescorer interface {
	Rescore(ctx context.Context, lookahead time.Duration) (events.RescoreSummary, error)
}

// RescoreMetrics receives per-pass outcome counts.
type RescoreMetrics interface {
	RecordRescore(ctx context.Context, scored, unknown, failed int)
}

// flusher is implemented by metrics publishers that buffer.
type flusher interface {
	Flush(ctx context.Context) error
}

// Handler holds the dependencies of the rescoring function. They are built
// once per cold start and reused across invocations.
type Handler struct {
	Service   Rescorer
	Metrics   RescoreMetrics
	Lookahead time.Duration
	Logger    *slog.Logger
}

// Handle runs one rescoring pass.
func (h *Handler) Handle(ctx context.Context, payload RescorePayload) (events.RescoreSummary, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lookahead := h.Lookahead
	if payload.LookaheadDays != nil {
		days := *payload.LookaheadDays
		if days < 1 || days > maxLookaheadDays {
			return events.RescoreSummary{}, fmt.Errorf("lookahead_days must be between 1 and %d, got %d", maxLookaheadDays, days)
		}
		lookahead = time.Duration(days) * 24 * time.Hour
	}

	logger.InfoContext(ctx, "rescorer invoked", "lookahead", lookahead.String())
	summary, err := h.Service.Rescore(ctx, lookahead)

	if h.Metrics != nil {
		h.Metrics.RecordRescore(ctx, summary.Scored, summary.Unknown, summary.Failed)
		if f, ok := h.Metrics.(flusher); ok {
			if ferr := f.Flush(context.WithoutCancel(ctx)); ferr != nil {
				logger.WarnContext(ctx, "failed to flush metrics", "error", ferr)
			}
		}
	}

	if err != nil {
		logger.ErrorContext(ctx, "rescore pass interrupted", "error", err, "checked", summary.Checked)
		return summary, fmt.Errorf("rescore: %w", err)
	}
	return summary, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg.LogLevel, os.Stdout)

	comps, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire components", "error", err)
		os.Exit(1)
	}
	defer comps.Close()

	h := &Handler{
		Service:   comps.Events,
		Metrics:   comps.Metrics,
		Lookahead: cfg.Rescore.Lookahead(),
		Logger:    logger,
	}

	if isLambdaEnvironment() {
		lambda.Start(h.Handle)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := h.Handle(ctx, RescorePayload{})
	_ = json.NewEncoder(os.Stdout).Encode(summary)
	if err != nil {
		logger.Error("rescore failed", "error", err)
		stop()
		_ = comps.Close()
		os.Exit(1)
	}
}

func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	return hasRuntimeAPI
}

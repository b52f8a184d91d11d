// Package db provides the persistent event stores. The PostgreSQL repository
// accepts a DBTX so it runs against a *pgxpool.Pool or inside a pgx.Tx; the
// SQLite store backs single-node and CLI deployments.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fairweather/internal/config"
	"fairweather/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPool opens a pgx pool tuned from the store configuration and verifies
// connectivity before returning.
func NewPool(ctx context.Context, cfg config.StoreConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// forecastArg returns the forecast as a JSONB argument, or nil for NULL.
func forecastArg(f *types.ForecastRecord) any {
	if f == nil {
		return nil
	}
	return *f
}

// decodeForecast unmarshals a nullable JSON column.
func decodeForecast(raw []byte) (*types.ForecastRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var f types.ForecastRecord
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}
	return &f, nil
}

func decodeAnalysis(raw []byte) (types.WeatherAnalysis, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var a types.WeatherAnalysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return a, nil
}

func errEventNotFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundEvent, "event not found", nil,
		map[string]any{"event_id": id})
}

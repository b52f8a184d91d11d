package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"fairweather/internal/types"
)

// EventRepository provides data access for the events table.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates an EventRepository backed by the given
// connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

// eventColumns is the column order expected by scanEvent.
const eventColumns = `id, name, location, event_date, event_type, description,
	forecast, score, condition, analysis, created_at, updated_at`

func scanEvent(row pgx.Row) (*types.Event, error) {
	var (
		e           types.Event
		description *string
		forecast    []byte
		analysis    []byte
	)
	err := row.Scan(
		&e.ID,
		&e.Name,
		&e.Location,
		&e.Date,
		&e.EventType,
		&description,
		&forecast,
		&e.Score,
		&e.Condition,
		&analysis,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description != nil {
		e.Description = *description
	}
	if e.Forecast, err = decodeForecast(forecast); err != nil {
		return nil, err
	}
	if e.Analysis, err = decodeAnalysis(analysis); err != nil {
		return nil, err
	}
	e.Date = e.Date.UTC()
	return &e, nil
}

// Create inserts a new event. The caller assigns the ID.
func (r *EventRepository) Create(ctx context.Context, e *types.Event) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, location, event_date, event_type, description,
		 forecast, score, condition, analysis, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()), COALESCE($12, NOW()))`,
		e.ID,
		e.Name,
		e.Location,
		e.Date,
		e.EventType,
		nilIfEmpty(e.Description),
		forecastArg(e.Forecast),
		e.Score,
		e.Condition,
		e.Analysis,
		nilIfZeroTime(e.CreatedAt),
		nilIfZeroTime(e.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create event", err)
	}
	return nil
}

// GetByID retrieves a single event.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*types.Event, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errEventNotFound(id)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve event", err)
	}
	return e, nil
}

// List returns events ordered by date, then creation time. The filter's date
// bounds are inclusive.
func (r *EventRepository) List(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	var (
		where []string
		args  []any
	)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("event_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("event_date <= $%d", len(args)))
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY event_date ASC, created_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list events", err)
	}
	defer rows.Close()

	events := make([]*types.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan event row", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating event rows", err)
	}
	return events, nil
}

// Update writes every mutable column. updated_at is set from the event when
// present so callers with an injected clock stay deterministic.
func (r *EventRepository) Update(ctx context.Context, e *types.Event) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events
		 SET name = $1,
		     location = $2,
		     event_date = $3,
		     event_type = $4,
		     description = $5,
		     forecast = $6,
		     score = $7,
		     condition = $8,
		     analysis = $9,
		     updated_at = COALESCE($10, NOW())
		 WHERE id = $11`,
		e.Name,
		e.Location,
		e.Date,
		e.EventType,
		nilIfEmpty(e.Description),
		forecastArg(e.Forecast),
		e.Score,
		e.Condition,
		e.Analysis,
		nilIfZeroTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update event", err)
	}
	if tag.RowsAffected() == 0 {
		return errEventNotFound(e.ID)
	}
	return nil
}

// UpdateScore writes the scoring columns while the event's location, date
// and type still match e. A concurrent edit to any of them makes it a no-op.
func (r *EventRepository) UpdateScore(ctx context.Context, e *types.Event) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE events
		 SET forecast = $1,
		     score = $2,
		     condition = $3,
		     analysis = $4,
		     updated_at = COALESCE($5, NOW())
		 WHERE id = $6 AND location = $7 AND event_date = $8 AND event_type = $9`,
		forecastArg(e.Forecast),
		e.Score,
		e.Condition,
		e.Analysis,
		nilIfZeroTime(e.UpdatedAt),
		e.ID,
		e.Location,
		e.Date,
		e.EventType,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update event score", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes an event permanently.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	if tag.RowsAffected() == 0 {
		return errEventNotFound(id)
	}
	return nil
}

// Ping runs a trivial query for health probes.
func (r *EventRepository) Ping(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database unreachable", err)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fairweather/internal/types"
)

// sqliteTime is fixed width so lexical order matches chronological order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	location    TEXT NOT NULL,
	event_date  TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	description TEXT,
	forecast    TEXT,
	score       INTEGER,
	condition   TEXT NOT NULL DEFAULT 'unknown',
	analysis    TEXT,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_event_date ON events(event_date);
`

// SQLiteStore persists events in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating events table: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database handle for health probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database unreachable", err)
	}
	return nil
}

func (s *SQLiteStore) stamp(t time.Time) string {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC().Format(sqliteTime)
}

func jsonText(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func eventArgs(e *types.Event) (forecast, analysis sql.NullString, score sql.NullInt64, err error) {
	if e.Forecast != nil {
		if forecast, err = jsonText(e.Forecast); err != nil {
			return
		}
	}
	if e.Analysis != nil {
		if analysis, err = jsonText(e.Analysis); err != nil {
			return
		}
	}
	if e.Score != nil {
		score = sql.NullInt64{Int64: int64(*e.Score), Valid: true}
	}
	return
}

// Create inserts a new event. The caller assigns the ID.
func (s *SQLiteStore) Create(ctx context.Context, e *types.Event) error {
	forecast, analysis, score, err := eventArgs(e)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode event", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (id, name, location, event_date, event_type, description,
		 forecast, score, condition, analysis, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Location, e.Date.UTC().Format(sqliteTime), string(e.EventType),
		nilIfEmpty(e.Description), forecast, score, string(e.Condition), analysis,
		s.stamp(e.CreatedAt), s.stamp(e.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create event", err)
	}
	return nil
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEvent(row sqlScanner) (*types.Event, error) {
	var (
		e                      types.Event
		date, created, updated string
		eventType, condition   string
		description            sql.NullString
		forecast, analysis     sql.NullString
		score                  sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Location, &date, &eventType, &description,
		&forecast, &score, &condition, &analysis, &created, &updated); err != nil {
		return nil, err
	}

	var err error
	if e.Date, err = time.Parse(sqliteTime, date); err != nil {
		return nil, fmt.Errorf("parse event_date: %w", err)
	}
	if e.CreatedAt, err = time.Parse(sqliteTime, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(sqliteTime, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	e.EventType = types.EventType(eventType)
	e.Condition = types.Condition(condition)
	e.Description = description.String
	if score.Valid {
		v := int(score.Int64)
		e.Score = &v
	}
	if forecast.Valid {
		if e.Forecast, err = decodeForecast([]byte(forecast.String)); err != nil {
			return nil, err
		}
	}
	if analysis.Valid {
		if e.Analysis, err = decodeAnalysis([]byte(analysis.String)); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

const sqliteColumns = `id, name, location, event_date, event_type, description,
	forecast, score, condition, analysis, created_at, updated_at`

// GetByID retrieves a single event.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM events WHERE id = ?`, id)
	e, err := scanSQLiteEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errEventNotFound(id)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve event", err)
	}
	return e, nil
}

// List returns events ordered by date, then creation time.
func (s *SQLiteStore) List(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	var (
		where []string
		args  []any
	)
	if !filter.From.IsZero() {
		where = append(where, "event_date >= ?")
		args = append(args, filter.From.UTC().Format(sqliteTime))
	}
	if !filter.To.IsZero() {
		where = append(where, "event_date <= ?")
		args = append(args, filter.To.UTC().Format(sqliteTime))
	}
	query := `SELECT ` + sqliteColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY event_date ASC, created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list events", err)
	}
	defer rows.Close()

	events := make([]*types.Event, 0)
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
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

// Update writes every mutable column.
func (s *SQLiteStore) Update(ctx context.Context, e *types.Event) error {
	forecast, analysis, score, err := eventArgs(e)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to encode event", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events
		 SET name = ?, location = ?, event_date = ?, event_type = ?, description = ?,
		     forecast = ?, score = ?, condition = ?, analysis = ?, updated_at = ?
		 WHERE id = ?`,
		e.Name, e.Location, e.Date.UTC().Format(sqliteTime), string(e.EventType),
		nilIfEmpty(e.Description), forecast, score, string(e.Condition), analysis,
		s.stamp(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errEventNotFound(e.ID)
	}
	return nil
}

// UpdateScore writes the scoring columns while the event's location, date
// and type still match e.
func (s *SQLiteStore) UpdateScore(ctx context.Context, e *types.Event) (bool, error) {
	forecast, analysis, score, err := eventArgs(e)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to encode event", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events
		 SET forecast = ?, score = ?, condition = ?, analysis = ?, updated_at = ?
		 WHERE id = ? AND location = ? AND event_date = ? AND event_type = ?`,
		forecast, score, string(e.Condition), analysis, s.stamp(e.UpdatedAt),
		e.ID, e.Location, e.Date.UTC().Format(sqliteTime), string(e.EventType),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update event score", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to update event score", err)
	}
	return n > 0, nil
}

// Delete removes an event permanently.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errEventNotFound(id)
	}
	return nil
}

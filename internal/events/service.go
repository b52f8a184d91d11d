// Package events manages scored events: it validates user input, attaches a
// forecast and suitability score, persists through a Store and keeps stored
// scores fresh as forecasts change.
package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fairweather/internal/alternatives"
	"fairweather/internal/forecasts"
	"fairweather/internal/scoring"
	"fairweather/internal/types"
)

const (
	maxNameLength             = 200
	defaultRescoreConcurrency = 4
)

// AlternativeFinder searches for better dates near an event.
type AlternativeFinder interface {
	Find(ctx context.Context, req alternatives.Request) (*alternatives.Result, error)
}

// Defaults are applied to alternative searches when the caller leaves a knob
// unset.
type Defaults struct {
	WindowDays         int
	MinImprovement     float64
	Limit              int
	RescoreConcurrency int
}

// CreateRequest carries the user-supplied fields of a new event. An empty
// EventType means general.
type CreateRequest struct {
	Name        string
	Location    string
	Date        time.Time
	EventType   types.EventType
	Description string
}

// UpdateRequest is a partial update; nil fields are left unchanged.
type UpdateRequest struct {
	Name        *string
	Location    *string
	Date        *time.Time
	EventType   *types.EventType
	Description *string
}

// AlternativesOptions overrides the configured search defaults.
type AlternativesOptions struct {
	WindowDays     *int
	MinImprovement *float64
	Limit          *int
}

// RescoreSummary reports one rescoring pass. Stale counts events that were
// edited or deleted while their forecast was being fetched; their new score
// was discarded.
type RescoreSummary struct {
	Checked int `json:"checked"`
	Scored  int `json:"scored"`
	Unknown int `json:"unknown"`
	Stale   int `json:"stale"`
	Failed  int `json:"failed"`
}

// Service implements the event operations.
type Service struct {
	store    Store
	provider forecasts.Provider
	finder   AlternativeFinder
	clock    types.Clock
	logger   *slog.Logger
	defaults Defaults
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects the time source.
func WithClock(c types.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithDefaults sets the search and rescoring defaults.
func WithDefaults(d Defaults) Option {
	return func(s *Service) { s.defaults = d }
}

// WithIDGenerator replaces the UUID generator, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService wires a Service.
func NewService(store Store, provider forecasts.Provider, finder AlternativeFinder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:    store,
		provider: provider,
		finder:   finder,
		clock:    types.RealClock{},
		logger:   logger,
		defaults: Defaults{
			WindowDays:     3,
			MinImprovement: alternatives.DefaultMinImprovement,
			Limit:          5,
		},
		newID: func() string { return "evt_" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaults.RescoreConcurrency < 1 {
		s.defaults.RescoreConcurrency = defaultRescoreConcurrency
	}
	return s
}

// Create validates and scores a new event, then persists it. An event whose
// forecast cannot be obtained is still created with condition unknown; an
// unknown location fails the call.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*types.Event, error) {
	if req.EventType == "" {
		req.EventType = types.EventTypeGeneral
	}
	now := s.clock.Now()
	e := &types.Event{
		ID:          s.newID(),
		Name:        strings.TrimSpace(req.Name),
		Location:    strings.TrimSpace(req.Location),
		Date:        req.Date.UTC(),
		EventType:   req.EventType,
		Description: strings.TrimSpace(req.Description),
		Condition:   types.ConditionUnknown,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.validate(e, true); err != nil {
		return nil, err
	}
	if err := s.evaluate(ctx, e, false); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "event created",
		"event_id", e.ID,
		"event_type", e.EventType,
		"condition", e.Condition,
	)
	return e, nil
}

// Get returns a stored event.
func (s *Service) Get(ctx context.Context, id string) (*types.Event, error) {
	return s.store.GetByID(ctx, id)
}

// List returns stored events ordered by date.
func (s *Service) List(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	return s.store.List(ctx, filter)
}

// ListUpcoming returns events whose date falls in [from, to].
func (s *Service) ListUpcoming(ctx context.Context, from, to time.Time) ([]*types.Event, error) {
	if !to.IsZero() && to.Before(from) {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
			"end of range is before its start", nil,
			map[string]any{"from": from, "to": to})
	}
	return s.store.List(ctx, types.EventFilter{From: from, To: to})
}

// Update applies a partial update. Changing the location, date or event type
// refreshes the forecast and score.
func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*types.Event, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rescore := false
	if req.Name != nil {
		e.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		e.Description = strings.TrimSpace(*req.Description)
	}
	if req.Location != nil {
		loc := strings.TrimSpace(*req.Location)
		rescore = rescore || loc != e.Location
		e.Location = loc
	}
	dateChanged := false
	if req.Date != nil {
		d := req.Date.UTC()
		dateChanged = !d.Equal(e.Date)
		rescore = rescore || dateChanged
		e.Date = d
	}
	if req.EventType != nil {
		rescore = rescore || *req.EventType != e.EventType
		e.EventType = *req.EventType
	}

	if err := s.validate(e, dateChanged); err != nil {
		return nil, err
	}
	if rescore {
		if err := s.evaluate(ctx, e, false); err != nil {
			return nil, err
		}
	}
	e.UpdatedAt = s.clock.Now()
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "event updated", "event_id", e.ID, "rescored", rescore)
	return e, nil
}

// Delete removes an event.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "event deleted", "event_id", id)
	return nil
}

// WeatherCheck refreshes the stored forecast and score and returns the
// stored event. Provider failures are returned to the caller and leave the
// stored event untouched; a date beyond the forecast horizon records
// condition unknown. If the event's location, date or type is edited while
// the forecast is fetched, the edit wins and the fetched score is dropped.
func (s *Service) WeatherCheck(ctx context.Context, id string) (*types.Event, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.evaluate(ctx, e, true); err != nil {
		return nil, err
	}
	e.UpdatedAt = s.clock.Now()
	applied, err := s.store.UpdateScore(ctx, e)
	if err != nil {
		return nil, err
	}
	if !applied {
		s.logger.InfoContext(ctx, "event changed during weather check, score discarded", "event_id", id)
	}
	return s.store.GetByID(ctx, id)
}

// Alternatives searches for better dates around a stored event.
func (s *Service) Alternatives(ctx context.Context, id string, opts AlternativesOptions) (*alternatives.Result, error) {
	e, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req := alternatives.Request{
		Location:       e.Location,
		OriginalDate:   e.Date,
		EventType:      e.EventType,
		WindowDays:     s.defaults.WindowDays,
		MinImprovement: s.defaults.MinImprovement,
		Limit:          s.defaults.Limit,
	}
	if opts.WindowDays != nil {
		req.WindowDays = *opts.WindowDays
	}
	if opts.MinImprovement != nil {
		req.MinImprovement = *opts.MinImprovement
	}
	if opts.Limit != nil {
		req.Limit = *opts.Limit
	}

	res, err := s.finder.Find(ctx, req)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, appErr.WithDetails(map[string]any{"event_id": id})
		}
		return nil, err
	}
	return res, nil
}

// Rescore refreshes every event dated between now and now+lookahead. Events
// are processed concurrently; a failure on one event is counted and logged
// and does not stop the pass. The returned error is non-nil only when the
// events could not be listed or ctx ended.
func (s *Service) Rescore(ctx context.Context, lookahead time.Duration) (RescoreSummary, error) {
	now := s.clock.Now()
	upcoming, err := s.store.List(ctx, types.EventFilter{From: now, To: now.Add(lookahead)})
	if err != nil {
		return RescoreSummary{}, err
	}

	var (
		mu      sync.Mutex
		summary = RescoreSummary{Checked: len(upcoming)}
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.defaults.RescoreConcurrency)

	for _, e := range upcoming {
		g.Go(func() error {
			if gCtx.Err() != nil {
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return nil
			}
			outcome := s.rescoreOne(gCtx, e)
			mu.Lock()
			switch outcome {
			case rescoreScored:
				summary.Scored++
			case rescoreUnknown:
				summary.Unknown++
			case rescoreStale:
				summary.Stale++
			default:
				summary.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "rescore pass complete",
		"checked", summary.Checked,
		"scored", summary.Scored,
		"unknown", summary.Unknown,
		"stale", summary.Stale,
		"failed", summary.Failed,
	)
	return summary, ctx.Err()
}

type rescoreOutcome int

const (
	rescoreFailed rescoreOutcome = iota
	rescoreScored
	rescoreUnknown
	rescoreStale
)

func (s *Service) rescoreOne(ctx context.Context, e *types.Event) rescoreOutcome {
	if err := s.evaluate(ctx, e, true); err != nil {
		s.logger.WarnContext(ctx, "rescore failed", "event_id", e.ID, "code", types.CodeOf(err), "error", err)
		return rescoreFailed
	}
	e.UpdatedAt = s.clock.Now()
	applied, err := s.store.UpdateScore(ctx, e)
	if err != nil {
		s.logger.WarnContext(ctx, "rescore persist failed", "event_id", e.ID, "error", err)
		return rescoreFailed
	}
	if !applied {
		s.logger.InfoContext(ctx, "event changed during rescore, score discarded", "event_id", e.ID)
		return rescoreStale
	}
	if e.Score == nil {
		return rescoreUnknown
	}
	return rescoreScored
}

// evaluate fetches the forecast for e and applies the score. An unknown
// location always fails. A date with no forecast records unknown. Other
// provider errors degrade to unknown unless strict is set.
func (s *Service) evaluate(ctx context.Context, e *types.Event, strict bool) error {
	profile, err := scoring.ProfileFor(e.EventType)
	if err != nil {
		return err
	}
	forecast, err := s.provider.GetForecast(ctx, e.Location, e.Date)
	switch {
	case err == nil:
		result := scoring.Score(forecast, profile)
		e.ApplyResult(forecast, &result)
		return nil
	case types.IsCode(err, types.ErrCodeNotFoundLocation):
		return err
	case types.IsCode(err, types.ErrCodeNotFoundForecast):
		s.logger.DebugContext(ctx, "no forecast for event date", "event_id", e.ID, "date", e.Date)
		e.ApplyResult(nil, nil)
		return nil
	case strict || ctx.Err() != nil:
		return err
	default:
		s.logger.WarnContext(ctx, "forecast unavailable, scoring deferred",
			"event_id", e.ID,
			"location", e.Location,
			"code", types.CodeOf(err),
			"error", err,
		)
		e.ApplyResult(nil, nil)
		return nil
	}
}

func (s *Service) validate(e *types.Event, checkDate bool) error {
	switch {
	case e.Name == "":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "name is required", nil,
			map[string]any{"field": "name"})
	case len(e.Name) > maxNameLength:
		return types.NewAppErrorWithDetails(types.ErrCodeValidationFailed, "name is too long", nil,
			map[string]any{"field": "name", "max": maxNameLength})
	case e.Location == "":
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidLocation, "location is required", nil,
			map[string]any{"field": "location"})
	case e.Date.IsZero():
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField, "date is required", nil,
			map[string]any{"field": "date"})
	}
	if _, err := types.ParseEventType(string(e.EventType)); err != nil {
		return err
	}
	if checkDate {
		now := s.clock.Now().UTC()
		today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		if e.Date.Before(today) {
			return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDate,
				"event date must not be in the past", nil,
				map[string]any{"date": e.Date})
		}
	}
	return nil
}

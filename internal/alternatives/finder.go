// Package alternatives searches nearby dates for better event weather.
package alternatives

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fairweather/internal/forecasts"
	"fairweather/internal/scoring"
	"fairweather/internal/types"
)

const (
	// DefaultConcurrency bounds concurrent candidate fetches.
	DefaultConcurrency = 5

	// MaxWindowDays is the widest search window accepted.
	MaxWindowDays = 14

	// DefaultMinImprovement is the raw-score margin a candidate must exceed.
	DefaultMinImprovement = 1.0
)

// ScoreFunc scores a forecast against a profile.
type ScoreFunc func(*types.ForecastRecord, scoring.Profile) types.SuitabilityResult

// MetricsRecorder receives a summary of each search.
type MetricsRecorder interface {
	RecordFind(ctx context.Context, eventType string, considered, returned int, partial bool, elapsed time.Duration)
}

// Request describes an alternative-date search.
// Limit of zero returns every qualifying candidate.
type Request struct {
	Location       string
	OriginalDate   time.Time
	EventType      types.EventType
	WindowDays     int
	MinImprovement float64
	Limit          int
}

// Candidate is a scored date.
type Candidate struct {
	Date        time.Time               `json:"date"`
	Forecast    types.ForecastRecord    `json:"forecast"`
	Result      types.SuitabilityResult `json:"result"`
	Improvement float64                 `json:"improvement"`
}

// Skipped records a candidate date that could not be scored.
type Skipped struct {
	Date time.Time       `json:"date"`
	Code types.ErrorCode `json:"code"`
}

// Result is the outcome of a search. Alternatives are strictly better than
// the original by more than the requested margin, best first.
type Result struct {
	Location     string          `json:"location"`
	EventType    types.EventType `json:"event_type"`
	Original     Candidate       `json:"original"`
	Alternatives []Candidate     `json:"alternatives"`
	Considered   int             `json:"considered"`
	Partial      bool            `json:"partial"`
	Skipped      []Skipped       `json:"skipped,omitempty"`
}

// Finder scores candidate dates around an event's original date.
type Finder struct {
	provider    forecasts.Provider
	logger      *slog.Logger
	clock       types.Clock
	score       ScoreFunc
	metrics     MetricsRecorder
	concurrency int
}

// Option configures a Finder.
type Option func(*Finder)

// WithConcurrency sets the fan-out limit. Values below 1 are ignored.
func WithConcurrency(n int) Option {
	return func(f *Finder) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithScorer replaces the scoring function.
func WithScorer(fn ScoreFunc) Option {
	return func(f *Finder) { f.score = fn }
}

// WithClock sets the clock used for horizon clipping.
func WithClock(c types.Clock) Option {
	return func(f *Finder) { f.clock = c }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(f *Finder) { f.metrics = m }
}

// NewFinder creates a Finder backed by provider.
func NewFinder(provider forecasts.Provider, logger *slog.Logger, opts ...Option) *Finder {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Finder{
		provider:    provider,
		logger:      logger,
		clock:       types.RealClock{},
		score:       scoring.Score,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find scores the original date, then each day in the window after it, and
// returns the candidates whose raw score exceeds the original's raw score by
// more than MinImprovement.
//
// A failure to score the original date aborts the search. Candidate failures
// are logged and reported in Skipped. If ctx ends before every candidate has
// been scored, the completed candidates are returned with Partial set.
func (f *Finder) Find(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}
	profile, err := scoring.ProfileFor(req.EventType)
	if err != nil {
		return nil, err
	}

	origForecast, err := f.provider.GetForecast(ctx, req.Location, req.OriginalDate)
	if err != nil {
		return nil, withSearchDetails(err, req, req.OriginalDate)
	}
	origResult := f.score(origForecast, profile)

	result := &Result{
		Location:     req.Location,
		EventType:    req.EventType,
		Original:     Candidate{Date: req.OriginalDate, Forecast: *origForecast, Result: origResult},
		Alternatives: []Candidate{},
	}

	dates := f.candidateDates(req)
	result.Considered = len(dates)

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for _, date := range dates {
		if gCtx.Err() != nil {
			mu.Lock()
			result.Skipped = append(result.Skipped, Skipped{Date: date, Code: types.ErrCodeUpstreamTimeout})
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			forecast, err := f.provider.GetForecast(gCtx, req.Location, date)
			if err != nil {
				code := codeFor(err)
				f.logger.Debug("alternative candidate dropped",
					"location", req.Location,
					"date", date.Format(time.DateOnly),
					"code", code,
					"error", err,
				)
				mu.Lock()
				result.Skipped = append(result.Skipped, Skipped{Date: date, Code: code})
				mu.Unlock()
				// Isolated: one bad date must not fail the search.
				return nil
			}

			res := f.score(forecast, profile)
			if res.Raw <= origResult.Raw+req.MinImprovement {
				return nil
			}

			mu.Lock()
			result.Alternatives = append(result.Alternatives, Candidate{
				Date:        date,
				Forecast:    *forecast,
				Result:      res,
				Improvement: res.Raw - origResult.Raw,
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "alternative search failed", err)
	}

	result.Partial = ctx.Err() != nil && slices.ContainsFunc(result.Skipped, func(s Skipped) bool {
		return s.Code == types.ErrCodeUpstreamTimeout
	})
	rank(result.Alternatives)
	slices.SortFunc(result.Skipped, func(a, b Skipped) int { return a.Date.Compare(b.Date) })
	if req.Limit > 0 && len(result.Alternatives) > req.Limit {
		result.Alternatives = result.Alternatives[:req.Limit]
	}

	if result.Partial {
		f.logger.Warn("alternative search cut short",
			"location", req.Location,
			"completed", result.Considered-len(result.Skipped),
			"considered", result.Considered,
		)
	}
	if f.metrics != nil {
		f.metrics.RecordFind(ctx, string(req.EventType), result.Considered, len(result.Alternatives), result.Partial, time.Since(start))
	}

	return result, nil
}

// candidateDates returns OriginalDate + d days for d in 1..WindowDays,
// dropping dates past the provider's horizon.
func (f *Finder) candidateDates(req Request) []time.Time {
	var limit time.Time
	if h := forecasts.HorizonOf(f.provider); h > 0 {
		limit = f.clock.Now().Add(h)
	}

	dates := make([]time.Time, 0, req.WindowDays)
	for d := 1; d <= req.WindowDays; d++ {
		date := req.OriginalDate.AddDate(0, 0, d)
		if !limit.IsZero() && date.After(limit) {
			break
		}
		dates = append(dates, date)
	}
	return dates
}

// rank orders candidates by raw score descending, then earliest date.
func rank(cs []Candidate) {
	slices.SortFunc(cs, func(a, b Candidate) int {
		if c := cmp.Compare(b.Result.Raw, a.Result.Raw); c != 0 {
			return c
		}
		return a.Date.Compare(b.Date)
	})
}

func validate(req Request) error {
	switch {
	case strings.TrimSpace(req.Location) == "":
		return types.NewAppError(types.ErrCodeValidationInvalidLocation, "location is required", nil)
	case req.OriginalDate.IsZero():
		return types.NewAppError(types.ErrCodeValidationInvalidDate, "original date is required", nil)
	case req.WindowDays < 1 || req.WindowDays > MaxWindowDays:
		return types.NewAppErrorWithDetails(types.ErrCodeValidationWindow,
			fmt.Sprintf("window_days must be between 1 and %d", MaxWindowDays), nil,
			map[string]any{"window_days": req.WindowDays})
	case req.MinImprovement < 0 || math.IsNaN(req.MinImprovement) || math.IsInf(req.MinImprovement, 0):
		return types.NewAppErrorWithDetails(types.ErrCodeValidationImprovement,
			"min_improvement must be a non-negative number", nil,
			map[string]any{"min_improvement": req.MinImprovement})
	case req.Limit < 0:
		return types.NewAppError(types.ErrCodeValidationFailed, "limit must not be negative", nil)
	}
	return nil
}

func codeFor(err error) types.ErrorCode {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return types.ErrCodeUpstreamTimeout
	}
	if code := types.CodeOf(err); code != "" {
		return code
	}
	return types.ErrCodeUpstreamForecast
}

func withSearchDetails(err error, req Request, date time.Time) error {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return types.NewAppErrorWithDetails(codeFor(err), "failed to fetch forecast for original date", err,
			map[string]any{"location": req.Location, "date": date.Format(time.DateOnly)})
	}
	return appErr.WithDetails(map[string]any{
		"location":   req.Location,
		"date":       date.Format(time.DateOnly),
		"event_type": string(req.EventType),
	})
}

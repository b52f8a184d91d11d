package alternatives

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairweather/internal/scoring"
	"fairweather/internal/types"
)

var origDate = time.Date(2026, 10, 20, 12, 0, 0, 0, time.UTC)

func day(d int) time.Time { return origDate.AddDate(0, 0, d) }

// scriptedProvider returns forecasts whose Temperature carries the raw score
// the test wants the candidate to receive.
type scriptedProvider struct {
	mu       sync.Mutex
	scores   map[time.Time]float64
	errs     map[time.Time]error
	block    map[time.Time]bool
	horizon  time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (p *scriptedProvider) GetForecast(ctx context.Context, _ string, when time.Time) (*types.ForecastRecord, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxSeen.Load()
		if n <= m || p.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	blocked := p.block[when]
	err := p.errs[when]
	score, ok := p.scores[when]
	p.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "no forecast", nil)
	}
	return &types.ForecastRecord{Temperature: types.Float(score), Timestamp: when}, nil
}

func (p *scriptedProvider) GetForecastSeries(context.Context, string, int) ([]types.ForecastRecord, error) {
	return nil, errors.New("not used")
}

type horizonProvider struct {
	*scriptedProvider
}

func (h horizonProvider) Horizon() time.Duration { return h.horizon }

func rawScorer(f *types.ForecastRecord, _ scoring.Profile) types.SuitabilityResult {
	raw := *f.Temperature
	rounded := int(math.Round(raw))
	return types.SuitabilityResult{Score: rounded, Raw: raw, Condition: types.ConditionFor(rounded)}
}

func baseRequest(window int) Request {
	return Request{
		Location:       "Paris",
		OriginalDate:   origDate,
		EventType:      types.EventTypeOutdoorSports,
		WindowDays:     window,
		MinImprovement: DefaultMinImprovement,
	}
}

func newTestFinder(p *scriptedProvider, opts ...Option) *Finder {
	return NewFinder(p, nil, append([]Option{WithScorer(rawScorer)}, opts...)...)
}

func TestFind_ReturnsOnlyBetterCandidate(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{
		day(0): 50,
		day(1): 70,
		day(2): 45,
		day(3): 50.5,
	}}

	res, err := newTestFinder(p).Find(context.Background(), baseRequest(3))
	require.NoError(t, err)

	assert.Equal(t, 50, res.Original.Result.Score)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, day(1), res.Alternatives[0].Date)
	assert.Equal(t, 70, res.Alternatives[0].Result.Score)
	assert.InDelta(t, 20, res.Alternatives[0].Improvement, 1e-9)
	assert.Equal(t, 3, res.Considered)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Skipped)
}

func TestFind_ThresholdIsStrictlyGreater(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{
		day(0): 60,
		day(1): 65,
		day(2): 65.0001,
		day(3): 64.9,
	}}
	req := baseRequest(3)
	req.MinImprovement = 5

	res, err := newTestFinder(p).Find(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, day(2), res.Alternatives[0].Date)
	for _, c := range res.Alternatives {
		assert.Greater(t, c.Result.Raw, res.Original.Result.Raw+req.MinImprovement)
	}
}

func TestFind_ZeroImprovementExcludesEqualScores(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{day(0): 40, day(1): 40, day(2): 41}}
	req := baseRequest(2)
	req.MinImprovement = 0

	res, err := newTestFinder(p).Find(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, day(2), res.Alternatives[0].Date)
}

func TestFind_SortedByScoreThenEarliestDate(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{
		day(0): 10,
		day(1): 55,
		day(2): 80,
		day(3): 55,
		day(4): 90,
		day(5): 80,
	}}

	res, err := newTestFinder(p).Find(context.Background(), baseRequest(5))
	require.NoError(t, err)

	got := make([]time.Time, len(res.Alternatives))
	for i, c := range res.Alternatives {
		got[i] = c.Date
	}
	assert.Equal(t, []time.Time{day(4), day(2), day(5), day(1), day(3)}, got)
}

func TestFind_LimitAppliedAfterRanking(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{
		day(0): 10, day(1): 30, day(2): 90, day(3): 60,
	}}
	req := baseRequest(3)
	req.Limit = 2

	res, err := newTestFinder(p).Find(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Alternatives, 2)
	assert.Equal(t, day(2), res.Alternatives[0].Date)
	assert.Equal(t, day(3), res.Alternatives[1].Date)
}

func TestFind_EmptyListIsNotAnError(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{day(0): 95, day(1): 20, day(2): 30}}

	res, err := newTestFinder(p).Find(context.Background(), baseRequest(2))
	require.NoError(t, err)
	assert.NotNil(t, res.Alternatives)
	assert.Empty(t, res.Alternatives)
}

func TestFind_OriginalFailureAborts(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code types.ErrorCode
	}{
		{"location not found", types.NewAppError(types.ErrCodeNotFoundLocation, "unknown place", nil), types.ErrCodeNotFoundLocation},
		{"forecast unavailable", types.NewAppError(types.ErrCodeNotFoundForecast, "beyond horizon", nil), types.ErrCodeNotFoundForecast},
		{"plain error", errors.New("socket closed"), types.ErrCodeUpstreamForecast},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{
				scores: map[time.Time]float64{day(1): 99},
				errs:   map[time.Time]error{day(0): tt.err},
			}
			_, err := newTestFinder(p).Find(context.Background(), baseRequest(2))
			require.Error(t, err)
			assert.Equal(t, tt.code, types.CodeOf(err))

			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, "Paris", appErr.Details["location"])
			assert.Equal(t, "2026-10-20", appErr.Details["date"])
		})
	}
}

func TestFind_CandidateFailuresAreSkipped(t *testing.T) {
	p := &scriptedProvider{
		scores: map[time.Time]float64{day(0): 50, day(2): 75},
		errs: map[time.Time]error{
			day(1): types.NewAppError(types.ErrCodeUpstreamRateLimited, "slow down", nil),
		},
	}

	res, err := newTestFinder(p).Find(context.Background(), baseRequest(3))
	require.NoError(t, err)

	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, day(2), res.Alternatives[0].Date)
	assert.Equal(t, []Skipped{
		{Date: day(1), Code: types.ErrCodeUpstreamRateLimited},
		{Date: day(3), Code: types.ErrCodeNotFoundForecast},
	}, res.Skipped)
	assert.False(t, res.Partial)
}

func TestFind_ClipsWindowToProviderHorizon(t *testing.T) {
	sp := &scriptedProvider{scores: map[time.Time]float64{
		day(0): 10, day(1): 20, day(2): 30, day(3): 40, day(4): 50,
	}}
	p := horizonProvider{sp}
	sp.horizon = 2*24*time.Hour + time.Hour
	clock := types.FixedClock(origDate.Add(-time.Hour))

	f := NewFinder(p, nil, WithScorer(rawScorer), WithClock(clock))
	res, err := f.Find(context.Background(), baseRequest(7))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Considered)
	assert.Len(t, res.Alternatives, 2)
	assert.Empty(t, res.Skipped)
}

func TestFind_PartialOnDeadline(t *testing.T) {
	p := &scriptedProvider{
		scores: map[time.Time]float64{day(0): 10, day(1): 60},
		block:  map[time.Time]bool{day(2): true, day(3): true},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := newTestFinder(p).Find(ctx, baseRequest(3))
	require.NoError(t, err)

	assert.True(t, res.Partial)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, day(1), res.Alternatives[0].Date)
	require.Len(t, res.Skipped, 2)
	for _, s := range res.Skipped {
		assert.Equal(t, types.ErrCodeUpstreamTimeout, s.Code)
	}
}

func TestFind_RespectsConcurrencyLimit(t *testing.T) {
	scores := map[time.Time]float64{day(0): 10}
	for d := 1; d <= 10; d++ {
		scores[day(d)] = 20
	}
	p := &scriptedProvider{scores: scores, delay: 5 * time.Millisecond}

	res, err := newTestFinder(p, WithConcurrency(3)).Find(context.Background(), baseRequest(10))
	require.NoError(t, err)
	assert.Len(t, res.Alternatives, 10)
	assert.LessOrEqual(t, p.maxSeen.Load(), int32(3))
}

func TestFind_ValidatesRequest(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{day(0): 10}}
	f := newTestFinder(p)

	tests := []struct {
		name   string
		mutate func(*Request)
		code   types.ErrorCode
	}{
		{"empty location", func(r *Request) { r.Location = "  " }, types.ErrCodeValidationInvalidLocation},
		{"zero date", func(r *Request) { r.OriginalDate = time.Time{} }, types.ErrCodeValidationInvalidDate},
		{"zero window", func(r *Request) { r.WindowDays = 0 }, types.ErrCodeValidationWindow},
		{"huge window", func(r *Request) { r.WindowDays = MaxWindowDays + 1 }, types.ErrCodeValidationWindow},
		{"negative improvement", func(r *Request) { r.MinImprovement = -1 }, types.ErrCodeValidationImprovement},
		{"nan improvement", func(r *Request) { r.MinImprovement = math.NaN() }, types.ErrCodeValidationImprovement},
		{"negative limit", func(r *Request) { r.Limit = -1 }, types.ErrCodeValidationFailed},
		{"unknown event type", func(r *Request) { r.EventType = "picnic" }, types.ErrCodeValidationUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(3)
			tt.mutate(&req)
			_, err := f.Find(context.Background(), req)
			assert.Equal(t, tt.code, types.CodeOf(err))
		})
	}
}

type recordingMetrics struct {
	calls     int
	eventType string
	returned  int
}

func (m *recordingMetrics) RecordFind(_ context.Context, eventType string, _, returned int, _ bool, _ time.Duration) {
	m.calls++
	m.eventType = eventType
	m.returned = returned
}

func TestFind_RecordsMetrics(t *testing.T) {
	p := &scriptedProvider{scores: map[time.Time]float64{day(0): 10, day(1): 90}}
	m := &recordingMetrics{}

	_, err := newTestFinder(p, WithMetrics(m)).Find(context.Background(), baseRequest(1))
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, "outdoor_sports", m.eventType)
	assert.Equal(t, 1, m.returned)
}

// realProvider serves full forecasts so the real scorer runs end to end.
type realProvider map[time.Time]*types.ForecastRecord

func (p realProvider) GetForecast(_ context.Context, _ string, when time.Time) (*types.ForecastRecord, error) {
	if f, ok := p[when]; ok {
		return f, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "no forecast", nil)
}

func (p realProvider) GetForecastSeries(context.Context, string, int) ([]types.ForecastRecord, error) {
	return nil, nil
}

func TestFind_WithRealScorer(t *testing.T) {
	p := realProvider{
		day(0): {Temperature: types.Float(12), WindSpeed: types.Float(18), CloudCover: types.Float(80), Precipitation: types.Float(4)},
		day(1): {Temperature: types.Float(22), WindSpeed: types.Float(3), CloudCover: types.Float(10), Precipitation: types.Float(0)},
		day(2): {Temperature: types.Float(11), WindSpeed: types.Float(20), CloudCover: types.Float(95), Precipitation: types.Float(6)},
	}

	res, err := NewFinder(p, nil).Find(context.Background(), baseRequest(2))
	require.NoError(t, err)

	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, day(1), res.Alternatives[0].Date)
	assert.Equal(t, types.ConditionExcellent, res.Alternatives[0].Result.Condition)
	assert.Less(t, res.Original.Result.Score, 50)
}

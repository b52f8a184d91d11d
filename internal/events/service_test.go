package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairweather/internal/alternatives"
	"fairweather/internal/types"
)

var testNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(location string, when time.Time) (*types.ForecastRecord, error)
}

func (p *fakeProvider) GetForecast(_ context.Context, location string, when time.Time) (*types.ForecastRecord, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.fn(location, when)
}

func (p *fakeProvider) GetForecastSeries(context.Context, string, int) ([]types.ForecastRecord, error) {
	return nil, errors.New("not used")
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeFinder struct {
	got alternatives.Request
	fn  func(req alternatives.Request) (*alternatives.Result, error)
}

func (f *fakeFinder) Find(_ context.Context, req alternatives.Request) (*alternatives.Result, error) {
	f.got = req
	return f.fn(req)
}

func idealDay(when time.Time) *types.ForecastRecord {
	return &types.ForecastRecord{
		Temperature:   types.Float(20),
		Humidity:      types.Float(50),
		WindSpeed:     types.Float(2),
		CloudCover:    types.Float(10),
		Precipitation: types.Float(0),
		Visibility:    types.Float(20000),
		Description:   "clear sky",
		Timestamp:     when,
	}
}

func okProvider() *fakeProvider {
	return &fakeProvider{fn: func(_ string, when time.Time) (*types.ForecastRecord, error) {
		return idealDay(when), nil
	}}
}

func newTestService(store Store, p *fakeProvider, f AlternativeFinder) *Service {
	var n atomic.Int64
	return NewService(store, p, f, nil,
		WithClock(types.FixedClock(testNow)),
		WithIDGenerator(func() string { return fmt.Sprintf("evt_%d", n.Add(1)) }),
	)
}

func validCreate() CreateRequest {
	return CreateRequest{
		Name:      "  Harbour 10k ",
		Location:  "Lisbon",
		Date:      testNow.Add(48 * time.Hour),
		EventType: types.EventTypeOutdoorSports,
	}
}

func TestCreate_ScoresAndPersists(t *testing.T) {
	store := NewMemoryStore()
	svc := newTestService(store, okProvider(), nil)

	e, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	assert.Equal(t, "evt_1", e.ID)
	assert.Equal(t, "Harbour 10k", e.Name)
	require.NotNil(t, e.Score)
	assert.Equal(t, 100, *e.Score)
	assert.Equal(t, types.ConditionExcellent, e.Condition)
	assert.NotEmpty(t, e.Analysis)
	assert.Equal(t, testNow, e.CreatedAt)

	stored, err := store.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Score, stored.Score)
}

func TestCreate_DefaultsToGeneral(t *testing.T) {
	svc := newTestService(NewMemoryStore(), okProvider(), nil)
	req := validCreate()
	req.EventType = ""

	e, err := svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.EventTypeGeneral, e.EventType)
}

func TestCreate_ForecastUnavailableStillCreates(t *testing.T) {
	for _, code := range []types.ErrorCode{types.ErrCodeNotFoundForecast, types.ErrCodeUpstreamForecast} {
		t.Run(string(code), func(t *testing.T) {
			p := &fakeProvider{fn: func(string, time.Time) (*types.ForecastRecord, error) {
				return nil, types.NewAppError(code, "no data", nil)
			}}
			store := NewMemoryStore()
			svc := newTestService(store, p, nil)

			e, err := svc.Create(context.Background(), validCreate())
			require.NoError(t, err)
			assert.Nil(t, e.Score)
			assert.Nil(t, e.Forecast)
			assert.Equal(t, types.ConditionUnknown, e.Condition)

			list, _ := store.List(context.Background(), types.EventFilter{})
			assert.Len(t, list, 1)
		})
	}
}

func TestCreate_UnknownLocationFails(t *testing.T) {
	p := &fakeProvider{fn: func(string, time.Time) (*types.ForecastRecord, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundLocation, "no such place", nil)
	}}
	store := NewMemoryStore()
	svc := newTestService(store, p, nil)

	_, err := svc.Create(context.Background(), validCreate())
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundLocation))

	list, _ := store.List(context.Background(), types.EventFilter{})
	assert.Empty(t, list)
}

func TestCreate_Validation(t *testing.T) {
	long := make([]byte, maxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	tests := []struct {
		name   string
		mutate func(*CreateRequest)
		code   types.ErrorCode
	}{
		{"missing name", func(r *CreateRequest) { r.Name = "   " }, types.ErrCodeValidationMissingField},
		{"long name", func(r *CreateRequest) { r.Name = string(long) }, types.ErrCodeValidationFailed},
		{"missing location", func(r *CreateRequest) { r.Location = "" }, types.ErrCodeValidationInvalidLocation},
		{"missing date", func(r *CreateRequest) { r.Date = time.Time{} }, types.ErrCodeValidationMissingField},
		{"past date", func(r *CreateRequest) { r.Date = testNow.AddDate(0, 0, -1) }, types.ErrCodeValidationInvalidDate},
		{"unknown type", func(r *CreateRequest) { r.EventType = "picnic" }, types.ErrCodeValidationUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := okProvider()
			svc := newTestService(NewMemoryStore(), p, nil)
			req := validCreate()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)
			assert.True(t, types.IsCode(err, tt.code), "got %v", err)
			assert.Zero(t, p.callCount(), "invalid input must not reach the provider")
		})
	}
}

func TestCreate_TodayIsAllowed(t *testing.T) {
	svc := newTestService(NewMemoryStore(), okProvider(), nil)
	req := validCreate()
	req.Date = time.Date(2026, 10, 14, 6, 0, 0, 0, time.UTC)

	_, err := svc.Create(context.Background(), req)
	assert.NoError(t, err)
}

func TestUpdate_RescoresOnlyWhenScoringInputsChange(t *testing.T) {
	p := okProvider()
	svc := newTestService(NewMemoryStore(), p, nil)
	ctx := context.Background()

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.Equal(t, 1, p.callCount())

	name := "Harbour Half"
	updated, err := svc.Update(ctx, e.ID, UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Harbour Half", updated.Name)
	assert.Equal(t, 1, p.callCount(), "rename must not refetch")

	same := e.Location
	_, err = svc.Update(ctx, e.ID, UpdateRequest{Location: &same})
	require.NoError(t, err)
	assert.Equal(t, 1, p.callCount(), "unchanged location must not refetch")

	newDate := e.Date.AddDate(0, 0, 1)
	_, err = svc.Update(ctx, e.ID, UpdateRequest{Date: &newDate})
	require.NoError(t, err)
	assert.Equal(t, 2, p.callCount())

	formal := types.EventTypeFormalEvents
	updated, err = svc.Update(ctx, e.ID, UpdateRequest{EventType: &formal})
	require.NoError(t, err)
	assert.Equal(t, 3, p.callCount())
	assert.Equal(t, types.EventTypeFormalEvents, updated.EventType)
}

func TestUpdate_ValidationAndNotFound(t *testing.T) {
	svc := newTestService(NewMemoryStore(), okProvider(), nil)
	ctx := context.Background()

	empty := ""
	_, err := svc.Update(ctx, "missing", UpdateRequest{Name: &empty})
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundEvent))

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	_, err = svc.Update(ctx, e.ID, UpdateRequest{Name: &empty})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))

	bad := types.EventType("picnic")
	_, err = svc.Update(ctx, e.ID, UpdateRequest{EventType: &bad})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationUnknownType))

	past := testNow.AddDate(0, 0, -3)
	_, err = svc.Update(ctx, e.ID, UpdateRequest{Date: &past})
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidDate))
}

func TestDelete(t *testing.T) {
	svc := newTestService(NewMemoryStore(), okProvider(), nil)
	ctx := context.Background()

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, e.ID))

	_, err = svc.Get(ctx, e.ID)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundEvent))
	assert.True(t, types.IsCode(svc.Delete(ctx, e.ID), types.ErrCodeNotFoundEvent))
}

func TestWeatherCheck(t *testing.T) {
	ctx := context.Background()
	var fail atomic.Bool
	var noData atomic.Bool
	p := &fakeProvider{fn: func(_ string, when time.Time) (*types.ForecastRecord, error) {
		switch {
		case fail.Load():
			return nil, types.NewAppError(types.ErrCodeUpstreamRateLimited, "slow down", nil)
		case noData.Load():
			return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "beyond horizon", nil)
		}
		return idealDay(when), nil
	}}
	svc := newTestService(NewMemoryStore(), p, nil)

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	checked, err := svc.WeatherCheck(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, *checked.Score)

	fail.Store(true)
	_, err = svc.WeatherCheck(ctx, e.ID)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamRateLimited))
	stored, _ := svc.Get(ctx, e.ID)
	require.NotNil(t, stored.Score, "failed check must keep the last score")

	fail.Store(false)
	noData.Store(true)
	checked, err = svc.WeatherCheck(ctx, e.ID)
	require.NoError(t, err)
	assert.Nil(t, checked.Score)
	assert.Equal(t, types.ConditionUnknown, checked.Condition)
}

func TestAlternatives_AppliesDefaultsAndOverrides(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{fn: func(req alternatives.Request) (*alternatives.Result, error) {
		return &alternatives.Result{Location: req.Location, EventType: req.EventType, Alternatives: []alternatives.Candidate{}}, nil
	}}
	svc := NewService(NewMemoryStore(), okProvider(), finder, nil,
		WithClock(types.FixedClock(testNow)),
		WithDefaults(Defaults{WindowDays: 4, MinImprovement: 2.5, Limit: 3}),
	)

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	res, err := svc.Alternatives(ctx, e.ID, AlternativesOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", res.Location)
	assert.Equal(t, alternatives.Request{
		Location:       "Lisbon",
		OriginalDate:   e.Date,
		EventType:      types.EventTypeOutdoorSports,
		WindowDays:     4,
		MinImprovement: 2.5,
		Limit:          3,
	}, finder.got)

	window, minImp, limit := 7, 0.0, 0
	_, err = svc.Alternatives(ctx, e.ID, AlternativesOptions{WindowDays: &window, MinImprovement: &minImp, Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, 7, finder.got.WindowDays)
	assert.Equal(t, 0.0, finder.got.MinImprovement)
	assert.Equal(t, 0, finder.got.Limit)
}

func TestAlternatives_Errors(t *testing.T) {
	ctx := context.Background()
	finder := &fakeFinder{fn: func(alternatives.Request) (*alternatives.Result, error) {
		return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "too far out", nil)
	}}
	svc := newTestService(NewMemoryStore(), okProvider(), finder)

	_, err := svc.Alternatives(ctx, "missing", AlternativesOptions{})
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundEvent))

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Alternatives(ctx, e.ID, AlternativesOptions{})
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeNotFoundForecast, appErr.Code)
	assert.Equal(t, e.ID, appErr.Details["event_id"])
}

func TestListUpcoming(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore(), okProvider(), nil)

	for _, days := range []int{5, 1, 3, 10} {
		req := validCreate()
		req.Date = testNow.AddDate(0, 0, days)
		_, err := svc.Create(ctx, req)
		require.NoError(t, err)
	}

	got, err := svc.ListUpcoming(ctx, testNow, testNow.AddDate(0, 0, 5))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Date.Before(got[1].Date))
	assert.True(t, got[1].Date.Before(got[2].Date))

	_, err = svc.ListUpcoming(ctx, testNow, testNow.Add(-time.Hour))
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidDate))
}

func TestRescore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	// Seed directly so scores start stale.
	seed := func(id string, days int, location string) {
		require.NoError(t, store.Create(ctx, &types.Event{
			ID:        id,
			Name:      id,
			Location:  location,
			Date:      testNow.AddDate(0, 0, days),
			EventType: types.EventTypeHiking,
			Condition: types.ConditionUnknown,
			CreatedAt: testNow,
			UpdatedAt: testNow,
		}))
	}
	seed("ok", 1, "Lisbon")
	seed("beyond", 4, "Far")
	seed("broken", 2, "Flaky")
	seed("later", 9, "Lisbon")

	p := &fakeProvider{fn: func(location string, when time.Time) (*types.ForecastRecord, error) {
		switch location {
		case "Far":
			return nil, types.NewAppError(types.ErrCodeNotFoundForecast, "beyond horizon", nil)
		case "Flaky":
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "down", nil)
		}
		return idealDay(when), nil
	}}
	svc := newTestService(store, p, nil)

	summary, err := svc.Rescore(ctx, 5*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, RescoreSummary{Checked: 3, Scored: 1, Unknown: 1, Failed: 1}, summary)
	assert.Equal(t, 3, p.callCount())

	ok, _ := store.GetByID(ctx, "ok")
	require.NotNil(t, ok.Score)
	assert.Equal(t, types.ConditionExcellent, ok.Condition)

	later, _ := store.GetByID(ctx, "later")
	assert.Nil(t, later.Score, "events outside the lookahead are untouched")
}

// gatedProvider blocks the first forecast call made after arm until release
// is closed, so a test can edit the event while that call is in flight.
type gatedProvider struct {
	*fakeProvider
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedProvider() *gatedProvider {
	g := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	g.fakeProvider = &fakeProvider{fn: func(_ string, when time.Time) (*types.ForecastRecord, error) {
		if g.armed.CompareAndSwap(true, false) {
			close(g.entered)
			<-g.release
			rainy := idealDay(when)
			rainy.Precipitation = types.Float(12)
			return rainy, nil
		}
		return idealDay(when), nil
	}}
	return g
}

func TestRescore_KeepsConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newGatedProvider()
	svc := newTestService(store, p.fakeProvider, nil)

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	p.armed.Store(true)
	done := make(chan RescoreSummary, 1)
	go func() {
		summary, err := svc.Rescore(ctx, 5*24*time.Hour)
		assert.NoError(t, err)
		done <- summary
	}()
	<-p.entered

	name := "Renamed"
	moved := e.Date.AddDate(0, 0, 1)
	_, err = svc.Update(ctx, e.ID, UpdateRequest{Name: &name, Date: &moved})
	require.NoError(t, err)

	close(p.release)
	summary := <-done
	assert.Equal(t, RescoreSummary{Checked: 1, Stale: 1}, summary)

	stored, err := store.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.True(t, moved.Equal(stored.Date))
	require.NotNil(t, stored.Score)
	assert.Equal(t, 100, *stored.Score, "score must belong to the edited date")
}

func TestWeatherCheck_KeepsConcurrentEdit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newGatedProvider()
	svc := newTestService(store, p.fakeProvider, nil)

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	p.armed.Store(true)
	type outcome struct {
		event *types.Event
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		checked, err := svc.WeatherCheck(ctx, e.ID)
		done <- outcome{checked, err}
	}()
	<-p.entered

	location := "Porto"
	name := "Harbour 10k (moved)"
	_, err = svc.Update(ctx, e.ID, UpdateRequest{Name: &name, Location: &location})
	require.NoError(t, err)

	close(p.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "Porto", res.event.Location)
	assert.Equal(t, name, res.event.Name)
	require.NotNil(t, res.event.Score)
	assert.Equal(t, 100, *res.event.Score, "the rainy result fetched for Lisbon is discarded")
}

func TestWeatherCheck_WritesScoreWithoutRevertingName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := newGatedProvider()
	svc := newTestService(store, p.fakeProvider, nil)

	e, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	p.armed.Store(true)
	done := make(chan *types.Event, 1)
	go func() {
		checked, err := svc.WeatherCheck(ctx, e.ID)
		assert.NoError(t, err)
		done <- checked
	}()
	<-p.entered

	name := "Renamed"
	_, err = svc.Update(ctx, e.ID, UpdateRequest{Name: &name})
	require.NoError(t, err)

	close(p.release)
	checked := <-done
	require.NotNil(t, checked)
	assert.Equal(t, "Renamed", checked.Name)
	require.NotNil(t, checked.Score)
	assert.Less(t, *checked.Score, 100, "rain fetched for the unchanged date and place is kept")
}

func TestRescore_CanceledContext(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Create(context.Background(), &types.Event{
		ID: "a", Name: "a", Location: "Lisbon", Date: testNow.Add(time.Hour),
		EventType: types.EventTypeGeneral, CreatedAt: testNow,
	}))
	svc := newTestService(store, okProvider(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := svc.Rescore(ctx, 24*time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, summary.Checked)
	assert.Equal(t, 1, summary.Failed)
}

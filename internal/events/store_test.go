package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fairweather/internal/types"
)

func TestMemoryStore_CopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	score := 70
	e := &types.Event{ID: "a", Name: "a", Date: testNow, Score: &score,
		Analysis: types.WeatherAnalysis{types.ParamTemperature: {Score: 70}}}
	require.NoError(t, s.Create(ctx, e))

	score = 10
	e.Analysis[types.ParamTemperature] = types.ParameterScore{Score: 1}

	got, err := s.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 70, *got.Score)
	assert.Equal(t, 70.0, got.Analysis[types.ParamTemperature].Score)

	*got.Score = 5
	again, _ := s.GetByID(ctx, "a")
	assert.Equal(t, 70, *again.Score)
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, &types.Event{ID: "a"}))

	assert.True(t, types.IsCode(s.Create(ctx, &types.Event{ID: "a"}), types.ErrCodeInternalDB))
	assert.True(t, types.IsCode(s.Update(ctx, &types.Event{ID: "b"}), types.ErrCodeNotFoundEvent))
	assert.True(t, types.IsCode(s.Delete(ctx, "b"), types.ErrCodeNotFoundEvent))
	_, err := s.GetByID(ctx, "b")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundEvent))
	assert.NoError(t, s.Ping(ctx))
}

func TestMemoryStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	day := testNow
	require.NoError(t, s.Create(ctx, &types.Event{ID: "late", Date: day.Add(48 * time.Hour), CreatedAt: day}))
	require.NoError(t, s.Create(ctx, &types.Event{ID: "second", Date: day, CreatedAt: day.Add(time.Minute)}))
	require.NoError(t, s.Create(ctx, &types.Event{ID: "first", Date: day, CreatedAt: day}))

	all, err := s.List(ctx, types.EventFilter{})
	require.NoError(t, err)
	var ids []string
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"first", "second", "late"}, ids)

	limited, _ := s.List(ctx, types.EventFilter{Limit: 1})
	assert.Len(t, limited, 1)

	ranged, _ := s.List(ctx, types.EventFilter{From: day.Add(time.Hour)})
	require.Len(t, ranged, 1)
	assert.Equal(t, "late", ranged[0].ID)
}

func TestMemoryStore_UpdateScore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e := &types.Event{ID: "a", Name: "a", Location: "Lisbon", Date: testNow, EventType: types.EventTypeGeneral}
	require.NoError(t, s.Create(ctx, e))

	stale := *e
	e.Name = "renamed"
	require.NoError(t, s.Update(ctx, e))

	score := 81
	stale.Score = &score
	stale.Condition = types.ConditionExcellent
	applied, err := s.UpdateScore(ctx, &stale)
	require.NoError(t, err)
	assert.True(t, applied)

	got, _ := s.GetByID(ctx, "a")
	assert.Equal(t, "renamed", got.Name)
	require.NotNil(t, got.Score)
	assert.Equal(t, 81, *got.Score)

	score = 1
	again, _ := s.GetByID(ctx, "a")
	assert.Equal(t, 81, *again.Score, "stored score must not alias the caller's")

	for name, mutate := range map[string]func(*types.Event){
		"location":   func(e *types.Event) { e.Location = "Porto" },
		"date":       func(e *types.Event) { e.Date = e.Date.Add(24 * time.Hour) },
		"event type": func(e *types.Event) { e.EventType = types.EventTypeHiking },
		"deleted":    func(e *types.Event) { e.ID = "missing" },
	} {
		t.Run(name, func(t *testing.T) {
			cp := stale
			mutate(&cp)
			applied, err := s.UpdateScore(ctx, &cp)
			require.NoError(t, err)
			assert.False(t, applied)
		})
	}
}

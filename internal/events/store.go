package events

import (
	"context"
	"maps"
	"slices"
	"sync"

	"fairweather/internal/types"
)

// Store persists events. Implementations return not_found_event for unknown
// IDs and list events ordered by date, then creation time.
//
// UpdateScore writes only the forecast, score, condition, analysis and
// updated_at of e, and only while the stored location, date and event type
// still equal e's. It reports whether the row was written; false means the
// event was deleted or edited since e was read, and the score is stale.
type Store interface {
	Create(ctx context.Context, e *types.Event) error
	GetByID(ctx context.Context, id string) (*types.Event, error)
	List(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)
	Update(ctx context.Context, e *types.Event) error
	UpdateScore(ctx context.Context, e *types.Event) (bool, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// MemoryStore is a process-local Store. Events are copied on the way in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]*types.Event
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string]*types.Event)}
}

func (m *MemoryStore) Create(_ context.Context, e *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[e.ID]; exists {
		return types.NewAppErrorWithDetails(types.ErrCodeInternalDB, "event already exists", nil,
			map[string]any{"event_id": e.ID})
	}
	m.events[e.ID] = clone(e)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*types.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, notFound(id)
	}
	return clone(e), nil
}

func (m *MemoryStore) List(_ context.Context, filter types.EventFilter) ([]*types.Event, error) {
	m.mu.RLock()
	out := make([]*types.Event, 0, len(m.events))
	for _, e := range m.events {
		if filter.Matches(e) {
			out = append(out, clone(e))
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *types.Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Update(_ context.Context, e *types.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; !ok {
		return notFound(e.ID)
	}
	m.events[e.ID] = clone(e)
	return nil
}

func (m *MemoryStore) UpdateScore(_ context.Context, e *types.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.events[e.ID]
	if !ok || !sameScoringInputs(stored, e) {
		return false, nil
	}
	scored := clone(e)
	stored.Forecast = scored.Forecast
	stored.Score = scored.Score
	stored.Condition = scored.Condition
	stored.Analysis = scored.Analysis
	stored.UpdatedAt = scored.UpdatedAt
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[id]; !ok {
		return notFound(id)
	}
	delete(m.events, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func clone(e *types.Event) *types.Event {
	c := *e
	if e.Score != nil {
		s := *e.Score
		c.Score = &s
	}
	if e.Forecast != nil {
		f := *e.Forecast
		c.Forecast = &f
	}
	c.Analysis = maps.Clone(e.Analysis)
	return &c
}

func sameScoringInputs(a, b *types.Event) bool {
	return a.Location == b.Location && a.Date.Equal(b.Date) && a.EventType == b.EventType
}

func notFound(id string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundEvent, "event not found", nil,
		map[string]any{"event_id": id})
}

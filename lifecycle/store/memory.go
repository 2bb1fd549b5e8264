// Package store provides Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/wms-engine/lifecycle"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	requests map[lifecycle.RequestID]*lifecycle.Aggregate

	locksMu sync.Mutex
	locks   map[lifecycle.RequestID]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[lifecycle.RequestID]*lifecycle.Aggregate),
		locks:    make(map[lifecycle.RequestID]*sync.Mutex),
	}
}

// Create stores a copy of agg.
func (m *Memory) Create(_ context.Context, agg *lifecycle.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[agg.ID]; ok {
		return lifecycle.ErrAlreadyExists
	}
	stored := agg.Clone()
	stored.Version = 1
	m.requests[agg.ID] = stored
	return nil
}

func (m *Memory) Get(_ context.Context, id lifecycle.RequestID) (*lifecycle.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg, ok := m.requests[id]
	if !ok {
		return nil, &lifecycle.NotFoundError{RequestID: id}
	}
	return agg.Clone(), nil
}

func (m *Memory) List(_ context.Context, filter lifecycle.Filter) ([]*lifecycle.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*lifecycle.Aggregate
	for _, agg := range m.requests {
		if filter.Matches(agg) {
			result = append(result, agg.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Update serializes writers per request id. Readers are only blocked while
// the result is swapped in.
func (m *Memory) Update(ctx context.Context, id lifecycle.RequestID, fn lifecycle.UpdateFunc) (*lifecycle.Aggregate, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	cur, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := fn(cur.Clone())
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckAppendOnly(cur, next); err != nil {
		return nil, err
	}

	stored := next.Clone()
	stored.Version = cur.Version + 1

	m.mu.Lock()
	m.requests[id] = stored
	m.mu.Unlock()

	return stored.Clone(), nil
}

func (m *Memory) lockFor(id lifecycle.RequestID) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Reset drops every stored request.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[lifecycle.RequestID]*lifecycle.Aggregate)
}

package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/store/sqlite"
)

const testKind lifecycle.Kind = "SQLITE_TEST"

func init() {
	lifecycle.RegisterGraph(&lifecycle.StatusGraph{
		Kind:     testKind,
		Initial:  "A",
		Terminal: []lifecycle.Status{"C"},
		Edges: map[lifecycle.Status][]lifecycle.Status{
			"A": {"B"},
			"B": {"A", "C"},
		},
		Retry: []lifecycle.Edge{{From: "B", To: "A"}},
	})
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newAggregate(t *testing.T, id lifecycle.RequestID, created time.Time) *lifecycle.Aggregate {
	t.Helper()
	agg, err := lifecycle.NewAggregate(testKind, lifecycle.CreateOptions{
		ID: id,
		Items: []lifecycle.Item{{
			ID:                "line-1",
			SKU:               "SKU-1",
			RequestedQuantity: 3,
			UnitPrice:         decimal.RequireFromString("12.50"),
			Attributes:        map[string]string{"barcode": "880001"},
		}},
	}, lifecycle.NewManualClock(created), lifecycle.UUIDGenerator{})
	require.NoError(t, err)
	return agg
}

func TestSQLite_CreateGetList(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, newAggregate(t, "r-2", base.Add(time.Hour))))
	require.NoError(t, s.Create(ctx, newAggregate(t, "r-1", base)))
	assert.ErrorIs(t, s.Create(ctx, newAggregate(t, "r-1", base)), lifecycle.ErrAlreadyExists)

	got, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, lifecycle.Status("A"), got.Status)
	require.Len(t, got.Items, 1)
	assert.True(t, decimal.RequireFromString("12.50").Equal(got.Items[0].UnitPrice))
	assert.Equal(t, "880001", got.Items[0].Attribute("barcode"))
	assert.True(t, base.Equal(got.CreatedAt))

	_, err = s.Get(ctx, "missing")
	assert.True(t, lifecycle.IsNotFound(err))

	list, err := s.List(ctx, lifecycle.Filter{Kind: testKind})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, lifecycle.RequestID("r-1"), list[0].ID, "ordered by creation")

	limited, err := s.List(ctx, lifecycle.Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	windowed, err := s.List(ctx, lifecycle.Filter{CreatedAfter: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, lifecycle.RequestID("r-2"), windowed[0].ID)
}

func TestSQLite_UpdateAppendsEvents(t *testing.T) {
	// GIVEN: a stored request
	// WHEN: two transitions are applied
	// THEN: both events are in request_events, in order, and version is 3
	ctx := context.Background()
	s := newStore(t)
	svc := lifecycle.NewTransitionService(nil, nil)
	require.NoError(t, s.Create(ctx, newAggregate(t, "r-1", time.Now())))

	for _, to := range []lifecycle.Status{"B", "C"} {
		_, err := s.Update(ctx, "r-1", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
			return svc.Transition(cur, to, "sys", "step")
		})
		require.NoError(t, err)
	}

	got, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Status("C"), got.Status)
	assert.Equal(t, 3, got.Version)

	events, err := s.Events(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, lifecycle.Status("A"), events[0].From)
	assert.Equal(t, lifecycle.Status("C"), events[1].To)
	assert.Equal(t, 2, events[1].Sequence)
	assert.Equal(t, "step", events[1].Reason)
	assert.NoError(t, got.CheckInvariants())
}

func TestSQLite_UpdateErrorLeavesStoredValue(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Create(ctx, newAggregate(t, "r-1", time.Now())))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "r-1", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		cur.Status = "B"
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Get(ctx, "r-1")
	assert.Equal(t, lifecycle.Status("A"), got.Status)
	assert.Equal(t, 1, got.Version)
}

func TestSQLite_UpdateRejectsRewrittenEvents(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	svc := lifecycle.NewTransitionService(nil, nil)
	require.NoError(t, s.Create(ctx, newAggregate(t, "r-1", time.Now())))

	_, err := s.Update(ctx, "r-1", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		return svc.Transition(cur, "B", "sys", "")
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, "r-1", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		cur.Events = nil
		return cur, nil
	})
	assert.ErrorIs(t, err, lifecycle.ErrValidation)

	events, err := s.Events(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSQLite_UpdateMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.Update(context.Background(), "nope", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		return cur, nil
	})
	assert.True(t, lifecycle.IsNotFound(err))
}

func TestSQLite_ConcurrentWritersAreSerialized(t *testing.T) {
	// GIVEN: 10 goroutines each bouncing the same request A -> B or B -> A
	// THEN: every transition lands, sequences are 1..N with no gaps
	ctx := context.Background()
	s := newStore(t)
	svc := lifecycle.NewTransitionService(nil, nil)
	require.NoError(t, s.Create(ctx, newAggregate(t, "r-1", time.Now())))

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, "r-1", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
				to := lifecycle.Status("B")
				if cur.Status == "B" {
					to = "A"
				}
				return svc.Transition(cur, to, "sys", "")
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	require.Len(t, got.Events, writers)
	for i, ev := range got.Events {
		assert.Equal(t, i+1, ev.Sequence)
	}
	assert.Equal(t, writers+1, got.Version)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wms.db")

	s, err := sqlite.New(path)
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newAggregate(t, "r-1", time.Now())))
	_, err = s.Update(ctx, "r-1", func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
		return lifecycle.NewTransitionService(nil, nil).Transition(cur, "B", "sys", "")
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := sqlite.New(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Status("B"), got.Status)
	assert.Len(t, got.Events, 1)
}

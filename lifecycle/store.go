/*
store.go - Persistence interface for aggregates and their event logs

PURPOSE:
  Defines the boundary between the engine and storage. The engine keeps no
  registry of live aggregates; callers own them through a Repository keyed by
  request id.

KEY INTERFACES:
  Repository: create, load, list and update aggregates
  Notifier:   post-transition callback for external systems

SINGLE WRITER:
  Update is the only way to change a stored aggregate. Implementations run
  fn while holding an exclusive lock for that request id, so at most one
  writer touches a request at a time and its events get a total order.
  Different request ids never block each other.

APPEND-ONLY CONTRACT:
  Update rejects results that drop or rewrite existing events or records
  (see CheckAppendOnly). Event rows are only ever inserted.

IMPLEMENTATIONS:
  - lifecycle/store/memory.go: in-memory, for tests and the CLI
  - store/sqlite/sqlite.go: SQLite with an append-only events table

EXAMPLE:
  agg, err := repo.Update(ctx, id, func(cur *lifecycle.Aggregate) (*lifecycle.Aggregate, error) {
      return svc.Transition(cur, outbound.StatusPickingWaiting, "wms", "")
  })

SEE ALSO:
  - workflow.go: wraps Update and runs Notifiers
*/
package lifecycle

import (
	"context"
	"time"
)

// =============================================================================
// REPOSITORY
// =============================================================================

// UpdateFunc receives the current version and returns the next one. Returning
// an error aborts the update and leaves the stored aggregate untouched.
type UpdateFunc func(cur *Aggregate) (*Aggregate, error)

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Kind          Kind
	Status        Status
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// Matches reports whether a satisfies the filter, ignoring Limit.
func (f Filter) Matches(a *Aggregate) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.CreatedAfter.IsZero() && a.CreatedAt.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !a.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

type Repository interface {
	// Create stores a new aggregate. Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, agg *Aggregate) error

	// Get returns a copy of the stored aggregate or a *NotFoundError.
	Get(ctx context.Context, id RequestID) (*Aggregate, error)

	// List returns copies ordered by CreatedAt, then id.
	List(ctx context.Context, filter Filter) ([]*Aggregate, error)

	// Update runs fn under the per-request writer lock and stores its result.
	Update(ctx context.Context, id RequestID, fn UpdateFunc) (*Aggregate, error)
}

// =============================================================================
// NOTIFIER - Post-transition callback
// =============================================================================

// Notifier is told about each event after the aggregate carrying it has been
// stored. Delivery is best-effort; errors are logged by the caller and never
// undo the transition.
type Notifier interface {
	Notify(ctx context.Context, agg *Aggregate, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, agg *Aggregate, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, agg *Aggregate, ev Event) error {
	return f(ctx, agg, ev)
}

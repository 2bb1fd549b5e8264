package lifecycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// WORKFLOW - Repository + TransitionService + Notifiers
// =============================================================================

// Workflow is the shared plumbing under each domain service: it loads and
// stores aggregates through the Repository, applies transitions, and informs
// Notifiers of new events once the update is stored.
type Workflow struct {
	Repo        Repository
	Transitions *TransitionService
	Notifiers   []Notifier
	Logger      *zap.Logger
}

// NewWorkflow wires a workflow. A nil logger is replaced with zap.NewNop().
func NewWorkflow(repo Repository, ts *TransitionService, logger *zap.Logger, notifiers ...Notifier) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{Repo: repo, Transitions: ts, Notifiers: notifiers, Logger: logger}
}

// Clock returns the transition service clock.
func (w *Workflow) Clock() Clock {
	return w.Transitions.Clock
}

// IDs returns the transition service id generator.
func (w *Workflow) IDs() IDGenerator {
	return w.Transitions.IDs
}

// Create stores a freshly built aggregate.
func (w *Workflow) Create(ctx context.Context, agg *Aggregate) (*Aggregate, error) {
	if err := agg.CheckInvariants(); err != nil {
		return nil, err
	}
	if err := w.Repo.Create(ctx, agg); err != nil {
		return nil, fmt.Errorf("failed to create request %s: %w", agg.ID, err)
	}
	w.Logger.Info("request created",
		zap.String("request_id", string(agg.ID)),
		zap.String("kind", string(agg.Kind)),
		zap.String("status", string(agg.Status)),
		zap.Int("items", len(agg.Items)))
	return agg.Clone(), nil
}

// Get loads an aggregate.
func (w *Workflow) Get(ctx context.Context, id RequestID) (*Aggregate, error) {
	return w.Repo.Get(ctx, id)
}

// Apply runs fn as a single-writer update and then notifies about every
// event fn appended.
func (w *Workflow) Apply(ctx context.Context, id RequestID, fn UpdateFunc) (*Aggregate, error) {
	before := 0
	next, err := w.Repo.Update(ctx, id, func(cur *Aggregate) (*Aggregate, error) {
		before = len(cur.Events)
		out, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if err := out.CheckInvariants(); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range next.Events[before:] {
		w.Logger.Info("request transitioned",
			zap.String("request_id", string(next.ID)),
			zap.String("kind", string(next.Kind)),
			zap.String("from", string(ev.From)),
			zap.String("to", string(ev.To)),
			zap.String("actor", ev.Actor))
		w.notify(ctx, next, ev)
	}
	return next, nil
}

// Transition applies one status change to a stored aggregate.
func (w *Workflow) Transition(ctx context.Context, id RequestID, to Status, actor, reason string) (*Aggregate, error) {
	return w.Apply(ctx, id, func(cur *Aggregate) (*Aggregate, error) {
		return w.Transitions.Transition(cur, to, actor, reason)
	})
}

func (w *Workflow) notify(ctx context.Context, agg *Aggregate, ev Event) {
	for _, n := range w.Notifiers {
		if err := n.Notify(ctx, agg, ev); err != nil {
			w.Logger.Warn("post-transition notification failed",
				zap.String("request_id", string(agg.ID)),
				zap.String("to", string(ev.To)),
				zap.Error(err))
		}
	}
}

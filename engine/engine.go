/*
Package engine wires the request lifecycle into one object.

PURPOSE:
  Builds the shared lifecycle.Workflow (repository, transition service
  with every domain's actor guard and gate, notifiers, logger) and the
  three domain services on top of it. The HTTP API, the SLA monitor and the CLI
  all work against an *Engine.

WIRING:
  Repository ──> Workflow <── TransitionService{Guards: outbound, returns
                    │                            Gates: inbound, outbound, returns}
                    │
        ┌───────────┼────────────┐
    inbound     outbound      returns      (Service per kind)
                    │
               SupplySource (static map or redis)

SEE ALSO:
  - lifecycle/workflow.go: Apply, Transition
  - factory/policy.go: Policies
  - api/handlers.go: HTTP surface
*/
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/wms-engine/factory"
	"github.com/warp/wms-engine/inbound"
	"github.com/warp/wms-engine/lifecycle"
	"github.com/warp/wms-engine/lifecycle/store"
	"github.com/warp/wms-engine/outbound"
	"github.com/warp/wms-engine/returns"
)

// Options configures New. Zero values fall back to an in-memory store,
// the system clock, random ids, default policies and no supply.
type Options struct {
	Repo      lifecycle.Repository
	Clock     lifecycle.Clock
	IDs       lifecycle.IDGenerator
	Logger    *zap.Logger
	Notifiers []lifecycle.Notifier
	Policies  *factory.Policies
	Supply    lifecycle.SupplySource
}

type Engine struct {
	Flow     *lifecycle.Workflow
	Inbound  *inbound.Service
	Outbound *outbound.Service
	Returns  *returns.Service
	KPI      *lifecycle.KPIAggregator
	Supply   lifecycle.SupplySource
	Logger   *zap.Logger
}

func New(opts Options) *Engine {
	if opts.Repo == nil {
		opts.Repo = store.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	policies := factory.DefaultPolicies()
	if opts.Policies != nil {
		policies = *opts.Policies
	}

	ts := lifecycle.NewTransitionService(opts.Clock, opts.IDs)
	ts.Guards = append(ts.Guards, outbound.ActorGuard(), returns.ActorGuard())
	flow := lifecycle.NewWorkflow(opts.Repo, ts, opts.Logger, opts.Notifiers...)

	e := &Engine{
		Flow:     flow,
		Inbound:  inbound.NewService(flow, policies.Inbound),
		Outbound: outbound.NewService(flow, policies.Outbound),
		Returns:  returns.NewService(flow, policies.Returns),
		KPI:      &lifecycle.KPIAggregator{Clock: ts.Clock},
		Supply:   opts.Supply,
		Logger:   opts.Logger,
	}
	ts.Gates = append(ts.Gates, inbound.Gate(), outbound.Gate(), e.Returns.Gate())
	return e
}

// Clock returns the engine clock.
func (e *Engine) Clock() lifecycle.Clock {
	return e.Flow.Clock()
}

func (e *Engine) Get(ctx context.Context, id lifecycle.RequestID) (*lifecycle.Aggregate, error) {
	return e.Flow.Get(ctx, id)
}

func (e *Engine) List(ctx context.Context, filter lifecycle.Filter) ([]*lifecycle.Aggregate, error) {
	return e.Flow.Repo.List(ctx, filter)
}

// Transition applies a raw status change to any kind. Domain actions are
// preferred where one exists; this is the operator escape hatch and is
// still bound by the graph, the guards and each domain's gate.
func (e *Engine) Transition(ctx context.Context, id lifecycle.RequestID, to lifecycle.Status, actor, reason string) (*lifecycle.Aggregate, error) {
	return e.Flow.Transition(ctx, id, to, actor, reason)
}

// Allocate reserves stock for an outbound order from the configured supply.
func (e *Engine) Allocate(ctx context.Context, id lifecycle.RequestID, actor string) (*lifecycle.Aggregate, lifecycle.AllocationResult, error) {
	if e.Supply == nil {
		return nil, lifecycle.AllocationResult{}, &lifecycle.ValidationError{Field: "supply", Message: "no supply source configured"}
	}
	return e.Outbound.Allocate(ctx, id, e.Supply, actor)
}

// Snapshot computes the KPI snapshot of kind for the period containing now.
func (e *Engine) Snapshot(ctx context.Context, kind lifecycle.Kind, period lifecycle.Period) (lifecycle.KPISnapshot, error) {
	return e.SnapshotAt(ctx, kind, period, e.Clock().Now())
}

// SnapshotAt computes the KPI snapshot of kind for the period containing at.
func (e *Engine) SnapshotAt(ctx context.Context, kind lifecycle.Kind, period lifecycle.Period, at time.Time) (lifecycle.KPISnapshot, error) {
	if _, ok := lifecycle.LookupGraph(kind); !ok {
		return lifecycle.KPISnapshot{}, lifecycle.ErrUnknownKind
	}
	w := period.WindowFor(at)
	aggs, err := e.List(ctx, lifecycle.Filter{Kind: kind, CreatedAfter: w.Start, CreatedBefore: w.End})
	if err != nil {
		return lifecycle.KPISnapshot{}, err
	}
	return e.KPI.ComputeWindow(kind, period, w, aggs), nil
}

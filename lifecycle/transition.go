/*
transition.go - The single mutator of aggregate status

PURPOSE:
  TransitionService checks a requested status change against the kind's
  StatusGraph and, when legal, produces the next version of the aggregate.

TRANSITION FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  terminal?  ──yes──▶  IllegalTransitionError{Terminal: true}       │
  │     │no                                                          │
  │     ▼                                                            │
  │  edge declared? ──no──▶  IllegalTransitionError                   │
  │     │yes                                                         │
  │     ▼                                                            │
  │  guards pass? ──no──▶  guard error (PolicyViolationError)         │
  │     │yes                                                         │
  │     ▼                                                            │
  │  gates pass?  ──no──▶  gate error (PolicyViolationError)          │
  │     │yes                                                         │
  │     ▼                                                            │
  │  clone, set status + updated_at, stamp side timestamp,           │
  │  append exactly one Event                                        │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

  The input aggregate is never modified. On any error the caller still holds
  the untouched value and may retry with a different target.

GUARDS AND GATES:
  Guards run after the graph check and can veto with a policy error. The
  outbound and returns flows use one to restrict which actors may enter each
  status.

  Gates run last and look at the request itself: a domain registers one per
  kind so that a status is only entered once the work it stands for is on
  the aggregate (items graded, stock allocated, refund booked). Gates apply
  to every caller, the raw transition endpoint included. Domain actions
  pre-check with Permitted, mutate, then call Transition, so the gate sees
  the mutated request.

SEE ALSO:
  - graph.go: the transition tables
  - workflow.go: persists transitions and runs post-transition notifiers
*/
package lifecycle

import (
	"fmt"
	"time"
)

// Guard vetoes a legal transition. A non-nil error blocks it.
type Guard func(agg *Aggregate, to Status, actor string) error

// TransitionService applies status changes.
type TransitionService struct {
	Clock  Clock
	IDs    IDGenerator
	Guards []Guard
	Gates  []Guard
}

// NewTransitionService builds a service with the given clock and id source.
// Nil arguments fall back to the system clock and random ids.
func NewTransitionService(clock Clock, ids IDGenerator) *TransitionService {
	if clock == nil {
		clock = SystemClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &TransitionService{Clock: clock, IDs: ids}
}

// CanTransition reports, without side effects, whether Transition would
// succeed for the given target and actor.
func (ts *TransitionService) CanTransition(agg *Aggregate, to Status, actor string) error {
	if err := ts.Permitted(agg, to, actor); err != nil {
		return err
	}
	for _, gate := range ts.Gates {
		if err := gate(agg, to, actor); err != nil {
			return err
		}
	}
	return nil
}

// Permitted checks the graph and the guards only. Actions use it before
// they record the work a gate will later look for.
func (ts *TransitionService) Permitted(agg *Aggregate, to Status, actor string) error {
	graph, ok := LookupGraph(agg.Kind)
	if !ok {
		return &IllegalTransitionError{Kind: agg.Kind, From: agg.Status, To: to}
	}
	if graph.IsTerminal(agg.Status) {
		return &IllegalTransitionError{Kind: agg.Kind, From: agg.Status, To: to, Terminal: true}
	}
	if !graph.Allows(agg.Status, to) {
		return &IllegalTransitionError{Kind: agg.Kind, From: agg.Status, To: to}
	}
	for _, guard := range ts.Guards {
		if err := guard(agg, to, actor); err != nil {
			return err
		}
	}
	return nil
}

// Transition moves agg to status to and returns the new version.
func (ts *TransitionService) Transition(agg *Aggregate, to Status, actor, reason string) (*Aggregate, error) {
	if err := ts.CanTransition(agg, to, actor); err != nil {
		return nil, err
	}
	graph, _ := LookupGraph(agg.Kind)
	now := ts.Clock.Now()

	next := agg.Clone()
	next.Status = to
	next.UpdatedAt = now
	if name, ok := graph.Stamps[to]; ok {
		if next.Stamps == nil {
			next.Stamps = map[string]time.Time{}
		}
		next.Stamps[name] = now
	}
	next.Events = append(next.Events, Event{
		ID:        EventID(ts.IDs.NewID("EVT")),
		RequestID: agg.ID,
		Sequence:  len(agg.Events) + 1,
		From:      agg.Status,
		To:        to,
		Actor:     actor,
		Reason:    reason,
		Timestamp: now,
	})
	return next, nil
}

// Path applies a chain of transitions with the same actor. It stops at the
// first failure and returns that error with no partial result.
func (ts *TransitionService) Path(agg *Aggregate, actor string, steps ...Status) (*Aggregate, error) {
	cur := agg
	for _, to := range steps {
		next, err := ts.Transition(cur, to, actor, "")
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// ActorGuard restricts which actors may move a request of kind into each
// status. Statuses absent from perms are open to every actor, and superuser
// is always allowed. Requests of other kinds pass through.
func ActorGuard(kind Kind, perms map[Status][]string, superuser string) Guard {
	return func(agg *Aggregate, to Status, actor string) error {
		if agg.Kind != kind || actor == superuser {
			return nil
		}
		allowed, ok := perms[to]
		if !ok {
			return nil
		}
		for _, a := range allowed {
			if a == actor {
				return nil
			}
		}
		return &PolicyViolationError{
			Rule:   "actor_permission",
			Detail: fmt.Sprintf("%s may not move %s request to %s", actor, kind, to),
		}
	}
}

/*
graph.go - Status graphs and the kind registry

PURPOSE:
  A StatusGraph is the closed-world table of legal transitions for one
  request kind, together with its initial status, terminal set and the side
  timestamps stamped when certain statuses are entered. One implementation
  serves every kind; domain packages only supply the table.

HOW IT WORKS:
  1. Domain packages build a *StatusGraph and call RegisterGraph from init()
  2. RegisterGraph validates the graph and panics if it is malformed
  3. After init the registry is read-only; lookups are pure

VALIDATION RULES:
  - the initial status is declared
  - no status transitions to itself
  - terminal statuses have no outgoing edges
  - every retry edge is also a declared edge
  - removing the retry edges leaves an acyclic graph

USAGE:
  // In outbound/graph.go
  func init() {
      lifecycle.RegisterGraph(Graph)
  }

  lifecycle.IsLegalTransition(lifecycle.KindOutbound, "REQUEST_CREATED", "INVENTORY_ALLOCATED") // true

SEE ALSO:
  - transition.go: applies transitions checked here
  - inbound/graph.go, outbound/graph.go, returns/graph.go: the three tables
*/
package lifecycle

import (
	"fmt"
	"sort"
	"sync"
)

// =============================================================================
// STATUS GRAPH
// =============================================================================

// Edge is a directed transition.
type Edge struct {
	From Status
	To   Status
}

// Side timestamp names used by the domain graphs.
const (
	StampApprovedAt  = "approved_at"
	StampRejectedAt  = "rejected_at"
	StampShippedAt   = "shipped_at"
	StampCompletedAt = "completed_at"
)

// StatusGraph declares the legal transitions of one kind.
type StatusGraph struct {
	Kind    Kind
	Initial Status

	// Completion is the terminal status that counts as a successful finish
	// for KPI purposes.
	Completion Status
	Terminal   []Status

	Edges map[Status][]Status

	// Retry lists the back edges that are allowed to close a cycle.
	Retry []Edge

	// Stamps maps a target status to the side timestamp set on entry.
	Stamps map[Status]string
}

// Allows reports whether from -> to is a declared edge.
func (g *StatusGraph) Allows(from, to Status) bool {
	for _, next := range g.Edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is in the terminal set.
func (g *StatusGraph) IsTerminal(s Status) bool {
	for _, t := range g.Terminal {
		if t == s {
			return true
		}
	}
	return false
}

// Next returns the statuses reachable from s in one step.
func (g *StatusGraph) Next(s Status) []Status {
	return append([]Status(nil), g.Edges[s]...)
}

// IsRetry reports whether from -> to is a declared retry edge.
func (g *StatusGraph) IsRetry(from, to Status) bool {
	for _, e := range g.Retry {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// Statuses returns every status the graph mentions, in breadth-first order
// from the initial status. Unreachable statuses follow, sorted.
func (g *StatusGraph) Statuses() []Status {
	seen := map[Status]bool{g.Initial: true}
	order := []Status{g.Initial}
	for i := 0; i < len(order); i++ {
		for _, next := range g.Edges[order[i]] {
			if !seen[next] {
				seen[next] = true
				order = append(order, next)
			}
		}
	}

	var rest []Status
	add := func(s Status) {
		if !seen[s] {
			seen[s] = true
			rest = append(rest, s)
		}
	}
	for from, tos := range g.Edges {
		add(from)
		for _, to := range tos {
			add(to)
		}
	}
	for _, t := range g.Terminal {
		add(t)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(order, rest...)
}

// Validate checks the structural rules listed in the file header.
func (g *StatusGraph) Validate() error {
	if g.Kind == "" {
		return fmt.Errorf("status graph: kind is required")
	}
	if g.Initial == "" {
		return fmt.Errorf("status graph %s: initial status is required", g.Kind)
	}
	if len(g.Terminal) == 0 {
		return fmt.Errorf("status graph %s: at least one terminal status is required", g.Kind)
	}
	if g.Completion != "" && !g.IsTerminal(g.Completion) {
		return fmt.Errorf("status graph %s: completion status %s is not terminal", g.Kind, g.Completion)
	}
	for from, tos := range g.Edges {
		if g.IsTerminal(from) && len(tos) > 0 {
			return fmt.Errorf("status graph %s: terminal status %s has outgoing edges", g.Kind, from)
		}
		for _, to := range tos {
			if to == from {
				return fmt.Errorf("status graph %s: self transition on %s", g.Kind, from)
			}
		}
	}
	for _, e := range g.Retry {
		if !g.Allows(e.From, e.To) {
			return fmt.Errorf("status graph %s: retry edge %s -> %s is not declared", g.Kind, e.From, e.To)
		}
	}
	return g.checkAcyclic()
}

// checkAcyclic runs a three-colour DFS over the graph without retry edges.
func (g *StatusGraph) checkAcyclic() error {
	const (
		white = iota
		grey
		black
	)
	colour := map[Status]int{}

	var visit func(s Status) error
	visit = func(s Status) error {
		colour[s] = grey
		for _, next := range g.Edges[s] {
			if g.IsRetry(s, next) {
				continue
			}
			switch colour[next] {
			case grey:
				return fmt.Errorf("status graph %s: cycle through %s -> %s is not a declared retry edge", g.Kind, s, next)
			case white:
				if err := visit(next); err != nil {
					return err
				}
			}
		}
		colour[s] = black
		return nil
	}

	for _, s := range g.Statuses() {
		if colour[s] == white {
			if err := visit(s); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// GRAPH REGISTRY
// =============================================================================

var (
	graphRegistry = make(map[Kind]*StatusGraph)
	graphMu       sync.RWMutex
)

// RegisterGraph adds a graph to the registry. Call it from domain package
// init() functions. Invalid graphs panic.
func RegisterGraph(g *StatusGraph) {
	if err := g.Validate(); err != nil {
		panic(err)
	}
	graphMu.Lock()
	defer graphMu.Unlock()
	graphRegistry[g.Kind] = g
}

// LookupGraph finds the graph registered for kind.
func LookupGraph(kind Kind) (*StatusGraph, bool) {
	graphMu.RLock()
	defer graphMu.RUnlock()
	g, ok := graphRegistry[kind]
	return g, ok
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []Kind {
	graphMu.RLock()
	defer graphMu.RUnlock()
	kinds := make([]Kind, 0, len(graphRegistry))
	for k := range graphRegistry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// IsLegalTransition is the closed-world lookup: anything not declared,
// including any pair for an unregistered kind, is illegal.
func IsLegalTransition(kind Kind, from, to Status) bool {
	g, ok := LookupGraph(kind)
	if !ok {
		return false
	}
	return g.Allows(from, to)
}

// InitialStatus returns the status new aggregates of kind start in, or ""
// for an unregistered kind.
func InitialStatus(kind Kind) Status {
	g, ok := LookupGraph(kind)
	if !ok {
		return ""
	}
	return g.Initial
}

// IsTerminal reports whether status is terminal for kind.
func IsTerminal(kind Kind, status Status) bool {
	g, ok := LookupGraph(kind)
	if !ok {
		return false
	}
	return g.IsTerminal(status)
}

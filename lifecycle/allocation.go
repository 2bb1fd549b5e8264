/*
allocation.go - Greedy allocation of supply to requested quantities

PURPOSE:
  Given how much of an item is requested and a ranked list of locations
  holding it, decide how much to draw from each location.

ALGORITHM:
  Walk the supply list in the order the caller supplied (FIFO, FEFO or any
  other sourcing policy is decided by sorting the list beforehand). Take
  min(remaining, available) from each entry, skip empty entries, stop when
  the request is satisfied or supply runs out.

  allocated == requested       -> ALLOCATED
  0 < allocated < requested    -> PARTIAL
  allocated == 0, requested > 0 -> SHORT

  A zero request is trivially ALLOCATED. Undersupply is a result, not an
  error: the caller inspects HasShortage and chooses the shortage branch.

EXAMPLE:
  engine := &AllocationEngine{}
  rec := engine.Allocate("line-1", 10, []SupplyEntry{
      {Location: "A-01", Quantity: 4},
      {Location: "B-07", Quantity: 20},
  })
  // rec.AllocatedQuantity == 10, rec.Sources: A-01 x4, B-07 x6

SEE ALSO:
  - SupplySource below, StaticSupply for tests
  - store/redis/supply.go: the Redis-backed SupplySource
  - outbound/service.go: applies records and picks the shortage branch
*/
package lifecycle

import (
	"context"
)

// =============================================================================
// SUPPLY AND RECORDS
// =============================================================================

// SupplyEntry is stock of one SKU at one location.
type SupplyEntry struct {
	Location string
	Zone     string
	Quantity int
}

type AllocationStatus string

const (
	AllocationAllocated AllocationStatus = "ALLOCATED"
	AllocationPartial   AllocationStatus = "PARTIAL"
	AllocationShort     AllocationStatus = "SHORT"
)

// AllocationSource is the part of an allocation drawn from one location.
type AllocationSource struct {
	Location string
	Zone     string
	Quantity int
}

// AllocationRecord is the outcome for one item. It is stored on the owning
// aggregate, never on its own.
type AllocationRecord struct {
	ItemID            ItemID
	SKU               string
	RequestedQuantity int
	AllocatedQuantity int
	Status            AllocationStatus
	Sources           []AllocationSource
}

// SourceLocation is the first location drawn from, or "" when nothing was.
func (r AllocationRecord) SourceLocation() string {
	if len(r.Sources) == 0 {
		return ""
	}
	return r.Sources[0].Location
}

// Shortfall is how much of the request could not be covered.
func (r AllocationRecord) Shortfall() int {
	return r.RequestedQuantity - r.AllocatedQuantity
}

// =============================================================================
// ALLOCATION ENGINE
// =============================================================================

// AllocationEngine is stateless; the zero value is ready to use.
type AllocationEngine struct{}

// Allocate computes the greedy allocation for one item.
func (e *AllocationEngine) Allocate(itemID ItemID, requested int, supply []SupplyEntry) AllocationRecord {
	rec := AllocationRecord{ItemID: itemID, RequestedQuantity: requested}
	remaining := requested

	for _, entry := range supply {
		if remaining <= 0 {
			break
		}
		if entry.Quantity <= 0 {
			continue
		}
		take := min(remaining, entry.Quantity)
		rec.Sources = append(rec.Sources, AllocationSource{
			Location: entry.Location,
			Zone:     entry.Zone,
			Quantity: take,
		})
		rec.AllocatedQuantity += take
		remaining -= take
	}

	switch {
	case rec.AllocatedQuantity >= requested:
		rec.Status = AllocationAllocated
	case rec.AllocatedQuantity > 0:
		rec.Status = AllocationPartial
	default:
		rec.Status = AllocationShort
	}
	return rec
}

// AllocationResult covers every item of a request.
type AllocationResult struct {
	Records []AllocationRecord
}

// HasShortage reports whether any item is PARTIAL or SHORT.
func (r AllocationResult) HasShortage() bool {
	for _, rec := range r.Records {
		if rec.Status != AllocationAllocated {
			return true
		}
	}
	return false
}

// TotalAllocated sums allocated quantity across items.
func (r AllocationResult) TotalAllocated() int {
	total := 0
	for _, rec := range r.Records {
		total += rec.AllocatedQuantity
	}
	return total
}

// AllocateItems allocates each item in order against the supply for its SKU.
// Supply consumed by one item is not offered to a later item with the same
// SKU.
func (e *AllocationEngine) AllocateItems(items []Item, supply map[string][]SupplyEntry) AllocationResult {
	remaining := make(map[string][]SupplyEntry, len(supply))
	for sku, entries := range supply {
		remaining[sku] = append([]SupplyEntry(nil), entries...)
	}

	result := AllocationResult{Records: make([]AllocationRecord, 0, len(items))}
	for _, it := range items {
		rec := e.Allocate(it.ID, it.RequestedQuantity, remaining[it.SKU])
		rec.SKU = it.SKU
		remaining[it.SKU] = drawDown(remaining[it.SKU], rec.Sources)
		result.Records = append(result.Records, rec)
	}
	return result
}

func drawDown(entries []SupplyEntry, taken []AllocationSource) []SupplyEntry {
	for _, src := range taken {
		for i := range entries {
			if entries[i].Location == src.Location {
				entries[i].Quantity -= src.Quantity
				break
			}
		}
	}
	return entries
}

// =============================================================================
// SUPPLY SOURCE
// =============================================================================

// SupplySource provides ranked supply for a SKU. Freshness and ordering are
// the source's responsibility.
type SupplySource interface {
	Supply(ctx context.Context, sku string) ([]SupplyEntry, error)
}

// StaticSupply is an in-memory SupplySource keyed by SKU.
type StaticSupply map[string][]SupplyEntry

func (s StaticSupply) Supply(_ context.Context, sku string) ([]SupplyEntry, error) {
	return append([]SupplyEntry(nil), s[sku]...), nil
}

// LoadSupply fetches supply for every distinct SKU in items.
func LoadSupply(ctx context.Context, src SupplySource, items []Item) (map[string][]SupplyEntry, error) {
	out := make(map[string][]SupplyEntry)
	for _, it := range items {
		if _, ok := out[it.SKU]; ok {
			continue
		}
		entries, err := src.Supply(ctx, it.SKU)
		if err != nil {
			return nil, err
		}
		out[it.SKU] = entries
	}
	return out, nil
}

/*
aggregate.go - Aggregate construction, accessors and copy semantics

PURPOSE:
  Builds new aggregates from an explicit options struct and provides the
  read-only accessors every flow and the reporting layer use.

CONSTRUCTION:
  NewAggregate takes the kind, a CreateOptions value and the injected clock
  and id generator. Every default lives in CreateOptions.withDefaults, so a
  zero-value field always means "use the default":

    Priority:   NORMAL
    ID:         generated ("<prefix>-<uuid>")
    Attributes: empty map

  The aggregate starts in the kind's initial status with no events.

COPY SEMANTICS:
  Clone deep-copies every slice and map. Domain actions clone before they
  touch items, records or exception tags so the caller's value never changes.

SEE ALSO:
  - types.go: Aggregate fields
  - transition.go: the only place Status changes
*/
package lifecycle

import (
	"fmt"
	"time"
)

// =============================================================================
// CREATE OPTIONS
// =============================================================================

// CreateOptions enumerates everything a new aggregate can be seeded with.
type CreateOptions struct {
	ID         RequestID
	Priority   Priority
	Items      []Item
	Attributes map[string]string
}

func (o CreateOptions) withDefaults() CreateOptions {
	if o.Priority == "" {
		o.Priority = PriorityNormal
	}
	if o.Attributes == nil {
		o.Attributes = map[string]string{}
	}
	return o
}

var kindPrefixes = map[Kind]string{
	KindInbound:  "IBR",
	KindOutbound: "ORR",
	KindReturn:   "RRQ",
}

// NewAggregate creates a request of the given kind in its initial status.
func NewAggregate(kind Kind, opts CreateOptions, clock Clock, ids IDGenerator) (*Aggregate, error) {
	graph, ok := LookupGraph(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	opts = opts.withDefaults()
	if !opts.Priority.Valid() {
		return nil, &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", opts.Priority)}
	}
	if err := validateItems(opts.Items); err != nil {
		return nil, err
	}

	id := opts.ID
	if id == "" {
		id = RequestID(ids.NewID(kindPrefixes[kind]))
	}
	now := clock.Now()

	agg := &Aggregate{
		ID:         id,
		Kind:       kind,
		Status:     graph.Initial,
		Priority:   opts.Priority,
		Items:      cloneItems(opts.Items),
		Stamps:     map[string]time.Time{},
		Attributes: cloneStrings(opts.Attributes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return agg, nil
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return &ValidationError{Field: "items", Message: "at least one item is required"}
	}
	seen := make(map[ItemID]bool, len(items))
	for i, it := range items {
		if it.ID == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].id", i), Message: "item id is required"}
		}
		if seen[it.ID] {
			return &ValidationError{Field: fmt.Sprintf("items[%d].id", i), Message: "duplicate item id " + string(it.ID)}
		}
		seen[it.ID] = true
		if it.RequestedQuantity < 0 || it.AllocatedQuantity < 0 || it.ProcessedQuantity < 0 ||
			it.InspectedQuantity < 0 || it.PackedQuantity < 0 || it.ShippedQuantity < 0 {
			return &ValidationError{Field: fmt.Sprintf("items[%d]", i), Message: "quantities must be non-negative"}
		}
	}
	return nil
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// Item returns the item with the given id.
func (a *Aggregate) Item(id ItemID) (Item, error) {
	for _, it := range a.Items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, &NotFoundError{RequestID: a.ID, ItemID: id}
}

func (a *Aggregate) itemIndex(id ItemID) int {
	for i := range a.Items {
		if a.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// UpdateItem applies fn to the item in place. Use only on a clone.
func (a *Aggregate) UpdateItem(id ItemID, fn func(*Item)) error {
	i := a.itemIndex(id)
	if i < 0 {
		return &NotFoundError{RequestID: a.ID, ItemID: id}
	}
	fn(&a.Items[i])
	return nil
}

// IsTerminal reports whether the aggregate can no longer transition.
func (a *Aggregate) IsTerminal() bool {
	return IsTerminal(a.Kind, a.Status)
}

// LastEvent returns the most recent event.
func (a *Aggregate) LastEvent() (Event, bool) {
	if len(a.Events) == 0 {
		return Event{}, false
	}
	return a.Events[len(a.Events)-1], true
}

// EventsTo returns every event that entered status, oldest first.
func (a *Aggregate) EventsTo(status Status) []Event {
	var result []Event
	for _, ev := range a.Events {
		if ev.To == status {
			result = append(result, ev)
		}
	}
	return result
}

// EnteredAt returns when the aggregate first entered status. The initial
// status is entered at creation.
func (a *Aggregate) EnteredAt(status Status) (time.Time, bool) {
	if status == InitialStatus(a.Kind) {
		return a.CreatedAt, true
	}
	for _, ev := range a.Events {
		if ev.To == status {
			return ev.Timestamp, true
		}
	}
	return time.Time{}, false
}

// Stamp returns a side timestamp such as "approved_at".
func (a *Aggregate) Stamp(name string) (time.Time, bool) {
	t, ok := a.Stamps[name]
	return t, ok
}

func (a *Aggregate) HasException(tag ExceptionTag) bool {
	for _, t := range a.Exceptions {
		if t == tag {
			return true
		}
	}
	return false
}

// AddException adds tag once. Tags are never removed.
func (a *Aggregate) AddException(tag ExceptionTag) {
	if !a.HasException(tag) {
		a.Exceptions = append(a.Exceptions, tag)
	}
}

// Attribute returns a request-level attribute or "".
func (a *Aggregate) Attribute(key string) string {
	return a.Attributes[key]
}

// SetAttribute writes a request-level attribute. Use only on a clone.
func (a *Aggregate) SetAttribute(key, value string) {
	if a.Attributes == nil {
		a.Attributes = map[string]string{}
	}
	a.Attributes[key] = value
}

// =============================================================================
// ACTION RECORDS
// =============================================================================

// HasRecord reports whether a record with the given key exists.
func (a *Aggregate) HasRecord(t RecordType, item ItemID, ref string) bool {
	k := recordKey{Type: t, ItemID: item, Ref: ref}
	for _, r := range a.Records {
		if r.key() == k {
			return true
		}
	}
	return false
}

// RecordsOf returns records of one type in append order.
func (a *Aggregate) RecordsOf(t RecordType) []ActionRecord {
	var result []ActionRecord
	for _, r := range a.Records {
		if r.Type == t {
			result = append(result, r)
		}
	}
	return result
}

// AppendRecord appends r unless a record with the same key exists.
// Returns false when r was a duplicate.
func (a *Aggregate) AppendRecord(r ActionRecord) bool {
	if a.HasRecord(r.Type, r.ItemID, r.Ref) {
		return false
	}
	a.Records = append(a.Records, r)
	return true
}

// AllItems reports whether pred holds for every item.
func (a *Aggregate) AllItems(pred func(Item) bool) bool {
	for _, it := range a.Items {
		if !pred(it) {
			return false
		}
	}
	return true
}

// AllItemsRecorded is the completion gate for per-item actions: true once
// every item has a record of type t.
func (a *Aggregate) AllItemsRecorded(t RecordType) bool {
	return a.AllItems(func(it Item) bool { return a.HasRecord(t, it.ID, "") })
}

// =============================================================================
// INVARIANTS
// =============================================================================

// CheckInvariants verifies quantity invariants that must hold at all times.
func (a *Aggregate) CheckInvariants() error {
	for _, it := range a.Items {
		if a.Kind == KindOutbound && it.AllocatedQuantity > it.RequestedQuantity {
			return &ValidationError{
				Field:   "items." + string(it.ID) + ".allocated_quantity",
				Message: fmt.Sprintf("allocated %d exceeds requested %d", it.AllocatedQuantity, it.RequestedQuantity),
			}
		}
	}
	return nil
}

// CheckAppendOnly verifies that next extends prev's event log and record log
// without rewriting any entry. Repositories call it before storing an update.
func CheckAppendOnly(prev, next *Aggregate) error {
	if next.ID != prev.ID || next.Kind != prev.Kind {
		return &ValidationError{Field: "id", Message: "request identity cannot change"}
	}
	if len(next.Events) < len(prev.Events) {
		return &ValidationError{Field: "events", Message: "events cannot be removed"}
	}
	for i, ev := range prev.Events {
		if next.Events[i] != ev {
			return &ValidationError{Field: "events", Message: fmt.Sprintf("event %d was modified", i)}
		}
	}
	if len(next.Records) < len(prev.Records) {
		return &ValidationError{Field: "records", Message: "records cannot be removed"}
	}
	for i, r := range prev.Records {
		if next.Records[i].key() != r.key() {
			return &ValidationError{Field: "records", Message: fmt.Sprintf("record %d was modified", i)}
		}
	}
	return nil
}

// =============================================================================
// CLONE
// =============================================================================

// Clone returns a deep copy.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	c := *a
	c.Items = cloneItems(a.Items)
	c.Events = append([]Event(nil), a.Events...)
	c.Exceptions = append([]ExceptionTag(nil), a.Exceptions...)
	c.Allocations = make([]AllocationRecord, len(a.Allocations))
	for i, rec := range a.Allocations {
		rec.Sources = append([]AllocationSource(nil), rec.Sources...)
		c.Allocations[i] = rec
	}
	if a.Allocations == nil {
		c.Allocations = nil
	}
	c.Records = make([]ActionRecord, len(a.Records))
	for i, r := range a.Records {
		r.Data = cloneStrings(r.Data)
		c.Records[i] = r
	}
	if a.Records == nil {
		c.Records = nil
	}
	c.Stamps = make(map[string]time.Time, len(a.Stamps))
	for k, v := range a.Stamps {
		c.Stamps[k] = v
	}
	c.Attributes = cloneStrings(a.Attributes)
	return &c
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		it.Attributes = cloneStrings(it.Attributes)
		out[i] = it
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

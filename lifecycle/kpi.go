/*
kpi.go - KPI snapshots computed from aggregates and their event logs

PURPOSE:
  KPIAggregator turns a collection of aggregates into a KPISnapshot for one
  kind and one reporting window. It is a pure read: aggregates are never
  modified and the same input always gives the same metrics.

HOW IT WORKS:
  1. Keep aggregates of the requested kind created inside the window
  2. Compute the shared metrics (totals, completion)
  3. Run the kind's registered MetricFunc for domain metrics

  Durations are measured between the first entry into one status and the
  first later entry into another, using event timestamps. The initial status
  is entered at creation. Only aggregates that reached both ends count.

RATES:
  Rate(count, total) = count / total * 100, rounded to two places, and 0
  when total is 0.

SEE ALSO:
  - period.go: reporting windows
  - outbound/kpi.go, inbound/kpi.go, returns/kpi.go: domain metric sets
*/
package lifecycle

import (
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Shared metric names.
const (
	MetricTotalRequests     = "total_requests"
	MetricCompletedRequests = "completed_requests"
	MetricCompletionRate    = "completion_rate"
	MetricExceptionRate     = "exception_rate"
)

// Metrics maps a metric name to its value.
type Metrics map[string]decimal.Decimal

// MetricFunc computes domain metrics over the aggregates of one window.
type MetricFunc func(aggs []*Aggregate) Metrics

// =============================================================================
// SNAPSHOT
// =============================================================================

// KPISnapshot is an immutable metrics summary.
type KPISnapshot struct {
	kind       Kind
	period     Period
	window     Window
	computedAt time.Time
	metrics    Metrics
}

func (s KPISnapshot) Kind() Kind { return s.kind }
func (s KPISnapshot) Period() Period { return s.period }
func (s KPISnapshot) Window() Window { return s.window }
func (s KPISnapshot) ComputedAt() time.Time { return s.computedAt }

// Metric returns a metric value and whether it was computed.
func (s KPISnapshot) Metric(name string) (decimal.Decimal, bool) {
	v, ok := s.metrics[name]
	return v, ok
}

// Metrics returns a copy of all metrics.
func (s KPISnapshot) Metrics() Metrics {
	out := make(Metrics, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out
}

// Names returns metric names, sorted.
func (s KPISnapshot) Names() []string {
	names := make([]string, 0, len(s.metrics))
	for k := range s.metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// METRIC REGISTRY
// =============================================================================

var (
	metricRegistry = make(map[Kind]MetricFunc)
	metricMu       sync.RWMutex
)

// RegisterMetrics installs the domain metric set for kind. Call it from
// domain package init() functions.
func RegisterMetrics(kind Kind, fn MetricFunc) {
	metricMu.Lock()
	defer metricMu.Unlock()
	metricRegistry[kind] = fn
}

func lookupMetrics(kind Kind) MetricFunc {
	metricMu.RLock()
	defer metricMu.RUnlock()
	return metricRegistry[kind]
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type KPIAggregator struct {
	Clock Clock
}

// Compute builds the snapshot for the window of period containing now.
func (k *KPIAggregator) Compute(kind Kind, period Period, aggs []*Aggregate) KPISnapshot {
	now := k.now()
	return k.ComputeWindow(kind, period, period.WindowFor(now), aggs)
}

// ComputeWindow builds the snapshot for an explicit window.
func (k *KPIAggregator) ComputeWindow(kind Kind, period Period, w Window, aggs []*Aggregate) KPISnapshot {
	selected := FilterAggregates(aggs, kind, w)

	metrics := Metrics{}
	total := len(selected)
	completed := CompletionCount(selected)
	withExceptions := CountWhere(selected, func(a *Aggregate) bool { return len(a.Exceptions) > 0 })

	metrics[MetricTotalRequests] = decimal.NewFromInt(int64(total))
	metrics[MetricCompletedRequests] = decimal.NewFromInt(int64(completed))
	metrics[MetricCompletionRate] = Rate(completed, total)
	metrics[MetricExceptionRate] = Rate(withExceptions, total)

	if fn := lookupMetrics(kind); fn != nil {
		for name, v := range fn(selected) {
			metrics[name] = v
		}
	}

	return KPISnapshot{
		kind:       kind,
		period:     period,
		window:     w,
		computedAt: k.now(),
		metrics:    metrics,
	}
}

func (k *KPIAggregator) now() time.Time {
	if k.Clock == nil {
		return SystemClock{}.Now()
	}
	return k.Clock.Now()
}

// =============================================================================
// METRIC HELPERS
// =============================================================================

// FilterAggregates keeps aggregates of kind created inside w.
func FilterAggregates(aggs []*Aggregate, kind Kind, w Window) []*Aggregate {
	var out []*Aggregate
	for _, a := range aggs {
		if a.Kind == kind && w.Contains(a.CreatedAt) {
			out = append(out, a)
		}
	}
	return out
}

// CountWhere counts aggregates matching pred.
func CountWhere(aggs []*Aggregate, pred func(*Aggregate) bool) int {
	n := 0
	for _, a := range aggs {
		if pred(a) {
			n++
		}
	}
	return n
}

// ExceptionCount counts aggregates carrying tag.
func ExceptionCount(aggs []*Aggregate, tag ExceptionTag) int {
	return CountWhere(aggs, func(a *Aggregate) bool { return a.HasException(tag) })
}

// CompletionCount counts aggregates in their graph's completion status.
func CompletionCount(aggs []*Aggregate) int {
	return CountWhere(aggs, func(a *Aggregate) bool {
		g, ok := LookupGraph(a.Kind)
		return ok && g.Completion != "" && a.Status == g.Completion
	})
}

// ReachedCount counts aggregates that entered status at some point.
func ReachedCount(aggs []*Aggregate, status Status) int {
	return CountWhere(aggs, func(a *Aggregate) bool {
		_, ok := a.EnteredAt(status)
		return ok
	})
}

// Count converts a count to a metric value.
func Count(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// Rate returns count/total*100 rounded to two places, or 0 for total 0.
func Rate(count, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(count)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2)
}

// Average returns the mean of values rounded to two places, or 0 when empty.
func Average(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values)))).Round(2)
}

// DurationBetween measures from the first entry into from to the first entry
// into to that comes after it in the event log. Event order decides, not
// timestamps, so same-instant transitions are measured correctly.
func DurationBetween(a *Aggregate, from, to Status) (time.Duration, bool) {
	start, next := a.CreatedAt, 0
	if from != InitialStatus(a.Kind) {
		i := slices.IndexFunc(a.Events, func(ev Event) bool { return ev.To == from })
		if i < 0 {
			return 0, false
		}
		start, next = a.Events[i].Timestamp, i+1
	}
	for _, ev := range a.Events[next:] {
		if ev.To == to {
			return ev.Timestamp.Sub(start), true
		}
	}
	return 0, false
}

// AverageDuration averages DurationBetween over aggs, expressed in unit.
func AverageDuration(aggs []*Aggregate, from, to Status, unit time.Duration) decimal.Decimal {
	var values []decimal.Decimal
	for _, a := range aggs {
		if d, ok := DurationBetween(a, from, to); ok {
			values = append(values, decimal.NewFromInt(int64(d)).Div(decimal.NewFromInt(int64(unit))))
		}
	}
	return Average(values)
}

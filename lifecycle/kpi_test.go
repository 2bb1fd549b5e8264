package lifecycle_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/wms-engine/lifecycle"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRate_GuardsZeroTotal(t *testing.T) {
	assert.True(t, lifecycle.Rate(0, 0).IsZero())
	assert.True(t, lifecycle.Rate(5, 0).IsZero())
	assert.True(t, dec("50").Equal(lifecycle.Rate(1, 2)))
	assert.True(t, dec("33.33").Equal(lifecycle.Rate(1, 3)))
	assert.True(t, dec("100").Equal(lifecycle.Rate(4, 4)))
}

func TestAverage(t *testing.T) {
	assert.True(t, lifecycle.Average(nil).IsZero())
	assert.True(t, dec("2.5").Equal(lifecycle.Average([]decimal.Decimal{dec("2"), dec("3")})))
}

func TestPeriod_Windows(t *testing.T) {
	// Wednesday 2025-03-12 15:30 UTC
	at := time.Date(2025, time.March, 12, 15, 30, 0, 0, time.UTC)

	daily := lifecycle.PeriodDaily.WindowFor(at)
	assert.Equal(t, time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC), daily.Start)
	assert.Equal(t, time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC), daily.End)

	weekly := lifecycle.PeriodWeekly.WindowFor(at)
	assert.Equal(t, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC), weekly.Start, "weeks start Monday")
	assert.Equal(t, time.Date(2025, time.March, 17, 0, 0, 0, 0, time.UTC), weekly.End)

	monthly := lifecycle.PeriodMonthly.WindowFor(at)
	assert.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), monthly.Start)
	assert.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), monthly.End)

	prev := lifecycle.PeriodMonthly.Previous(monthly)
	assert.Equal(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), prev.Start)

	assert.True(t, daily.Contains(daily.Start))
	assert.False(t, daily.Contains(daily.End))
}

func TestParsePeriod(t *testing.T) {
	p, err := lifecycle.ParsePeriod("weekly")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PeriodWeekly, p)

	p, err = lifecycle.ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.PeriodDaily, p)

	_, err = lifecycle.ParsePeriod("HOURLY")
	assert.ErrorIs(t, err, lifecycle.ErrValidation)
}

func TestDurationBetween_UsesFirstEntries(t *testing.T) {
	clock := lifecycle.NewManualClock(t0)
	svc := newTestService(clock)
	agg := newTestAggregate(t, clock)

	clock.Advance(10 * time.Minute)
	agg, _ = svc.Transition(agg, stReview, "sys", "")
	clock.Advance(20 * time.Minute)
	agg, _ = svc.Transition(agg, stApproved, "sys", "")

	d, ok := lifecycle.DurationBetween(agg, stReview, stApproved)
	require.True(t, ok)
	assert.Equal(t, 20*time.Minute, d)

	d, ok = lifecycle.DurationBetween(agg, stOpen, stApproved)
	require.True(t, ok, "initial status is entered at creation")
	assert.Equal(t, 30*time.Minute, d)

	_, ok = lifecycle.DurationBetween(agg, stReview, stClosed)
	assert.False(t, ok)
}

func TestDurationBetween_CountsOnlyLaterEvents(t *testing.T) {
	// GIVEN: REVIEW entered, then REJECTED in the same instant, then a
	//        second REVIEW fifteen minutes later
	// WHEN: measuring REJECTED -> REVIEW
	// THEN: the earlier same-instant REVIEW is not the end point
	clock := lifecycle.NewManualClock(t0)
	svc := newTestService(clock)

	agg, err := svc.Path(newTestAggregate(t, clock), "sys", stReview, stRejected)
	require.NoError(t, err)
	clock.Advance(15 * time.Minute)
	agg, err = svc.Path(agg, "sys", stOpen, stReview)
	require.NoError(t, err)

	d, ok := lifecycle.DurationBetween(agg, stRejected, stReview)
	require.True(t, ok)
	assert.Equal(t, 15*time.Minute, d)

	_, ok = lifecycle.DurationBetween(agg, stRejected, stApproved)
	assert.False(t, ok)
}

func TestKPIAggregator_ComputesSharedMetrics(t *testing.T) {
	clock := lifecycle.NewManualClock(t0)
	svc := newTestService(clock)

	closed, err := svc.Path(newTestAggregate(t, clock), "sys", stReview, stApproved, stClosed)
	require.NoError(t, err)

	open := newTestAggregate(t, clock)
	open.ID = "req-2"
	open.AddException("SOMETHING_WRONG")

	old := newTestAggregate(t, clock)
	old.ID = "req-3"
	old.CreatedAt = t0.AddDate(0, 0, -2)

	kpi := &lifecycle.KPIAggregator{Clock: clock}
	snap := kpi.Compute(testKind, lifecycle.PeriodDaily, []*lifecycle.Aggregate{closed, open, old})

	total, ok := snap.Metric(lifecycle.MetricTotalRequests)
	require.True(t, ok)
	assert.True(t, dec("2").Equal(total), "request created two days ago is outside the window")

	completed, _ := snap.Metric(lifecycle.MetricCompletedRequests)
	assert.True(t, dec("1").Equal(completed))
	rate, _ := snap.Metric(lifecycle.MetricCompletionRate)
	assert.True(t, dec("50").Equal(rate))
	exRate, _ := snap.Metric(lifecycle.MetricExceptionRate)
	assert.True(t, dec("50").Equal(exRate))

	assert.Equal(t, lifecycle.PeriodDaily, snap.Period())
	assert.Equal(t, testKind, snap.Kind())
	assert.Equal(t, t0, snap.ComputedAt())
	assert.Contains(t, snap.Names(), lifecycle.MetricCompletionRate)

	// the snapshot cannot be changed through its accessors
	m := snap.Metrics()
	m[lifecycle.MetricTotalRequests] = dec("999")
	again, _ := snap.Metric(lifecycle.MetricTotalRequests)
	assert.True(t, dec("2").Equal(again))
}

func TestKPIAggregator_RunsRegisteredMetrics(t *testing.T) {
	lifecycle.RegisterMetrics(testKind, func(aggs []*lifecycle.Aggregate) lifecycle.Metrics {
		return lifecycle.Metrics{"reviewed": decimal.NewFromInt(int64(lifecycle.ReachedCount(aggs, stReview)))}
	})
	t.Cleanup(func() { lifecycle.RegisterMetrics(testKind, nil) })

	clock := lifecycle.NewManualClock(t0)
	svc := newTestService(clock)
	reviewed, err := svc.Transition(newTestAggregate(t, clock), stReview, "sys", "")
	require.NoError(t, err)

	snap := (&lifecycle.KPIAggregator{Clock: clock}).Compute(testKind, lifecycle.PeriodWeekly, []*lifecycle.Aggregate{reviewed})
	v, ok := snap.Metric("reviewed")
	require.True(t, ok)
	assert.True(t, dec("1").Equal(v))
}

func TestKPIAggregator_EmptyInput(t *testing.T) {
	snap := (&lifecycle.KPIAggregator{Clock: lifecycle.NewManualClock(t0)}).Compute(testKind, lifecycle.PeriodMonthly, nil)
	rate, ok := snap.Metric(lifecycle.MetricCompletionRate)
	require.True(t, ok)
	assert.True(t, rate.IsZero())
}

package inbound

import (
	"time"

	"github.com/warp/wms-engine/lifecycle"
)

// Inbound metric names.
const (
	MetricHoldRate             = "hold_rate"
	MetricApprovalRequiredRate = "approval_required_rate"
	MetricRejectedRequests     = "rejected_requests"
	MetricAvgApprovalMinutes   = "avg_approval_minutes"
	MetricAvgLeadTimeHours     = "avg_lead_time_hours"
	MetricPartialArrivalRate   = "partial_arrival_rate"
	MetricApprovalDelayRate    = "approval_delay_rate"
)

// Metrics computes the inbound metric set. Lead time runs from creation to
// DONE; approval time from entering APPROVAL_WAITING to APPROVAL_COMPLETED.
func Metrics(aggs []*lifecycle.Aggregate) lifecycle.Metrics {
	total := len(aggs)
	return lifecycle.Metrics{
		MetricHoldRate:             lifecycle.Rate(lifecycle.ReachedCount(aggs, StatusHold), total),
		MetricApprovalRequiredRate: lifecycle.Rate(lifecycle.ReachedCount(aggs, StatusApprovalWaiting), total),
		MetricRejectedRequests:     lifecycle.Count(lifecycle.ReachedCount(aggs, StatusApprovalRejected)),
		MetricAvgApprovalMinutes:   lifecycle.AverageDuration(aggs, StatusApprovalWaiting, StatusApprovalCompleted, time.Minute),
		MetricAvgLeadTimeHours:     lifecycle.AverageDuration(aggs, StatusRequestWaiting, StatusDone, time.Hour),
		MetricPartialArrivalRate:   lifecycle.Rate(lifecycle.ExceptionCount(aggs, ExceptionPartialArrival), total),
		MetricApprovalDelayRate:    lifecycle.Rate(lifecycle.ExceptionCount(aggs, ExceptionApprovalDelay), total),
	}
}

package returns

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/wms-engine/lifecycle"
)

// Return metric names.
const (
	MetricApprovedRequests   = "approved_requests"
	MetricRejectedRequests   = "rejected_requests"
	MetricGradeARate         = "grade_a_rate"
	MetricGradeBRate         = "grade_b_rate"
	MetricGradeCRate         = "grade_c_rate"
	MetricRestockingRate     = "restocking_rate"
	MetricDisposalRate       = "disposal_rate"
	MetricTotalRefund        = "total_refund"
	MetricAverageRefund      = "average_refund"
	MetricAvgProcessingHours = "avg_processing_hours"
)

// Metrics computes the return metric set. Grade, restocking and disposal
// rates are over graded items; the average refund is over refunded requests.
func Metrics(aggs []*lifecycle.Aggregate) lifecycle.Metrics {
	graded := 0
	byGrade := map[lifecycle.Grade]int{}
	restocked, disposed := 0, 0
	total := decimal.Zero
	var refunds []decimal.Decimal

	for _, a := range aggs {
		for _, it := range a.Items {
			if it.Grade == "" {
				continue
			}
			graded++
			byGrade[it.Grade]++
			switch Disposition(a, it.ID) {
			case DecisionRestocking:
				restocked++
			case DecisionDisposal:
				disposed++
			}
		}
		if a.HasRecord(RecordRefund, "", "") {
			r := RefundTotal(a)
			total = total.Add(r)
			refunds = append(refunds, r)
		}
	}

	return lifecycle.Metrics{
		MetricApprovedRequests:   lifecycle.Count(lifecycle.ReachedCount(aggs, StatusReturnApproved)),
		MetricRejectedRequests:   lifecycle.Count(lifecycle.ReachedCount(aggs, StatusReturnRejected)),
		MetricGradeARate:         lifecycle.Rate(byGrade[lifecycle.GradeA], graded),
		MetricGradeBRate:         lifecycle.Rate(byGrade[lifecycle.GradeB], graded),
		MetricGradeCRate:         lifecycle.Rate(byGrade[lifecycle.GradeC], graded),
		MetricRestockingRate:     lifecycle.Rate(restocked, graded),
		MetricDisposalRate:       lifecycle.Rate(disposed, graded),
		MetricTotalRefund:        total,
		MetricAverageRefund:      lifecycle.Average(refunds),
		MetricAvgProcessingHours: lifecycle.AverageDuration(aggs, StatusReturnReceived, StatusCompleted, time.Hour),
	}
}

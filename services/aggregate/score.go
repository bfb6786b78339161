package aggregate

import (
	// Go Internal Packages
	"math"

	// Local Packages
	models "kirana-ledger/models"
)

// Targets at which a factor saturates.
const (
	activityTarget = 200
	salesTarget    = 50_000_00
)

// Weights of each factor, summing to 100.
const (
	repaymentWeight = 50
	activityWeight  = 20
	salesWeight     = 30
)

// Fold adds a confirmed event to the totals and recomputes the score from them.
func Fold(agg *models.CreditAggregate, ev models.Event) {
	if agg.ComponentTotals == nil {
		agg.ComponentTotals = map[string]models.Component{}
	}
	c := agg.ComponentTotals[string(ev.Kind)]
	c.Sum = saturatingAdd(c.Sum, ev.Amount)
	c.Count = saturatingAdd(c.Count, 1)
	agg.ComponentTotals[string(ev.Kind)] = c
	agg.AppliedEvents = append(agg.AppliedEvents, ev.ID)
	agg.Score = Score(agg.ComponentTotals)
}

// Score maps component totals onto [MinCreditScore, MaxCreditScore]. It depends only on
// the totals, so folding events in any order yields the same score.
func Score(totals map[string]models.Component) int {
	sale := totals[string(models.KindSale)]
	credit := totals[string(models.KindCredit)]
	repay := totals[string(models.KindRepayment)]

	// each factor in per-mille
	repayment := int64(500)
	if credit.Sum > 0 {
		repayment = ratio(repay.Sum, credit.Sum)
	}
	activity := ratio(saturatingAdd(saturatingAdd(sale.Count, credit.Count), repay.Count), activityTarget)
	sales := ratio(sale.Sum, salesTarget)

	weighted := (repayment*repaymentWeight + activity*activityWeight + sales*salesWeight) / 100
	span := int64(models.MaxCreditScore - models.MinCreditScore)
	score := models.MinCreditScore + int(weighted*span/1000)
	return min(max(score, models.MinCreditScore), models.MaxCreditScore)
}

// ratio returns part/whole in per-mille, capped at 1000.
func ratio(part, whole int64) int64 {
	if part <= 0 || whole <= 0 {
		return 0
	}
	if part >= whole {
		return 1000
	}
	if part > math.MaxInt64/1000 {
		return part / (whole / 1000)
	}
	return part * 1000 / whole
}

// saturatingAdd adds non-negative b to a, pinning at math.MaxInt64.
func saturatingAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

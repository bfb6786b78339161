// Package risk scores candidate events against a shopkeeper's history.
//
// Evaluate is pure: the same event and history always give the same assessment, so
// the pipeline can retry or replay it freely and tests need no storage.
package risk

import (
	// Go Internal Packages
	"fmt"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	models "kirana-ledger/models"
)

const (
	MaxScore         = 100
	DefaultThreshold = 80
)

// Policy holds the tunable limits of the heuristics.
type Policy struct {
	Threshold           int
	FirstTxnLimit       int64
	VelocityLimit       int64
	CreditExposureLimit int64
	EstablishedAfter    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Threshold:           DefaultThreshold,
		FirstTxnLimit:       10_000_00,
		VelocityLimit:       20,
		CreditExposureLimit: 20_000_00,
		EstablishedAfter:    365 * 24 * time.Hour,
	}
}

type Evaluator struct {
	policy Policy
}

// NewEvaluator fills unset policy fields from DefaultPolicy.
func NewEvaluator(policy Policy) *Evaluator {
	def := DefaultPolicy()
	if policy.Threshold <= 0 || policy.Threshold > MaxScore {
		policy.Threshold = def.Threshold
	}
	if policy.FirstTxnLimit <= 0 {
		policy.FirstTxnLimit = def.FirstTxnLimit
	}
	if policy.VelocityLimit <= 0 {
		policy.VelocityLimit = def.VelocityLimit
	}
	if policy.CreditExposureLimit <= 0 {
		policy.CreditExposureLimit = def.CreditExposureLimit
	}
	if policy.EstablishedAfter <= 0 {
		policy.EstablishedAfter = def.EstablishedAfter
	}
	return &Evaluator{policy: policy}
}

// Evaluate scores ev against h.
func (e *Evaluator) Evaluate(ev models.Event, h models.History) (models.Assessment, error) {
	if ev.Amount <= 0 {
		return models.Assessment{}, errors.E(errors.Invalid, fmt.Sprintf("amount %d is not positive", ev.Amount), nil)
	}
	if !ev.Kind.Valid() {
		return models.Assessment{}, errors.E(errors.Invalid, fmt.Sprintf("unknown kind %q", ev.Kind), nil)
	}

	score := e.deviation(ev, h) + e.velocity(h) + e.exposure(ev, h)

	if ev.Kind == models.KindRepayment {
		score -= 10
	}
	if h.Profile.Member() {
		score -= 10
	}
	if !h.Profile.OpenedAt.IsZero() && ev.OccurredAt.Sub(h.Profile.OpenedAt) >= e.policy.EstablishedAfter {
		score -= 5
	}
	score = clamp(score, 0, MaxScore)

	level := LevelFor(score)
	return models.Assessment{
		Score:    score,
		Level:    level,
		Eligible: score < e.policy.Threshold && level != models.RiskCritical,
	}, nil
}

// deviation penalises amounts far from what the shop usually records.
func (e *Evaluator) deviation(ev models.Event, h models.History) int {
	if h.Count == 0 {
		if ev.Amount > e.policy.FirstTxnLimit {
			return 35
		}
		return 10
	}

	score := 0
	// whole multiples of the historical mean; division keeps huge amounts in range
	mean := max(h.MeanAmount(), 1)
	switch {
	case ev.Amount/mean >= 10:
		score += 50
	case ev.Amount/mean >= 5:
		score += 35
	case ev.Amount/mean >= 3:
		score += 20
	case ev.Amount/mean >= 2:
		score += 10
	}
	if ev.Amount-h.MaxAmount > h.MaxAmount {
		score += 10
	}
	return score
}

func (e *Evaluator) velocity(h models.History) int {
	switch {
	case h.RecentCount >= e.policy.VelocityLimit:
		return 25
	case h.RecentCount >= e.policy.VelocityLimit/2:
		return 10
	}
	return 0
}

func (e *Evaluator) exposure(ev models.Event, h models.History) int {
	if ev.Kind != models.KindCredit {
		return 0
	}
	if h.OutstandingCredit >= e.policy.CreditExposureLimit || ev.Amount > e.policy.CreditExposureLimit-h.OutstandingCredit {
		return 20
	}
	return 0
}

// Critical is the fail-safe verdict used when an event cannot be scored.
func Critical() models.Assessment {
	return models.Assessment{Score: MaxScore, Level: models.RiskCritical, Eligible: false}
}

// LevelFor buckets a score.
func LevelFor(score int) models.RiskLevel {
	switch {
	case score < 30:
		return models.RiskLow
	case score < 60:
		return models.RiskMedium
	case score < 85:
		return models.RiskHigh
	}
	return models.RiskCritical
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}

package models

import (
	// Go Internal Packages
	"time"
)

type Kind string

const (
	KindSale      Kind = "sale"
	KindCredit    Kind = "credit"
	KindRepayment Kind = "repayment"
)

func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindCredit, KindRepayment:
		return true
	}
	return false
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Status string

const (
	StatusReceived     Status = "received"
	StatusScored       Status = "scored"
	StatusRecorded     Status = "recorded"
	StatusIneligible   Status = "ineligible"
	StatusSubmitting   Status = "submitting"
	StatusPendingRetry Status = "pending_retry"
	StatusConfirmed    Status = "confirmed"
	StatusFailed       Status = "failed"
	StatusDisputed     Status = "disputed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusReceived, StatusScored, StatusRecorded, StatusIneligible, StatusSubmitting,
	StatusPendingRetry, StatusConfirmed, StatusFailed, StatusDisputed,
}

// transitions holds the allowed forward moves. Ineligible events only leave through
// manual promotion; disputed is terminal.
var transitions = map[Status][]Status{
	StatusReceived:     {StatusScored},
	StatusScored:       {StatusRecorded},
	StatusRecorded:     {StatusIneligible, StatusSubmitting, StatusDisputed},
	StatusIneligible:   {StatusSubmitting},
	StatusSubmitting:   {StatusConfirmed, StatusPendingRetry, StatusFailed},
	StatusPendingRetry: {StatusSubmitting, StatusConfirmed, StatusFailed},
	StatusConfirmed:    {StatusDisputed},
}

// CanTransition reports whether an event may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that may move to the given one.
func SourcesOf(to Status) []Status {
	var out []Status
	for _, from := range AllStatuses {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Event is one candidate sale, credit or repayment. Amount is in minor currency units.
type Event struct {
	ID             string    `json:"id" bson:"_id"`
	ShopkeeperID   string    `json:"shopkeeper_id" bson:"shopkeeper_id"`
	CustomerID     string    `json:"customer_id" bson:"customer_id"`
	Kind           Kind      `json:"kind" bson:"kind"`
	Amount         int64     `json:"amount" bson:"amount"`
	OccurredAt     time.Time `json:"occurred_at" bson:"occurred_at"`
	SourceRef      string    `json:"source_ref,omitempty" bson:"source_ref,omitempty"`
	RawPayloadHash string    `json:"raw_payload_hash" bson:"raw_payload_hash"`
	RiskScore      int       `json:"risk_score" bson:"risk_score"`
	RiskLevel      RiskLevel `json:"risk_level,omitempty" bson:"risk_level,omitempty"`
	Eligible       bool      `json:"eligible" bson:"eligible"`
	Status         Status    `json:"status" bson:"status"`
	DisputeReason  string    `json:"dispute_reason,omitempty" bson:"dispute_reason,omitempty"`
	Notified       bool      `json:"notified" bson:"notified"`
	CreatedAt      time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" bson:"updated_at"`
}

// Assessment is the risk evaluator's verdict on an event.
type Assessment struct {
	Score    int       `json:"score"`
	Level    RiskLevel `json:"level"`
	Eligible bool      `json:"eligible"`
}

// EventFilter selects events for sweeps and listings. Zero fields do not filter.
type EventFilter struct {
	Statuses      []Status
	UpdatedBefore time.Time
	Notified      *bool
	Limit         int
}

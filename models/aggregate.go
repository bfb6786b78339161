package models

import (
	// Go Internal Packages
	"time"
)

const (
	MinCreditScore = 300
	MaxCreditScore = 900
)

// Component is a running total for one contributing factor.
type Component struct {
	Sum   int64 `json:"sum" bson:"sum"`
	Count int64 `json:"count" bson:"count"`
}

// CreditAggregate is the per-shopkeeper credit score. Score is derived from
// ComponentTotals and never written on its own.
type CreditAggregate struct {
	ShopkeeperID          string               `json:"shopkeeper_id" bson:"_id"`
	Score                 int                  `json:"score" bson:"score"`
	ComponentTotals       map[string]Component `json:"component_totals" bson:"component_totals"`
	Version               int64                `json:"version" bson:"version"`
	AppliedEvents         []string             `json:"-" bson:"applied_events"`
	LastAnchoredReference *string              `json:"last_anchored_reference" bson:"last_anchored_reference"`
	LastAnchoredVersion   int64                `json:"last_anchored_version" bson:"last_anchored_version"`
	UpdatedAt             time.Time            `json:"updated_at" bson:"updated_at"`
}

// NewCreditAggregate returns the zero aggregate for a shopkeeper.
func NewCreditAggregate(shopkeeperID string) *CreditAggregate {
	return &CreditAggregate{
		ShopkeeperID:    shopkeeperID,
		Score:           MinCreditScore,
		ComponentTotals: map[string]Component{},
	}
}

// HasApplied reports whether eventID is already folded into the totals.
func (a *CreditAggregate) HasApplied(eventID string) bool {
	for _, id := range a.AppliedEvents {
		if id == eventID {
			return true
		}
	}
	return false
}

// TrimApplied keeps only the n most recently applied event ids.
func (a *CreditAggregate) TrimApplied(n int) {
	if n <= 0 || len(a.AppliedEvents) <= n {
		return
	}
	a.AppliedEvents = append([]string(nil), a.AppliedEvents[len(a.AppliedEvents)-n:]...)
}

// Clone returns a deep copy.
func (a *CreditAggregate) Clone() *CreditAggregate {
	c := *a
	c.ComponentTotals = make(map[string]Component, len(a.ComponentTotals))
	for k, v := range a.ComponentTotals {
		c.ComponentTotals[k] = v
	}
	c.AppliedEvents = append([]string(nil), a.AppliedEvents...)
	if a.LastAnchoredReference != nil {
		ref := *a.LastAnchoredReference
		c.LastAnchoredReference = &ref
	}
	return &c
}

// PendingAnchor is the number of versions applied since the last anchored snapshot.
func (a *CreditAggregate) PendingAnchor() int64 {
	return a.Version - a.LastAnchoredVersion
}

package models

import (
	// Go Internal Packages
	"time"
)

// History summarises a shopkeeper's past activity for risk evaluation.
type History struct {
	Count             int64        `json:"count"`
	TotalAmount       int64        `json:"total_amount"`
	MaxAmount         int64        `json:"max_amount"`
	RecentCount       int64        `json:"recent_count"`
	OutstandingCredit int64        `json:"outstanding_credit"`
	Profile           StoreProfile `json:"profile"`
}

// MeanAmount is the average historical amount, zero without history.
func (h History) MeanAmount() int64 {
	if h.Count == 0 {
		return 0
	}
	return h.TotalAmount / h.Count
}

// StoreProfile is read-only store metadata and cooperative membership owned elsewhere.
type StoreProfile struct {
	ShopkeeperID  string    `json:"shopkeeper_id" bson:"_id"`
	CooperativeID string    `json:"cooperative_id,omitempty" bson:"cooperative_id,omitempty"`
	OpenedAt      time.Time `json:"opened_at" bson:"opened_at"`
}

// Member reports cooperative membership.
func (p StoreProfile) Member() bool { return p.CooperativeID != "" }

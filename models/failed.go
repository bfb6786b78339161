package models

import (
	// Go Internal Packages
	"time"
)

// FailedEvent is what operators see for an event that needs attention.
type FailedEvent struct {
	Event    Event     `json:"event"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

package models

import (
	// Go Internal Packages
	"time"
)

// LedgerLink is the audit trail of an event's ledger submissions. It is never deleted.
type LedgerLink struct {
	EventID                string     `json:"event_id" bson:"_id"`
	SubmissionAttempts     int        `json:"submission_attempts" bson:"submission_attempts"`
	LedgerReference        *string    `json:"ledger_reference" bson:"ledger_reference"`
	ConfirmedAtBlockHeight *int64     `json:"confirmed_at_block_height" bson:"confirmed_at_block_height"`
	LastError              *string    `json:"last_error" bson:"last_error"`
	NextAttemptAt          *time.Time `json:"next_attempt_at,omitempty" bson:"next_attempt_at"`
	CreatedAt              time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at" bson:"updated_at"`
}

// Confirmed reports whether the ledger reference has been recorded.
func (l *LedgerLink) Confirmed() bool {
	return l != nil && l.LedgerReference != nil
}

package models

import (
	// Go Internal Packages
	"time"
)

type Record struct {
	Key   []byte
	Value []byte
	Topic string
}

// CandidateEvent is the message the transcription layer publishes for each parsed transaction.
type CandidateEvent struct {
	ShopkeeperID string    `json:"shopkeeper_id"`
	CustomerID   string    `json:"customer_id"`
	Kind         string    `json:"kind"`
	Amount       int64     `json:"amount"`
	OccurredAt   time.Time `json:"occurred_at"`
	SourceRef    string    `json:"source_ref"`
}

// ConfirmedMessage is published once an event is anchored on the ledger.
type ConfirmedMessage struct {
	EventID         string    `json:"event_id"`
	ShopkeeperID    string    `json:"shopkeeper_id"`
	CustomerID      string    `json:"customer_id"`
	Kind            Kind      `json:"kind"`
	Amount          int64     `json:"amount"`
	OccurredAt      time.Time `json:"occurred_at"`
	LedgerReference string    `json:"ledger_reference"`
	BlockHeight     int64     `json:"block_height"`
}

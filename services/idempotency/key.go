// Package idempotency derives the content fingerprints used to deduplicate events
// locally and to tag them on the ledger.
package idempotency

import (
	// Go Internal Packages
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	// Local Packages
	models "kirana-ledger/models"
)

const DefaultBucket = time.Minute

// Deriver computes keys. Occurrence times are truncated to Bucket so re-transcriptions of
// the same sale a few seconds apart collapse to one key.
type Deriver struct {
	Bucket time.Duration
}

func NewDeriver(bucket time.Duration) *Deriver {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return &Deriver{Bucket: bucket}
}

// eventFields is serialized in declaration order, which makes the encoding canonical.
type eventFields struct {
	Version    string      `json:"v"`
	Shopkeeper string      `json:"shopkeeper"`
	Customer   string      `json:"customer"`
	Kind       models.Kind `json:"kind"`
	Amount     int64       `json:"amount"`
	SourceRef  string      `json:"source_ref"`
	Bucket     int64       `json:"bucket"`
}

// Key returns the hex SHA-256 fingerprint of the fields that identify a logical event.
func (d *Deriver) Key(ev models.Event) string {
	f := eventFields{
		Version:    "event/1",
		Shopkeeper: ev.ShopkeeperID,
		Customer:   ev.CustomerID,
		Kind:       ev.Kind,
		Amount:     ev.Amount,
		SourceRef:  ev.SourceRef,
		Bucket:     ev.OccurredAt.UTC().Truncate(d.Bucket).Unix(),
	}
	return digest(f)
}

type snapshotComponent struct {
	Name  string `json:"name"`
	Sum   int64  `json:"sum"`
	Count int64  `json:"count"`
}

type snapshotFields struct {
	Version    string              `json:"v"`
	Shopkeeper string              `json:"shopkeeper"`
	AggVersion int64               `json:"version"`
	Score      int                 `json:"score"`
	Components []snapshotComponent `json:"components"`
}

// SnapshotKey fingerprints a credit aggregate at its current version.
func SnapshotKey(agg models.CreditAggregate) string {
	return digest(Snapshot(agg))
}

// Snapshot is the canonical, order-stable form of an aggregate that gets anchored.
func Snapshot(agg models.CreditAggregate) any {
	names := make([]string, 0, len(agg.ComponentTotals))
	for name := range agg.ComponentTotals {
		names = append(names, name)
	}
	sort.Strings(names)

	comps := make([]snapshotComponent, len(names))
	for i, name := range names {
		c := agg.ComponentTotals[name]
		comps[i] = snapshotComponent{Name: name, Sum: c.Sum, Count: c.Count}
	}
	return snapshotFields{
		Version:    "snapshot/1",
		Shopkeeper: agg.ShopkeeperID,
		AggVersion: agg.Version,
		Score:      agg.Score,
		Components: comps,
	}
}

func digest(v any) string {
	// Only strings, integers and slices of structs reach here; Marshal cannot fail.
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

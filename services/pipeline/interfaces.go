package pipeline

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	ledger "kirana-ledger/ledger"
	models "kirana-ledger/models"
)

// EventStore is the local source of truth for events. Status changes are conditional on
// the current status and fail with a Conflict when it does not match.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.Event) error
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	FindEventByKey(ctx context.Context, key string) (*models.Event, error)
	ScoreEvent(ctx context.Context, id string, a models.Assessment, at time.Time) error
	TransitionEvent(ctx context.Context, id string, to models.Status, at time.Time, from ...models.Status) error
	DisputeEvent(ctx context.Context, id, reason string, at time.Time, from ...models.Status) error
	MarkNotified(ctx context.Context, id string, at time.Time) error
	ListEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)
	History(ctx context.Context, ev models.Event, since time.Time) (models.History, error)
}

// LinkStore keeps the submission audit trail. SetReference never overwrites a stored reference.
type LinkStore interface {
	EnsureLink(ctx context.Context, eventID string, at time.Time) (*models.LedgerLink, error)
	GetLink(ctx context.Context, eventID string) (*models.LedgerLink, error)
	RecordAttempt(ctx context.Context, eventID string, at time.Time) (*models.LedgerLink, error)
	RecordFailure(ctx context.Context, eventID, msg string, next *time.Time, at time.Time) error
	SetReference(ctx context.Context, eventID, ref string, height int64, at time.Time) (*models.LedgerLink, error)
}

// Ledger is the subset of *ledger.Client the pipeline uses.
type Ledger interface {
	Submit(ctx context.Context, key string, payload []byte) (ledger.SubmissionResult, error)
	Lookup(ctx context.Context, key string) (ledger.Confirmation, error)
	EnsureRegistered(ctx context.Context, shopkeeperID string) error
}

type Scorer interface {
	Evaluate(ev models.Event, h models.History) (models.Assessment, error)
}

type AggregateApplier interface {
	Apply(ctx context.Context, ev models.Event) (*models.CreditAggregate, error)
}

// Notifier publishes confirmations to downstream consumers.
type Notifier interface {
	PublishConfirmed(ctx context.Context, msg models.ConfirmedMessage) error
}

// FailureQueue surfaces failed events to operators.
type FailureQueue interface {
	PushFailed(ctx context.Context, ev models.Event, reason string) error
}

// Lease keeps concurrent sweeps on different replicas apart.
type Lease interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
	Release(ctx context.Context) error
}

// AnchorScheduler retries snapshot anchors that did not go through inline.
type AnchorScheduler interface {
	AnchorDue(ctx context.Context, limit int) (int, error)
}

// Package pipeline drives events from ingestion to ledger confirmation.
//
// Every event walks a forward-only state machine persisted in the local store. Eligible
// events are submitted to the ledger on their shopkeeper's lane of a single-writer queue,
// always behind a Lookup so that a write whose outcome was lost is never repeated. The
// Sweeper resolves whatever a crash or a timeout left in between.
package pipeline

import (
	// Go Internal Packages
	"context"
	"fmt"
	"strings"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	metrics "kirana-ledger/metrics"
	models "kirana-ledger/models"
	idempotency "kirana-ledger/services/idempotency"
	risk "kirana-ledger/services/risk"

	// External Packages
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxClockSkew = 5 * time.Minute
	// DefaultMaxAmount is ten crore rupees in paise.
	DefaultMaxAmount int64 = 10_00_00_000_00
)

type Config struct {
	ScoreRetries  int
	MaxAttempts   int
	MaxAmount     int64
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	HistoryWindow time.Duration
	TimeBucket    time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScoreRetries <= 0 {
		c.ScoreRetries = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.MaxAmount <= 0 {
		c.MaxAmount = DefaultMaxAmount
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 5 * time.Minute
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = time.Hour
	}
	if c.TimeBucket <= 0 {
		c.TimeBucket = idempotency.DefaultBucket
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Aggregates, Notifier and Failures are optional.
type Deps struct {
	Events     EventStore
	Links      LinkStore
	Ledger     Ledger
	Scorer     Scorer
	Queue      *Queue
	Aggregates AggregateApplier
	Notifier   Notifier
	Failures   FailureQueue
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
	Clock      func() time.Time
	NewID      func() string
}

type Orchestrator struct {
	events     EventStore
	links      LinkStore
	ledger     Ledger
	scorer     Scorer
	queue      *Queue
	aggregates AggregateApplier
	notifier   Notifier
	failures   FailureQueue
	keys       *idempotency.Deriver
	backoff    Backoff
	cfg        Config
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	newID      func() string
}

func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		events:     deps.Events,
		links:      deps.Links,
		ledger:     deps.Ledger,
		scorer:     deps.Scorer,
		queue:      deps.Queue,
		aggregates: deps.Aggregates,
		notifier:   deps.Notifier,
		failures:   deps.Failures,
		keys:       idempotency.NewDeriver(cfg.TimeBucket),
		backoff:    Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		cfg:        cfg,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
		now:        deps.Clock,
		newID:      deps.NewID,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.NewString() }
	}
	return o
}

// IngestResult tells the caller which event the request maps to and where it stands.
type IngestResult struct {
	EventID   string        `json:"event_id"`
	Status    models.Status `json:"status"`
	Duplicate bool          `json:"duplicate"`
}

// EventView is an event together with its ledger link, if one exists yet.
type EventView struct {
	Event models.Event       `json:"event"`
	Link  *models.LedgerLink `json:"ledger_link,omitempty"`
}

// Ingest records a candidate event and takes it as far as it can go synchronously.
// Re-ingesting the same transaction returns the original event and never creates a second one.
func (o *Orchestrator) Ingest(ctx context.Context, req models.CandidateEvent) (IngestResult, error) {
	ev, err := o.validate(req)
	if err != nil {
		return IngestResult{}, err
	}
	ev.RawPayloadHash = o.keys.Key(ev)

	if res, ok, err := o.existing(ctx, ev.RawPayloadHash); err != nil || ok {
		return res, err
	}

	now := o.now().UTC()
	ev.ID = o.newID()
	ev.Status = models.StatusReceived
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if err := o.events.InsertEvent(ctx, &ev); err != nil {
		if errors.KindOf(err) == errors.Conflict {
			// lost the race against a concurrent ingest of the same transaction
			if res, ok, ferr := o.existing(ctx, ev.RawPayloadHash); ferr == nil && ok {
				return res, nil
			}
		}
		return IngestResult{}, errors.Wrapf(err, "inserting event")
	}
	o.metrics.IncIngested(string(ev.Kind), false)
	o.metrics.IncTransition(string(models.StatusReceived))
	o.logger.Info("event received",
		zap.String("event_id", ev.ID),
		zap.String("shopkeeper_id", ev.ShopkeeperID),
		zap.String("kind", string(ev.Kind)),
		zap.Int64("amount", ev.Amount))

	status, submit, err := o.advance(ctx, ev)
	if err != nil {
		return IngestResult{EventID: ev.ID, Status: status}, err
	}
	if submit {
		o.enqueue(ev)
	}
	return IngestResult{EventID: ev.ID, Status: status}, nil
}

func (o *Orchestrator) existing(ctx context.Context, key string) (IngestResult, bool, error) {
	found, err := o.events.FindEventByKey(ctx, key)
	if err != nil {
		if errors.KindOf(err) == errors.NotFound {
			return IngestResult{}, false, nil
		}
		return IngestResult{}, false, errors.Wrapf(err, "looking up idempotency key")
	}
	o.metrics.IncIngested(string(found.Kind), true)
	o.logger.Info("duplicate event ignored", zap.String("event_id", found.ID), zap.String("key", key))
	return IngestResult{EventID: found.ID, Status: found.Status, Duplicate: true}, true, nil
}

func (o *Orchestrator) validate(req models.CandidateEvent) (models.Event, error) {
	verrs := errors.ValidationErrs()
	ev := models.Event{
		ShopkeeperID: strings.TrimSpace(req.ShopkeeperID),
		CustomerID:   strings.TrimSpace(req.CustomerID),
		Kind:         models.Kind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Amount:       req.Amount,
		OccurredAt:   req.OccurredAt.UTC(),
		SourceRef:    strings.TrimSpace(req.SourceRef),
	}
	if ev.ShopkeeperID == "" {
		verrs.Add("shopkeeper_id", "is required")
	}
	if ev.CustomerID == "" {
		verrs.Add("customer_id", "is required")
	}
	if !ev.Kind.Valid() {
		verrs.Add("kind", fmt.Sprintf("must be one of sale, credit, repayment; got %q", req.Kind))
	}
	if ev.Amount <= 0 {
		verrs.Add("amount", "must be positive")
	} else if ev.Amount > o.cfg.MaxAmount {
		verrs.Add("amount", fmt.Sprintf("exceeds the maximum of %d", o.cfg.MaxAmount))
	}
	if req.OccurredAt.IsZero() {
		verrs.Add("occurred_at", "is required")
	} else if ev.OccurredAt.After(o.now().Add(maxClockSkew)) {
		verrs.Add("occurred_at", "is in the future")
	}
	if err := verrs.Err(); err != nil {
		return models.Event{}, errors.ValidationFailedErr(err)
	}
	return ev, nil
}

// advance moves ev through the local states up to recorded, then settles ineligible
// events. It reports whether the event is ready for ledger submission.
func (o *Orchestrator) advance(ctx context.Context, ev models.Event) (models.Status, bool, error) {
	if ev.Status == models.StatusReceived {
		a := o.score(ctx, ev)
		if err := o.events.ScoreEvent(ctx, ev.ID, a, o.now().UTC()); err != nil {
			return ev.Status, false, errors.Wrapf(err, "persisting score of event %s", ev.ID)
		}
		ev.Status = models.StatusScored
		ev.RiskScore, ev.RiskLevel, ev.Eligible = a.Score, a.Level, a.Eligible
		o.metrics.IncTransition(string(models.StatusScored))
	}

	if ev.Status == models.StatusScored {
		if err := o.events.TransitionEvent(ctx, ev.ID, models.StatusRecorded, o.now().UTC(), models.StatusScored); err != nil {
			o.logger.Error("recording event failed, submission blocked",
				zap.String("event_id", ev.ID), zap.Error(err))
			return ev.Status, false, errors.Wrapf(err, "recording event %s", ev.ID)
		}
		ev.Status = models.StatusRecorded
		o.metrics.IncTransition(string(models.StatusRecorded))
	}

	if ev.Status != models.StatusRecorded {
		return ev.Status, false, nil
	}
	if !ev.Eligible {
		if err := o.events.TransitionEvent(ctx, ev.ID, models.StatusIneligible, o.now().UTC(), models.StatusRecorded); err != nil {
			return ev.Status, false, errors.Wrapf(err, "holding event %s", ev.ID)
		}
		o.metrics.IncTransition(string(models.StatusIneligible))
		o.logger.Info("event held for review",
			zap.String("event_id", ev.ID), zap.Int("risk_score", ev.RiskScore), zap.String("risk_level", string(ev.RiskLevel)))
		return models.StatusIneligible, false, nil
	}
	return models.StatusRecorded, true, nil
}

// score evaluates ev, retrying history reads up to ScoreRetries times. Evaluate itself is
// pure, so an error from it would repeat on every try and ends the loop at once. An event
// that cannot be scored is treated as critical, which holds it back from the ledger.
func (o *Orchestrator) score(ctx context.Context, ev models.Event) models.Assessment {
	since := ev.OccurredAt.Add(-o.cfg.HistoryWindow)
	for attempt := 1; attempt <= o.cfg.ScoreRetries; attempt++ {
		h, err := o.events.History(ctx, ev, since)
		if err == nil {
			a, err := o.scorer.Evaluate(ev, h)
			if err == nil {
				return a
			}
			o.logger.Warn("risk evaluation failed", zap.String("event_id", ev.ID), zap.Error(err))
			break
		}
		o.logger.Warn("history fetch failed",
			zap.String("event_id", ev.ID), zap.Int("attempt", attempt), zap.Error(err))
	}
	return risk.Critical()
}

func (o *Orchestrator) enqueue(ev models.Event) {
	ok := o.queue.TryEnqueue(ev.ShopkeeperID, func(ctx context.Context) error {
		_, err := o.submit(ctx, ev.ID)
		return err
	})
	if !ok {
		o.logger.Warn("submission lane full, leaving event to the sweeper", zap.String("event_id", ev.ID))
	}
}

func (o *Orchestrator) Get(ctx context.Context, eventID string) (EventView, error) {
	ev, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return EventView{}, err
	}
	view := EventView{Event: *ev}
	link, err := o.links.GetLink(ctx, eventID)
	switch {
	case err == nil:
		view.Link = link
	case errors.KindOf(err) != errors.NotFound:
		return EventView{}, err
	}
	return view, nil
}

// Dispute flags a recorded or confirmed event for manual review.
func (o *Orchestrator) Dispute(ctx context.Context, eventID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return errors.EmptyParamErr("reason")
	}
	err := o.events.DisputeEvent(ctx, eventID, reason, o.now().UTC(), models.SourcesOf(models.StatusDisputed)...)
	if err != nil {
		return err
	}
	o.metrics.IncTransition(string(models.StatusDisputed))
	o.logger.Info("event disputed", zap.String("event_id", eventID), zap.String("reason", reason))
	return nil
}

// Promote releases an ineligible event to the ledger after manual review.
func (o *Orchestrator) Promote(ctx context.Context, eventID string) error {
	ev, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if err := o.events.TransitionEvent(ctx, eventID, models.StatusSubmitting, o.now().UTC(), models.StatusIneligible); err != nil {
		return err
	}
	o.metrics.IncTransition(string(models.StatusSubmitting))
	o.logger.Info("event promoted", zap.String("event_id", eventID))
	o.enqueue(*ev)
	return nil
}

func (o *Orchestrator) Status(ctx context.Context) (models.PipelineStatus, error) {
	counts, err := o.events.CountByStatus(ctx)
	if err != nil {
		return models.PipelineStatus{}, err
	}
	return models.NewPipelineStatus(counts), nil
}

package pipeline

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	ledger "kirana-ledger/ledger"
	models "kirana-ledger/models"

	// External Packages
	"go.uber.org/zap"
)

// entryPayload is what the ledger stores for an event. It only carries immutable
// fields, so every resubmission of an event sends identical bytes.
type entryPayload struct {
	Type         string      `json:"type"`
	EventID      string      `json:"event_id"`
	Key          string      `json:"key"`
	ShopkeeperID string      `json:"shopkeeper_id"`
	CustomerID   string      `json:"customer_id"`
	Kind         models.Kind `json:"kind"`
	Amount       int64       `json:"amount"`
	OccurredAt   time.Time   `json:"occurred_at"`
	SourceRef    string      `json:"source_ref,omitempty"`
	RiskScore    int         `json:"risk_score"`
}

func eventPayload(ev models.Event) ([]byte, error) {
	return json.Marshal(entryPayload{
		Type:         "event",
		EventID:      ev.ID,
		Key:          ev.RawPayloadHash,
		ShopkeeperID: ev.ShopkeeperID,
		CustomerID:   ev.CustomerID,
		Kind:         ev.Kind,
		Amount:       ev.Amount,
		OccurredAt:   ev.OccurredAt.UTC(),
		SourceRef:    ev.SourceRef,
		RiskScore:    ev.RiskScore,
	})
}

// submit claims the event for submission and drives it against the ledger. It must run
// on the event's shopkeeper lane. Events another path already settled are left alone.
func (o *Orchestrator) submit(ctx context.Context, eventID string) (models.Status, error) {
	ev, err := o.events.GetEvent(ctx, eventID)
	if err != nil {
		return "", err
	}

	switch {
	case ev.Status == models.StatusSubmitting:
	case ev.Status == models.StatusPendingRetry, ev.Status == models.StatusRecorded && ev.Eligible:
		err := o.events.TransitionEvent(ctx, ev.ID, models.StatusSubmitting, o.now().UTC(), ev.Status)
		if err != nil {
			if errors.KindOf(err) == errors.Conflict {
				return o.currentStatus(ctx, ev.ID), nil
			}
			return ev.Status, err
		}
		ev.Status = models.StatusSubmitting
		o.metrics.IncTransition(string(models.StatusSubmitting))
	default:
		return ev.Status, nil
	}
	return o.drive(ctx, *ev)
}

// drive resolves a submitting event. The ledger is always asked first, so a write whose
// response was lost is confirmed instead of repeated.
func (o *Orchestrator) drive(ctx context.Context, ev models.Event) (models.Status, error) {
	link, err := o.links.EnsureLink(ctx, ev.ID, o.now().UTC())
	if err != nil {
		return ev.Status, errors.Wrapf(err, "loading ledger link of event %s", ev.ID)
	}
	if link.Confirmed() {
		return o.confirm(ctx, ev, *link.LedgerReference, *link.ConfirmedAtBlockHeight)
	}

	conf, err := o.ledger.Lookup(ctx, ev.RawPayloadHash)
	switch {
	case err == nil:
		return o.confirm(ctx, ev, conf.Reference, conf.BlockHeight)
	case !ledger.IsNotFound(err):
		if ledger.IsPermanent(err) {
			return o.fail(ctx, ev, err)
		}
		// without a lookup answer a resubmit could duplicate the entry
		return o.retryLater(ctx, ev, link.SubmissionAttempts, err)
	}

	if link.SubmissionAttempts >= o.cfg.MaxAttempts {
		return o.fail(ctx, ev, errors.ExhaustedRetriesErr(ev.ID, link.SubmissionAttempts))
	}

	if err := o.ledger.EnsureRegistered(ctx, ev.ShopkeeperID); err != nil {
		if ledger.IsPermanent(err) {
			return o.fail(ctx, ev, err)
		}
		return o.retryLater(ctx, ev, link.SubmissionAttempts, err)
	}

	payload, err := eventPayload(ev)
	if err != nil {
		return o.fail(ctx, ev, ledger.Permanent("encoding payload", err))
	}
	link, err = o.links.RecordAttempt(ctx, ev.ID, o.now().UTC())
	if err != nil {
		return ev.Status, errors.Wrapf(err, "recording attempt of event %s", ev.ID)
	}

	res, err := o.ledger.Submit(ctx, ev.RawPayloadHash, payload)
	switch {
	case err == nil:
		return o.confirm(ctx, ev, res.Reference, res.BlockHeight)
	case errors.Is(err, ledger.ErrDuplicateKey):
		if conf, lerr := o.ledger.Lookup(ctx, ev.RawPayloadHash); lerr == nil {
			return o.confirm(ctx, ev, conf.Reference, conf.BlockHeight)
		}
		return o.retryLater(ctx, ev, link.SubmissionAttempts, err)
	case ledger.IsPermanent(err):
		return o.fail(ctx, ev, err)
	default:
		return o.retryLater(ctx, ev, link.SubmissionAttempts, err)
	}
}

func (o *Orchestrator) confirm(ctx context.Context, ev models.Event, ref string, height int64) (models.Status, error) {
	now := o.now().UTC()
	link, err := o.links.SetReference(ctx, ev.ID, ref, height, now)
	if err != nil {
		return ev.Status, errors.Wrapf(err, "storing ledger reference of event %s", ev.ID)
	}
	if err := o.events.TransitionEvent(ctx, ev.ID, models.StatusConfirmed, now, models.StatusSubmitting, models.StatusPendingRetry); err != nil {
		if o.currentStatus(ctx, ev.ID) != models.StatusConfirmed {
			return ev.Status, errors.Wrapf(err, "confirming event %s", ev.ID)
		}
	} else {
		o.metrics.IncTransition(string(models.StatusConfirmed))
	}
	ev.Status = models.StatusConfirmed
	o.logger.Info("event confirmed on ledger",
		zap.String("event_id", ev.ID),
		zap.String("reference", *link.LedgerReference),
		zap.Int64("block_height", *link.ConfirmedAtBlockHeight))

	if err := o.notify(ctx, ev, *link); err != nil {
		// confirmed stays confirmed; the sweeper re-delivers
		o.logger.Warn("confirmation notification failed", zap.String("event_id", ev.ID), zap.Error(err))
	}
	return models.StatusConfirmed, nil
}

// notify folds the event into the shopkeeper's aggregate and publishes it downstream.
// Both steps tolerate repetition, so it is safe to call again after a partial failure.
func (o *Orchestrator) notify(ctx context.Context, ev models.Event, link models.LedgerLink) error {
	if o.aggregates != nil {
		if _, err := o.aggregates.Apply(ctx, ev); err != nil {
			return errors.Wrapf(err, "applying event to aggregate")
		}
	}
	if o.notifier != nil {
		msg := models.ConfirmedMessage{
			EventID:      ev.ID,
			ShopkeeperID: ev.ShopkeeperID,
			CustomerID:   ev.CustomerID,
			Kind:         ev.Kind,
			Amount:       ev.Amount,
			OccurredAt:   ev.OccurredAt,
		}
		if link.LedgerReference != nil {
			msg.LedgerReference = *link.LedgerReference
		}
		if link.ConfirmedAtBlockHeight != nil {
			msg.BlockHeight = *link.ConfirmedAtBlockHeight
		}
		if err := o.notifier.PublishConfirmed(ctx, msg); err != nil {
			return errors.Wrapf(err, "publishing confirmation")
		}
	}
	return o.events.MarkNotified(ctx, ev.ID, o.now().UTC())
}

func (o *Orchestrator) retryLater(ctx context.Context, ev models.Event, attempts int, cause error) (models.Status, error) {
	now := o.now().UTC()
	next := now.Add(o.backoff.Delay(max(attempts, 1)))
	if err := o.links.RecordFailure(ctx, ev.ID, cause.Error(), &next, now); err != nil {
		return ev.Status, errors.Wrapf(err, "recording failure of event %s", ev.ID)
	}
	if err := o.events.TransitionEvent(ctx, ev.ID, models.StatusPendingRetry, now, models.StatusSubmitting); err != nil {
		return ev.Status, errors.Wrapf(err, "parking event %s", ev.ID)
	}
	o.metrics.IncTransition(string(models.StatusPendingRetry))
	o.logger.Warn("ledger submission deferred",
		zap.String("event_id", ev.ID),
		zap.Int("attempts", attempts),
		zap.Bool("outcome_unknown", ledger.IsOutcomeUnknown(cause)),
		zap.Time("next_attempt_at", next),
		zap.Error(cause))
	return models.StatusPendingRetry, nil
}

func (o *Orchestrator) fail(ctx context.Context, ev models.Event, cause error) (models.Status, error) {
	now := o.now().UTC()
	if err := o.links.RecordFailure(ctx, ev.ID, cause.Error(), nil, now); err != nil {
		return ev.Status, errors.Wrapf(err, "recording failure of event %s", ev.ID)
	}
	if err := o.events.TransitionEvent(ctx, ev.ID, models.StatusFailed, now, models.StatusSubmitting, models.StatusPendingRetry); err != nil {
		return ev.Status, errors.Wrapf(err, "failing event %s", ev.ID)
	}
	ev.Status = models.StatusFailed
	o.metrics.IncTransition(string(models.StatusFailed))
	o.logger.Error("event failed", zap.String("event_id", ev.ID), zap.Error(cause))

	if o.failures != nil {
		if err := o.failures.PushFailed(ctx, ev, cause.Error()); err != nil {
			o.logger.Error("pushing failed event to operator queue", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return models.StatusFailed, nil
}

func (o *Orchestrator) currentStatus(ctx context.Context, id string) models.Status {
	ev, err := o.events.GetEvent(ctx, id)
	if err != nil {
		return ""
	}
	return ev.Status
}

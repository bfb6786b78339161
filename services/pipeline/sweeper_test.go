package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	errors "kirana-ledger/errors"
	ledger "kirana-ledger/ledger"
	models "kirana-ledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLease struct {
	granted  bool
	err      error
	released int
}

func (l *stubLease) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.granted, l.err
}

func (l *stubLease) Release(ctx context.Context) error {
	l.released++
	return nil
}

func TestSweep_ConvergesUnderTransientFailures(t *testing.T) {
	h := newHarness(t, harnessOpts{maxAttempts: 100})
	h.ledger.SetFailureRate(0.5, 7)

	shops := []string{"S1", "S2", "S3", "S4", "S5"}
	var ids []string
	for i := range 20 {
		shop := shops[i%len(shops)]
		res := h.ingest(h.candidate(shop, models.KindSale, int64(100_00+i), fmt.Sprintf("note-%d", i)))
		ids = append(ids, res.EventID)
	}
	h.flush(shops...)

	for range 60 {
		status, err := h.orch.Status(context.Background())
		require.NoError(t, err)
		if status.Counts[models.StatusConfirmed] == int64(len(ids)) {
			break
		}
		h.sweepAfter(5 * time.Minute)
	}

	for _, id := range ids {
		view := h.event(id)
		require.Equal(t, models.StatusConfirmed, view.Event.Status, "event %s", id)
		assert.Equal(t, 1, h.ledger.CountKey(view.Event.RawPayloadHash))
		assert.True(t, view.Event.Notified)
	}
	assert.Len(t, h.ledger.Entries(), len(ids))
	assert.NoError(t, h.ledger.Verify())
	assert.Len(t, h.notifier.published(), len(ids))
}

func TestSweep_ExhaustedAttemptsFailAfterLookup(t *testing.T) {
	h := newHarness(t, harnessOpts{maxAttempts: 2})
	h.ledger.InjectFaults(ledger.FaultUnavailable, ledger.FaultUnavailable)

	res := h.ingest(h.candidate("S1", models.KindSale, 100_00, "note"))
	h.flush("S1")
	require.Equal(t, models.StatusPendingRetry, h.event(res.EventID).Event.Status)

	report := h.sweepAfter(time.Hour)
	assert.Equal(t, 1, report.Deferred)
	assert.Equal(t, 2, h.event(res.EventID).Link.SubmissionAttempts)

	lookups := h.ledger.LookupCalls()
	report = h.sweepAfter(time.Hour)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, lookups+1, h.ledger.LookupCalls(), "gives up only after asking the ledger")
	assert.Equal(t, 2, h.ledger.SubmitCalls())

	view := h.event(res.EventID)
	assert.Equal(t, models.StatusFailed, view.Event.Status)
	reason, ok := h.failures.reason(res.EventID)
	require.True(t, ok)
	assert.Contains(t, reason, errors.ExhaustedRetries.String())
}

func TestSweep_LedgerDownKeepsEventPending(t *testing.T) {
	h := newHarness(t, harnessOpts{maxAttempts: 1})
	h.ledger.InjectFaults(ledger.FaultUnavailable)
	res := h.ingest(h.candidate("S1", models.KindSale, 100_00, "note"))
	h.flush("S1")

	h.ledger.SetDown(true)
	for range 3 {
		h.sweepAfter(time.Hour)
	}
	assert.Equal(t, models.StatusPendingRetry, h.event(res.EventID).Event.Status)

	h.ledger.SetDown(false)
	report := h.sweepAfter(time.Hour)
	assert.Equal(t, 1, report.Failed)
}

func TestSweep_SkipsRetriesNotYetDue(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.sweeper.cfg.GracePeriod = 0
	h.ledger.InjectFaults(ledger.FaultUnavailable)
	res := h.ingest(h.candidate("S1", models.KindSale, 100_00, "note"))
	h.flush("S1")

	report := h.sweepAfter(time.Millisecond)
	assert.Zero(t, report.Scanned)
	assert.Equal(t, models.StatusPendingRetry, h.event(res.EventID).Event.Status)

	report = h.sweepAfter(time.Minute)
	assert.Equal(t, 1, report.Confirmed)
}

func TestSweep_RedeliversNotifications(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.notifier.fail = 1

	res := h.ingest(h.candidate("S1", models.KindSale, 100_00, "note"))
	h.flush("S1")
	view := h.event(res.EventID)
	require.Equal(t, models.StatusConfirmed, view.Event.Status)
	require.False(t, view.Event.Notified)

	report := h.sweepAfter(2 * time.Minute)
	assert.Equal(t, 1, report.Renotified)
	assert.True(t, h.event(res.EventID).Event.Notified)

	msgs := h.notifier.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, res.EventID, msgs[0].EventID)
	assert.Equal(t, *view.Link.LedgerReference, msgs[0].LedgerReference)

	agg, err := h.updater.Get(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.Version, "aggregate folds the event once")

	report = h.sweepAfter(2 * time.Minute)
	assert.Zero(t, report.Renotified)
}

func TestSweep_AnchorsSnapshotsThroughLane(t *testing.T) {
	h := newHarness(t, harnessOpts{anchorEvery: 2})
	for i := range 2 {
		h.ingest(h.candidate("S1", models.KindSale, int64(100_00+i), fmt.Sprintf("note-%d", i)))
	}
	h.flush("S1")

	agg, err := h.updater.Get(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.LastAnchoredVersion)
	require.NotNil(t, agg.LastAnchoredReference)
	assert.Len(t, h.ledger.Entries(), 3)

	report := h.sweepAfter(2 * time.Minute)
	assert.Zero(t, report.Anchored)
	assert.Len(t, h.ledger.Entries(), 3)
}

func TestSweep_RetriesFailedAnchor(t *testing.T) {
	h := newHarness(t, harnessOpts{anchorEvery: 1})
	h.ledger.InjectFaults(ledger.FaultNone, ledger.FaultUnavailable)

	h.ingest(h.candidate("S1", models.KindSale, 100_00, "note"))
	h.flush("S1")
	agg, err := h.updater.Get(context.Background(), "S1")
	require.NoError(t, err)
	require.Zero(t, agg.LastAnchoredVersion)

	report := h.sweepAfter(2 * time.Minute)
	assert.Equal(t, 1, report.Anchored)
	agg, err = h.updater.Get(context.Background(), "S1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), agg.LastAnchoredVersion)
}

func TestSweep_LeaseHeldElsewhere(t *testing.T) {
	lease := &stubLease{granted: false}
	h := newHarness(t, harnessOpts{lease: lease})
	h.ledger.InjectFaults(ledger.FaultUnavailable)
	res := h.ingest(h.candidate("S1", models.KindSale, 100_00, "note"))
	h.flush("S1")

	report := h.sweepAfter(time.Hour)
	assert.True(t, report.LeaseMissed)
	assert.Equal(t, models.StatusPendingRetry, h.event(res.EventID).Event.Status)
	assert.Zero(t, lease.released)

	lease.granted = true
	report = h.sweepAfter(time.Hour)
	assert.False(t, report.LeaseMissed)
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, 1, lease.released)
}

func TestSweep_LeaseError(t *testing.T) {
	h := newHarness(t, harnessOpts{lease: &stubLease{err: errors.New("redis down")}})
	h.clock.Advance(time.Hour)
	_, err := h.sweeper.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.sweeper.cfg.Interval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.NoError(t, h.sweeper.Run(ctx))
}

func TestSweep_RecoversLostCommitUnderEitherLedgerContract(t *testing.T) {
	for name, reject := range map[string]bool{"returns existing entry": false, "rejects duplicates": true} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, harnessOpts{rejectDuplicates: reject})
			h.ledger.InjectFaults(ledger.FaultTimeoutAfterCommit)

			res := h.ingest(h.candidate("S1", models.KindSale, 90_00, "note-1"))
			h.flush("S1")
			assert.Equal(t, models.StatusPendingRetry, h.event(res.EventID).Event.Status)

			report := h.sweepAfter(2 * time.Minute)
			assert.Equal(t, 1, report.Confirmed)

			view := h.event(res.EventID)
			assert.Equal(t, models.StatusConfirmed, view.Event.Status)
			assert.Equal(t, 1, h.ledger.SubmitCalls())
			assert.Equal(t, 1, h.ledger.CountKey(view.Event.RawPayloadHash))
		})
	}
}

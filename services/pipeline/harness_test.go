package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	errors "kirana-ledger/errors"
	ledger "kirana-ledger/ledger"
	models "kirana-ledger/models"
	"kirana-ledger/repositories/memory"
	aggregate "kirana-ledger/services/aggregate"
	risk "kirana-ledger/services/risk"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scorerFunc func(models.Event, models.History) (models.Assessment, error)

func (f scorerFunc) Evaluate(ev models.Event, h models.History) (models.Assessment, error) {
	return f(ev, h)
}

// scriptedScorer assigns scores by amount so a test can pick each event's verdict.
func scriptedScorer(scores map[int64]int) Scorer {
	return scorerFunc(func(ev models.Event, _ models.History) (models.Assessment, error) {
		s := scores[ev.Amount]
		level := risk.LevelFor(s)
		return models.Assessment{Score: s, Level: level, Eligible: s < risk.DefaultThreshold && level != models.RiskCritical}, nil
	})
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []models.ConfirmedMessage
	fail int
}

func (n *recordingNotifier) PublishConfirmed(ctx context.Context, msg models.ConfirmedMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail > 0 {
		n.fail--
		return errors.New("broker unavailable")
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) published() []models.ConfirmedMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ConfirmedMessage(nil), n.msgs...)
}

type recordingFailures struct {
	mu      sync.Mutex
	reasons map[string]string
}

func (f *recordingFailures) PushFailed(ctx context.Context, ev models.Event, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reasons == nil {
		f.reasons = map[string]string{}
	}
	f.reasons[ev.ID] = reason
	return nil
}

func (f *recordingFailures) reason(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reasons[id]
	return r, ok
}

type harnessOpts struct {
	scorer      Scorer
	anchorEvery int64
	maxAttempts int
	lease       Lease
	// rejectDuplicates switches the ledger to refusing keys it already holds.
	rejectDuplicates bool
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	store    *memory.Store
	ledger   *ledger.MemoryLedger
	queue    *Queue
	updater  *aggregate.Updater
	notifier *recordingNotifier
	failures *recordingFailures
	orch     *Orchestrator
	sweeper  *Sweeper
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		store:    memory.NewStore(),
		ledger:   ledger.NewMemoryLedger(),
		notifier: &recordingNotifier{},
		failures: &recordingFailures{},
	}
	h.ledger.WithClock(h.clock.Now)
	if opts.rejectDuplicates {
		h.ledger.RejectDuplicates()
	}
	client := ledger.NewClient(h.ledger, time.Second, zap.NewNop(), nil)

	h.queue = NewQueue(4, 64, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	h.queue.Start(ctx)
	t.Cleanup(func() {
		h.queue.Close()
		cancel()
	})

	if opts.scorer == nil {
		opts.scorer = risk.NewEvaluator(risk.DefaultPolicy())
	}
	if opts.anchorEvery == 0 {
		opts.anchorEvery = 1000
	}
	if opts.maxAttempts == 0 {
		opts.maxAttempts = 5
	}

	h.updater = aggregate.NewUpdater(h.store, NewSnapshotAnchorer(h.queue, client),
		aggregate.Config{AnchorEvery: opts.anchorEvery}, zap.NewNop(), nil)
	h.orch = NewOrchestrator(Deps{
		Events:     h.store,
		Links:      h.store,
		Ledger:     client,
		Scorer:     opts.scorer,
		Queue:      h.queue,
		Aggregates: h.updater,
		Notifier:   h.notifier,
		Failures:   h.failures,
		Logger:     zap.NewNop(),
		Clock:      h.clock.Now,
	}, Config{
		MaxAttempts: opts.maxAttempts,
		BackoffBase: time.Second,
		BackoffCap:  10 * time.Second,
	})
	h.sweeper = NewSweeper(h.orch, h.updater, opts.lease, SweeperConfig{
		Interval:    time.Minute,
		GracePeriod: time.Minute,
		BatchSize:   100,
	}, zap.NewNop(), nil)
	return h
}

func (h *harness) candidate(shopkeeper string, kind models.Kind, amount int64, ref string) models.CandidateEvent {
	return models.CandidateEvent{
		ShopkeeperID: shopkeeper,
		CustomerID:   "C1",
		Kind:         string(kind),
		Amount:       amount,
		OccurredAt:   h.clock.Now().Add(-time.Minute),
		SourceRef:    ref,
	}
}

func (h *harness) ingest(req models.CandidateEvent) IngestResult {
	h.t.Helper()
	res, err := h.orch.Ingest(context.Background(), req)
	require.NoError(h.t, err)
	return res
}

// flush waits until every job queued so far on the shopkeeper's lane has run.
func (h *harness) flush(shopkeeperIDs ...string) {
	h.t.Helper()
	for _, id := range shopkeeperIDs {
		require.NoError(h.t, h.queue.Do(context.Background(), id, func(context.Context) error { return nil }))
	}
}

func (h *harness) event(id string) EventView {
	h.t.Helper()
	view, err := h.orch.Get(context.Background(), id)
	require.NoError(h.t, err)
	return view
}

// sweepAfter moves the clock past the grace period and any backoff, then sweeps.
func (h *harness) sweepAfter(d time.Duration) SweepReport {
	h.t.Helper()
	h.clock.Advance(d)
	report, err := h.sweeper.Sweep(context.Background())
	require.NoError(h.t, err)
	return report
}

package pipeline

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	metrics "kirana-ledger/metrics"
	models "kirana-ledger/models"

	// External Packages
	"go.uber.org/zap"
)

type SweeperConfig struct {
	Interval    time.Duration
	GracePeriod time.Duration
	BatchSize   int
	LeaseTTL    time.Duration
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Scanned     int  `json:"scanned"`
	Confirmed   int  `json:"confirmed"`
	Deferred    int  `json:"deferred"`
	Failed      int  `json:"failed"`
	Redriven    int  `json:"redriven"`
	Renotified  int  `json:"renotified"`
	Anchored    int  `json:"anchored"`
	Errors      int  `json:"errors"`
	LeaseMissed bool `json:"lease_missed"`
}

// Sweeper reconciles local state with the ledger. It is the only path that gives up on
// an event, and only after the ledger confirmed it holds no entry for the key.
type Sweeper struct {
	orch    *Orchestrator
	anchors AnchorScheduler
	lease   Lease
	cfg     SweeperConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSweeper builds a sweeper. anchors and lease may be nil.
func NewSweeper(orch *Orchestrator, anchors AnchorScheduler, lease Lease, cfg SweeperConfig, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * cfg.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{orch: orch, anchors: anchors, lease: lease, cfg: cfg, logger: logger, metrics: m}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("reconciliation sweeper started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweeper stopped")
			return nil
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
				continue
			}
			if report.Scanned > 0 || report.Anchored > 0 {
				s.logger.Info("sweep finished",
					zap.Int("scanned", report.Scanned),
					zap.Int("confirmed", report.Confirmed),
					zap.Int("deferred", report.Deferred),
					zap.Int("failed", report.Failed),
					zap.Int("redriven", report.Redriven),
					zap.Int("renotified", report.Renotified),
					zap.Int("anchored", report.Anchored),
					zap.Int("errors", report.Errors))
			}
		}
	}
}

// Sweep makes one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx, s.cfg.LeaseTTL)
		if err != nil {
			return report, errors.Wrapf(err, "acquiring sweep lease")
		}
		if !ok {
			report.LeaseMissed = true
			return report, nil
		}
		defer func() {
			if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("releasing sweep lease", zap.Error(err))
			}
		}()
	}

	now := s.orch.now().UTC()
	cutoff := now.Add(-s.cfg.GracePeriod)

	if err := s.reconcile(ctx, now, cutoff, &report); err != nil {
		return report, err
	}
	if err := s.redrive(ctx, cutoff, &report); err != nil {
		return report, err
	}
	if err := s.renotify(ctx, cutoff, &report); err != nil {
		return report, err
	}
	if s.anchors != nil {
		n, err := s.anchors.AnchorDue(ctx, s.cfg.BatchSize)
		report.Anchored = n
		if err != nil {
			report.Errors++
			s.logger.Warn("anchoring due snapshots", zap.Error(err))
		}
	}
	return report, nil
}

// reconcile settles events whose ledger outcome is not known locally.
func (s *Sweeper) reconcile(ctx context.Context, now, cutoff time.Time, report *SweepReport) error {
	stuck, err := s.orch.events.ListEvents(ctx, models.EventFilter{
		Statuses:      []models.Status{models.StatusSubmitting, models.StatusPendingRetry},
		UpdatedBefore: cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return errors.Wrapf(err, "listing unsettled events")
	}

	for _, ev := range stuck {
		if ev.Status == models.StatusPendingRetry && !s.due(ctx, ev.ID, now) {
			continue
		}
		report.Scanned++

		var status models.Status
		err := s.orch.queue.Do(ctx, ev.ShopkeeperID, func(ctx context.Context) error {
			var err error
			status, err = s.orch.submit(ctx, ev.ID)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Errors++
			s.logger.Warn("reconciling event", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		switch status {
		case models.StatusConfirmed:
			report.Confirmed++
		case models.StatusFailed:
			report.Failed++
		case models.StatusPendingRetry:
			report.Deferred++
		}
		s.metrics.IncSweepResolved(string(status))
	}
	return nil
}

func (s *Sweeper) due(ctx context.Context, eventID string, now time.Time) bool {
	link, err := s.orch.links.GetLink(ctx, eventID)
	if err != nil {
		return true
	}
	return link.NextAttemptAt == nil || !link.NextAttemptAt.After(now)
}

// redrive finishes local steps a crash or a store failure interrupted.
func (s *Sweeper) redrive(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	stalled, err := s.orch.events.ListEvents(ctx, models.EventFilter{
		Statuses:      []models.Status{models.StatusReceived, models.StatusScored, models.StatusRecorded},
		UpdatedBefore: cutoff,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return errors.Wrapf(err, "listing stalled events")
	}

	for _, ev := range stalled {
		report.Scanned++
		_, submit, err := s.orch.advance(ctx, ev)
		if err != nil {
			report.Errors++
			s.logger.Warn("re-driving event", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		report.Redriven++
		if !submit {
			continue
		}
		err = s.orch.queue.Do(ctx, ev.ShopkeeperID, func(ctx context.Context) error {
			status, err := s.orch.submit(ctx, ev.ID)
			if err == nil && status == models.StatusConfirmed {
				report.Confirmed++
			}
			return err
		})
		if err != nil {
			report.Errors++
			s.logger.Warn("submitting re-driven event", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return nil
}

// renotify re-delivers confirmations whose aggregate update or publish did not finish.
func (s *Sweeper) renotify(ctx context.Context, cutoff time.Time, report *SweepReport) error {
	notified := false
	pending, err := s.orch.events.ListEvents(ctx, models.EventFilter{
		Statuses:      []models.Status{models.StatusConfirmed},
		UpdatedBefore: cutoff,
		Notified:      &notified,
		Limit:         s.cfg.BatchSize,
	})
	if err != nil {
		return errors.Wrapf(err, "listing unnotified events")
	}

	for _, ev := range pending {
		link, err := s.orch.links.GetLink(ctx, ev.ID)
		if err != nil {
			report.Errors++
			continue
		}
		if err := s.orch.notify(ctx, ev, *link); err != nil {
			report.Errors++
			s.logger.Warn("re-delivering confirmation", zap.String("event_id", ev.ID), zap.Error(err))
			continue
		}
		report.Renotified++
	}
	return nil
}

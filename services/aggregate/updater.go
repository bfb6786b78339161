// Package aggregate maintains each shopkeeper's credit score from confirmed events.
//
// Apply is idempotent per event id: the confirmation signal that drives it is delivered
// at least once, and the applied-event set turns that into exactly-once folding.
package aggregate

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	metrics "kirana-ledger/metrics"
	models "kirana-ledger/models"
	idempotency "kirana-ledger/services/idempotency"

	// External Packages
	"go.uber.org/zap"
)

const (
	DefaultAnchorEvery     = 50
	DefaultConflictRetries = 5
	DefaultSeenWindow      = 10_000
)

type Store interface {
	GetAggregate(ctx context.Context, shopkeeperID string) (*models.CreditAggregate, error)
	SaveAggregate(ctx context.Context, agg *models.CreditAggregate, expectedVersion int64) error
	SetAnchor(ctx context.Context, shopkeeperID, ref string, version int64) error
	ListAnchorDue(ctx context.Context, every int64, limit int) ([]models.CreditAggregate, error)
}

// Anchorer writes a snapshot to the ledger and returns its reference.
type Anchorer interface {
	Anchor(ctx context.Context, shopkeeperID, key string, payload []byte) (string, error)
}

type Config struct {
	AnchorEvery     int64
	ConflictRetries int
	// SeenWindow bounds the per-aggregate seen-set. An event is only re-applied while
	// it is confirmed but not yet notified, so it must be redelivered before this many
	// newer events land on the same shopkeeper.
	SeenWindow int
}

type Updater struct {
	store    Store
	anchorer Anchorer
	cfg      Config
	locks    *keyedMutex
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewUpdater(store Store, anchorer Anchorer, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Updater {
	if cfg.AnchorEvery <= 0 {
		cfg.AnchorEvery = DefaultAnchorEvery
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = DefaultConflictRetries
	}
	if cfg.SeenWindow <= 0 {
		cfg.SeenWindow = DefaultSeenWindow
	}
	return &Updater{
		store:    store,
		anchorer: anchorer,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// Apply folds a confirmed event into its shopkeeper's aggregate.
func (u *Updater) Apply(ctx context.Context, ev models.Event) (*models.CreditAggregate, error) {
	if ev.Status != models.StatusConfirmed {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("event %s is %s, not confirmed", ev.ID, ev.Status), nil)
	}

	agg, anchorDue, err := u.fold(ctx, ev)
	if err != nil {
		return nil, err
	}

	// The lock is released by now; anchoring talks to the ledger.
	if anchorDue {
		if err := u.anchor(ctx, *agg); err != nil {
			u.logger.Warn("snapshot anchoring deferred",
				zap.String("shopkeeper_id", agg.ShopkeeperID), zap.Int64("version", agg.Version), zap.Error(err))
		}
	}
	return agg, nil
}

func (u *Updater) fold(ctx context.Context, ev models.Event) (*models.CreditAggregate, bool, error) {
	unlock, err := u.locks.Lock(ctx, ev.ShopkeeperID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	for attempt := 0; attempt <= u.cfg.ConflictRetries; attempt++ {
		cur, err := u.store.GetAggregate(ctx, ev.ShopkeeperID)
		if errors.IsKind(err, errors.NotFound) {
			cur = models.NewCreditAggregate(ev.ShopkeeperID)
		} else if err != nil {
			return nil, false, err
		}
		if cur.HasApplied(ev.ID) {
			return cur, false, nil
		}

		next := cur.Clone()
		Fold(next, ev)
		next.TrimApplied(u.cfg.SeenWindow)
		next.Version = cur.Version + 1
		next.UpdatedAt = u.now().UTC()

		err = u.store.SaveAggregate(ctx, next, cur.Version)
		if errors.IsKind(err, errors.ConcurrencyConflict) {
			u.metrics.IncAggregateConflict()
			u.logger.Debug("aggregate version conflict, re-reading",
				zap.String("shopkeeper_id", ev.ShopkeeperID), zap.Int64("version", cur.Version))
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return next, next.PendingAnchor() == u.cfg.AnchorEvery, nil
	}
	return nil, false, errors.E(errors.ConcurrencyConflict,
		fmt.Sprintf("aggregate %s kept changing after %d retries", ev.ShopkeeperID, u.cfg.ConflictRetries), nil)
}

// Get returns the shopkeeper's aggregate, or the zero aggregate if nothing was confirmed yet.
func (u *Updater) Get(ctx context.Context, shopkeeperID string) (*models.CreditAggregate, error) {
	agg, err := u.store.GetAggregate(ctx, shopkeeperID)
	if errors.IsKind(err, errors.NotFound) {
		return models.NewCreditAggregate(shopkeeperID), nil
	}
	return agg, err
}

// AnchorDue anchors every aggregate that has gone AnchorEvery versions without a snapshot.
func (u *Updater) AnchorDue(ctx context.Context, limit int) (int, error) {
	if u.anchorer == nil {
		return 0, nil
	}
	due, err := u.store.ListAnchorDue(ctx, u.cfg.AnchorEvery, limit)
	if err != nil {
		return 0, err
	}
	anchored := 0
	for _, agg := range due {
		if err := u.anchor(ctx, agg); err != nil {
			u.logger.Warn("snapshot anchoring failed", zap.String("shopkeeper_id", agg.ShopkeeperID), zap.Error(err))
			continue
		}
		anchored++
	}
	return anchored, nil
}

type snapshotPayload struct {
	Type     string `json:"type"`
	Snapshot any    `json:"snapshot"`
}

func (u *Updater) anchor(ctx context.Context, agg models.CreditAggregate) error {
	if u.anchorer == nil {
		return nil
	}
	payload, err := json.Marshal(snapshotPayload{Type: "credit_snapshot", Snapshot: idempotency.Snapshot(agg)})
	if err != nil {
		return err
	}
	ref, err := u.anchorer.Anchor(ctx, agg.ShopkeeperID, idempotency.SnapshotKey(agg), payload)
	if err != nil {
		return err
	}
	if err := u.store.SetAnchor(ctx, agg.ShopkeeperID, ref, agg.Version); err != nil {
		return err
	}
	u.metrics.IncSnapshotAnchored()
	u.logger.Info("credit snapshot anchored",
		zap.String("shopkeeper_id", agg.ShopkeeperID), zap.Int64("version", agg.Version), zap.String("reference", ref))
	return nil
}

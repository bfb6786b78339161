package pipeline

import (
	// Go Internal Packages
	"context"

	// Local Packages
	errors "kirana-ledger/errors"
	ledger "kirana-ledger/ledger"
)

// SnapshotAnchorer writes credit snapshots through the shopkeeper's submission lane,
// behind the same lookup-before-submit guard as events.
type SnapshotAnchorer struct {
	queue  *Queue
	ledger Ledger
}

func NewSnapshotAnchorer(queue *Queue, l Ledger) *SnapshotAnchorer {
	return &SnapshotAnchorer{queue: queue, ledger: l}
}

func (a *SnapshotAnchorer) Anchor(ctx context.Context, shopkeeperID, key string, payload []byte) (string, error) {
	var ref string
	err := a.queue.Do(ctx, shopkeeperID, func(ctx context.Context) error {
		conf, err := a.ledger.Lookup(ctx, key)
		if err == nil {
			ref = conf.Reference
			return nil
		}
		if !ledger.IsNotFound(err) {
			return err
		}
		res, err := a.ledger.Submit(ctx, key, payload)
		if errors.Is(err, ledger.ErrDuplicateKey) {
			conf, err = a.ledger.Lookup(ctx, key)
			ref = conf.Reference
			return err
		}
		if err != nil {
			return err
		}
		ref = res.Reference
		return nil
	})
	return ref, err
}

package pipeline

import (
	// Go Internal Packages
	"context"
	"sync"

	// Local Packages
	errors "kirana-ledger/errors"

	// External Packages
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

// Job runs on a submission lane.
type Job func(ctx context.Context) error

var ErrQueueClosed = errors.New("submission queue closed")

type laneKey struct{}

type laneJob struct {
	ctx  context.Context
	fn   Job
	done chan error
}

// Queue is the single-writer submission queue. Every shopkeeper hashes onto one lane and
// each lane runs its jobs one at a time, so submissions for a shopkeeper are strictly
// ordered while other lanes proceed in parallel.
type Queue struct {
	mu     sync.RWMutex
	lanes  []chan laneJob
	closed bool
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewQueue(lanes, buffer int, logger *zap.Logger) *Queue {
	if lanes <= 0 {
		lanes = 1
	}
	q := &Queue{lanes: make([]chan laneJob, lanes), logger: logger}
	for i := range q.lanes {
		q.lanes[i] = make(chan laneJob, buffer)
	}
	return q
}

// Start launches one goroutine per lane. Fire-and-forget jobs run with ctx.
func (q *Queue) Start(ctx context.Context) {
	for i, lane := range q.lanes {
		q.wg.Add(1)
		go func(idx int, lane <-chan laneJob) {
			defer q.wg.Done()
			laneCtx := context.WithValue(ctx, laneKey{}, idx)
			for job := range lane {
				jctx := laneCtx
				if job.ctx != nil {
					jctx = context.WithValue(job.ctx, laneKey{}, idx)
				}
				err := job.fn(jctx)
				if job.done != nil {
					job.done <- err
					continue
				}
				if err != nil {
					q.logger.Warn("submission job failed", zap.Int("lane", idx), zap.Error(err))
				}
			}
		}(i, lane)
	}
}

func (q *Queue) laneFor(shopkeeperID string) int {
	return int(xxhash.Sum64String(shopkeeperID) % uint64(len(q.lanes)))
}

// TryEnqueue schedules fn without waiting. It reports false when the lane is full or the
// queue is closed; the sweeper picks such events up later.
func (q *Queue) TryEnqueue(shopkeeperID string, fn Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.lanes[q.laneFor(shopkeeperID)] <- laneJob{fn: fn}:
		return true
	default:
		return false
	}
}

// Do runs fn on the shopkeeper's lane and waits for it. Called from a job already on that
// lane, it runs fn inline instead of deadlocking.
func (q *Queue) Do(ctx context.Context, shopkeeperID string, fn Job) error {
	idx := q.laneFor(shopkeeperID)
	if cur, ok := ctx.Value(laneKey{}).(int); ok && cur == idx {
		return fn(ctx)
	}

	done := make(chan error, 1)
	if err := q.send(ctx, idx, laneJob{ctx: ctx, fn: fn, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) send(ctx context.Context, idx int, job laneJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.lanes[idx] <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, drains the lanes and waits for them to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, lane := range q.lanes {
		close(lane)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

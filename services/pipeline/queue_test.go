package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startedQueue(t *testing.T, lanes, buffer int) *Queue {
	t.Helper()
	q := NewQueue(lanes, buffer, zap.NewNop())
	q.Start(context.Background())
	t.Cleanup(q.Close)
	return q
}

func TestQueue_OrdersJobsPerShopkeeper(t *testing.T) {
	q := startedQueue(t, 4, 100)
	var mu sync.Mutex
	seen := map[string][]int{}

	for i := range 50 {
		for _, shop := range []string{"S1", "S2", "S3"} {
			require.True(t, q.TryEnqueue(shop, func(context.Context) error {
				mu.Lock()
				defer mu.Unlock()
				seen[shop] = append(seen[shop], i)
				return nil
			}))
		}
	}
	for _, shop := range []string{"S1", "S2", "S3"} {
		require.NoError(t, q.Do(context.Background(), shop, func(context.Context) error { return nil }))
	}

	mu.Lock()
	defer mu.Unlock()
	for shop, order := range seen {
		require.Len(t, order, 50, shop)
		for i, v := range order {
			assert.Equal(t, i, v, shop)
		}
	}
}

func TestQueue_DoReturnsJobError(t *testing.T) {
	q := startedQueue(t, 2, 1)
	err := q.Do(context.Background(), "S1", func(context.Context) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)
}

func TestQueue_DoFromSameLaneRunsInline(t *testing.T) {
	q := startedQueue(t, 1, 1)
	ran := false
	err := q.Do(context.Background(), "S1", func(ctx context.Context) error {
		return q.Do(ctx, "S2", func(context.Context) error {
			ran = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestQueue_TryEnqueueFullLane(t *testing.T) {
	q := NewQueue(1, 1, zap.NewNop())
	t.Cleanup(q.Close)
	// not started: the buffer fills up
	assert.True(t, q.TryEnqueue("S1", func(context.Context) error { return nil }))
	assert.False(t, q.TryEnqueue("S1", func(context.Context) error { return nil }))
}

func TestQueue_DoHonoursContext(t *testing.T) {
	q := startedQueue(t, 1, 0)
	started, block := make(chan struct{}), make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "S1", func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	defer close(block)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, "S1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(2, 1, zap.NewNop())
	q.Start(context.Background())
	q.Close()
	q.Close()

	assert.False(t, q.TryEnqueue("S1", func(context.Context) error { return nil }))
	err := q.Do(context.Background(), "S1", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
}

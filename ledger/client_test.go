package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slowTransport blocks every call until the context is done.
type slowTransport struct{ MemoryLedger }

func (s *slowTransport) Submit(ctx context.Context, key string, payload []byte) (SubmissionResult, error) {
	<-ctx.Done()
	return SubmissionResult{}, ctx.Err()
}

type errTransport struct {
	*MemoryLedger
	err error
}

func (e errTransport) Lookup(ctx context.Context, key string) (Confirmation, error) {
	return Confirmation{}, e.err
}

func TestClient_TimeoutIsTransientAndUnknown(t *testing.T) {
	c := NewClient(&slowTransport{}, 20*time.Millisecond, zap.NewNop(), nil)

	_, err := c.Submit(context.Background(), "k1", []byte(`{}`))

	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, IsOutcomeUnknown(err))
	assert.False(t, IsPermanent(err))
}

func TestClient_UnclassifiedErrorsAreTransient(t *testing.T) {
	c := NewClient(errTransport{MemoryLedger: NewMemoryLedger(), err: errors.New("boom")}, time.Second, zap.NewNop(), nil)

	_, err := c.Lookup(context.Background(), "k1")

	assert.True(t, IsTransient(err))
	assert.False(t, IsOutcomeUnknown(err))
}

func TestClient_PassesThroughClassifiedErrors(t *testing.T) {
	c := NewClient(errTransport{MemoryLedger: NewMemoryLedger(), err: Permanent("bad", nil)}, time.Second, zap.NewNop(), nil)

	_, err := c.Lookup(context.Background(), "k1")

	assert.True(t, IsPermanent(err))
}

func TestClient_LookupNotFound(t *testing.T) {
	c := NewClient(NewMemoryLedger(), time.Second, zap.NewNop(), nil)

	_, err := c.Lookup(context.Background(), "missing")

	assert.True(t, IsNotFound(err))
}

func TestClient_EnsureRegistered(t *testing.T) {
	l := NewMemoryLedger()
	l.Unregister("S9")
	c := NewClient(l, time.Second, zap.NewNop(), nil)

	require.NoError(t, c.EnsureRegistered(context.Background(), "S1"))

	err := c.EnsureRegistered(context.Background(), "S9")
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnregistered)
}

func TestClient_Status(t *testing.T) {
	l := NewMemoryLedger()
	c := NewClient(l, time.Second, zap.NewNop(), nil)

	require.NoError(t, c.Status(context.Background()))

	l.SetDown(true)
	assert.True(t, IsTransient(c.Status(context.Background())))
}

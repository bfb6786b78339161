package processors

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	errors "kirana-ledger/errors"
	models "kirana-ledger/models"
	pipeline "kirana-ledger/services/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubIngester struct {
	seen []models.CandidateEvent
	err  map[string]error
}

func (s *stubIngester) Ingest(ctx context.Context, req models.CandidateEvent) (pipeline.IngestResult, error) {
	if err := s.err[req.SourceRef]; err != nil {
		return pipeline.IngestResult{}, err
	}
	s.seen = append(s.seen, req)
	return pipeline.IngestResult{EventID: "e-" + req.SourceRef, Status: models.StatusRecorded}, nil
}

type stubDLQ struct {
	records []models.Record
	err     error
}

func (d *stubDLQ) Send(ctx context.Context, records []models.Record) error {
	if d.err != nil {
		return d.err
	}
	d.records = append(d.records, records...)
	return nil
}

func record(t *testing.T, ref string) models.Record {
	t.Helper()
	value, err := json.Marshal(models.CandidateEvent{
		ShopkeeperID: "S1",
		CustomerID:   "C1",
		Kind:         "sale",
		Amount:       100_00,
		OccurredAt:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		SourceRef:    ref,
	})
	require.NoError(t, err)
	return models.Record{Key: []byte("S1"), Value: value, Topic: "candidate-events"}
}

func TestProcessRecords(t *testing.T) {
	ingester := &stubIngester{err: map[string]error{
		"bad": errors.ValidationFailedErr(errors.New("amount must be positive")),
	}}
	dlq := &stubDLQ{}
	p := NewEventProcessor(zap.NewNop(), ingester, dlq)

	garbage := models.Record{Key: []byte("S1"), Value: []byte("{not json")}
	err := p.ProcessRecords(context.Background(), []models.Record{
		record(t, "n1"), garbage, record(t, "bad"), record(t, "n2"),
	})
	require.NoError(t, err)

	require.Len(t, ingester.seen, 2)
	assert.Equal(t, "n1", ingester.seen[0].SourceRef)
	assert.Equal(t, "n2", ingester.seen[1].SourceRef)
	require.Len(t, dlq.records, 2)
	assert.Equal(t, garbage.Value, dlq.records[0].Value)
}

func TestProcessRecords_StoreFailureFailsBatch(t *testing.T) {
	ingester := &stubIngester{err: map[string]error{
		"n2": errors.E(errors.Internal, "store unavailable", nil),
	}}
	dlq := &stubDLQ{}
	p := NewEventProcessor(zap.NewNop(), ingester, dlq)

	err := p.ProcessRecords(context.Background(), []models.Record{record(t, "n1"), record(t, "n2")})
	require.Error(t, err)
	assert.Equal(t, errors.Internal, errors.KindOf(err))
	assert.Empty(t, dlq.records)
}

func TestProcessRecords_DLQFailure(t *testing.T) {
	p := NewEventProcessor(zap.NewNop(), &stubIngester{}, &stubDLQ{err: errors.New("redis down")})
	err := p.ProcessRecords(context.Background(), []models.Record{{Value: []byte("nope")}})
	assert.Error(t, err)
}

func TestProcessRecords_Empty(t *testing.T) {
	p := NewEventProcessor(zap.NewNop(), &stubIngester{}, nil)
	assert.NoError(t, p.ProcessRecords(context.Background(), nil))
}

package processors

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"

	// Local Packages
	errors "kirana-ledger/errors"
	models "kirana-ledger/models"
	pipeline "kirana-ledger/services/pipeline"

	// External Packages
	"go.uber.org/zap"
)

type Ingester interface {
	Ingest(ctx context.Context, req models.CandidateEvent) (pipeline.IngestResult, error)
}

// PoisonQueue parks records that can never be ingested.
type PoisonQueue interface {
	Send(ctx context.Context, records []models.Record) error
}

type EventProcessor struct {
	Logger   *zap.Logger
	Ingester Ingester
	DLQ      PoisonQueue
}

func NewEventProcessor(logger *zap.Logger, ingester Ingester, dlq PoisonQueue) *EventProcessor {
	return &EventProcessor{Logger: logger, Ingester: ingester, DLQ: dlq}
}

// ProcessRecords ingests a polled batch. Malformed or invalid records go to the dead
// letter queue; any other failure fails the batch so it is redelivered, which is safe
// because ingestion is idempotent.
func (p *EventProcessor) ProcessRecords(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	var poison []models.Record
	for _, record := range records {
		err := p.ProcessRecord(ctx, record)
		if err == nil {
			continue
		}
		if errors.KindOf(err) == errors.Invalid {
			p.Logger.Warn("rejecting candidate event", zap.ByteString("key", record.Key), zap.Error(err))
			poison = append(poison, record)
			continue
		}
		return fmt.Errorf("failed to ingest record: %w", err)
	}

	if len(poison) > 0 && p.DLQ != nil {
		if err := p.DLQ.Send(ctx, poison); err != nil {
			return fmt.Errorf("failed to park invalid records: %w", err)
		}
	}
	return nil
}

func (p *EventProcessor) ProcessRecord(ctx context.Context, record models.Record) error {
	var req models.CandidateEvent
	if err := json.Unmarshal(record.Value, &req); err != nil {
		return errors.InvalidBodyErr(err)
	}

	res, err := p.Ingester.Ingest(ctx, req)
	if err != nil {
		return err
	}
	p.Logger.Debug("candidate event ingested",
		zap.String("event_id", res.EventID),
		zap.String("status", string(res.Status)),
		zap.Bool("duplicate", res.Duplicate))
	return nil
}

package redis

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"
	"time"

	// Local Packages
	models "kirana-ledger/models"

	// External Packages
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeadLetterQueue holds what the pipeline could not handle on its own: undecodable
// Kafka records and events that ended in failed.
type DeadLetterQueue struct {
	client       *redis.Client
	logger       *zap.Logger
	recordsList  string
	failedEvents string
}

func NewDeadLetterQueue(client *redis.Client, logger *zap.Logger) *DeadLetterQueue {
	return &DeadLetterQueue{
		client:       client,
		logger:       logger,
		recordsList:  "poison-records",
		failedEvents: "failed-events",
	}
}

// Send stores records that could not be decoded under "record:{key}" and lists their keys.
// It fails unless every record was stored, so the caller keeps the batch for redelivery.
func (r *DeadLetterQueue) Send(ctx context.Context, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	successCount := 0
	for _, record := range records {
		jsonData, err := json.Marshal(record)
		if err != nil {
			r.logger.Error("failed to marshal record", zap.Error(err))
			continue
		}

		key := fmt.Sprintf("record:%s:%s", record.Key, uuid.NewString())
		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, jsonData, 0)
			pipe.LPush(ctx, r.recordsList, key)
			return nil
		})
		if err != nil {
			r.logger.Error("failed to store record", zap.String("key", key), zap.Error(err))
			continue
		}
		successCount++
	}

	if successCount > 0 {
		r.logger.Info("successfully sent records", zap.Int("count", successCount))
	}
	if successCount < len(records) {
		return fmt.Errorf("stored %d of %d poison records", successCount, len(records))
	}
	return nil
}

// PushFailed queues an event for operator attention. Pushing the same event twice
// overwrites its details but lists it once.
func (r *DeadLetterQueue) PushFailed(ctx context.Context, ev models.Event, reason string) error {
	jsonData, err := json.Marshal(models.FailedEvent{Event: ev, Reason: reason, FailedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("failed-event:%s", ev.ID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, jsonData, 0)
		pipe.LRem(ctx, r.failedEvents, 0, ev.ID)
		pipe.LPush(ctx, r.failedEvents, ev.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to queue failed event %s: %w", ev.ID, err)
	}
	r.logger.Warn("event queued for operator attention", zap.String("event_id", ev.ID), zap.String("reason", reason))
	return nil
}

// ListFailed returns up to n of the most recently failed events.
func (r *DeadLetterQueue) ListFailed(ctx context.Context, n int64) ([]models.FailedEvent, error) {
	ids, err := r.client.LRange(ctx, r.failedEvents, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.FailedEvent, 0, len(ids))
	for _, id := range ids {
		raw, err := r.client.Get(ctx, fmt.Sprintf("failed-event:%s", id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var fe models.FailedEvent
		if err := json.Unmarshal(raw, &fe); err != nil {
			return nil, err
		}
		out = append(out, fe)
	}
	return out, nil
}

package kafka

import (
	// Go Internal Packages
	"context"
	"errors"
	"fmt"
	"time"

	// Local Packages
	models "kirana-ledger/models"

	// External Packages
	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Brokers        []string
	Name           string
	Topic          string
	RecordsPerPoll int
}

type Consumer struct {
	Client    *kgo.Client
	Config    *ConsumerConfig
	Processor RecordProcessor
	Logger    *zap.Logger
}

type RecordProcessor interface {
	ProcessRecords(ctx context.Context, records []models.Record) error
}

// NewEventConsumer creates a consumer for the candidate-events topic (PS: Must call Poll
// to start consuming the records)
func NewEventConsumer(conf *ConsumerConfig, processor RecordProcessor, metrics *kprom.Metrics, logger *zap.Logger) (*Consumer, error) {
	c := &Consumer{Config: conf, Processor: processor, Logger: logger}

	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.ConsumerGroup(conf.Name),
		kgo.ConsumeTopics(conf.Topic),
		kgo.DisableAutoCommit(),    // offsets are committed after a batch is ingested
		kgo.BlockRebalanceOnPoll(), // no rebalance while a batch is in flight
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka consumer: %w", err)
	}

	c.Client = client
	return c, nil
}

// Poll consumes until ctx is done. A batch is committed only once every record in it
// was ingested or parked, so a crash redelivers it.
func (c *Consumer) Poll(ctx context.Context) error {
	defer c.Client.Close()

	retry := newRetryBackOff()

	for {
		if ctx.Err() != nil {
			c.Logger.Info("polling stopped")
			return nil
		}

		fetches := c.Client.PollRecords(ctx, c.Config.RecordsPerPoll)
		if fetches.IsClientClosed() {
			return errors.New("kafka client closed")
		}
		if errors.Is(fetches.Err0(), context.Canceled) {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.Logger.Warn("fetch error", zap.String("topic", topic), zap.Int32("partition", partition), zap.Error(err))
		})

		fetched := fetches.Records()
		if len(fetched) == 0 {
			c.Client.AllowRebalance()
			continue
		}

		records := make([]models.Record, len(fetched))
		for idx, record := range fetched {
			records[idx] = models.Record{
				Key:   record.Key,
				Value: record.Value,
				Topic: record.Topic,
			}
		}

		if err := c.Processor.ProcessRecords(ctx, records); err != nil {
			c.Logger.Error("failed to process records", zap.String("consumer", c.Config.Name), zap.Error(err))
			// rewind so the batch is fetched again
			c.rewind(fetched)
			c.Client.AllowRebalance()
			if !sleep(ctx, retry.NextBackOff()) {
				c.Logger.Info("polling stopped")
				return nil
			}
			continue
		}
		retry.Reset()

		if err := c.Client.CommitRecords(ctx, fetched...); err != nil {
			c.Logger.Warn("failed to commit offsets", zap.Error(err))
		}
		c.Client.AllowRebalance()
	}
}

// rewind resets each partition to the first offset of the failed batch.
func (c *Consumer) rewind(records []*kgo.Record) {
	offsets := map[string]map[int32]kgo.EpochOffset{}
	for _, r := range records {
		parts, ok := offsets[r.Topic]
		if !ok {
			parts = map[int32]kgo.EpochOffset{}
			offsets[r.Topic] = parts
		}
		if cur, ok := parts[r.Partition]; !ok || r.Offset < cur.Offset {
			parts[r.Partition] = kgo.EpochOffset{Epoch: r.LeaderEpoch, Offset: r.Offset}
		}
	}
	c.Client.SetOffsets(offsets)
}

// newRetryBackOff paces redelivery of a failing batch.
func newRetryBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

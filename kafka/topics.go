package kafka

import (
	// Go Internal Packages
	"context"
	"errors"
	"fmt"

	// External Packages
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

type TopicConfig struct {
	Brokers           []string
	Topics            []string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopics creates the pipeline's topics when they are missing. Existing topics are left untouched.
func EnsureTopics(ctx context.Context, conf *TopicConfig, logger *zap.Logger) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(conf.Brokers...))
	if err != nil {
		return fmt.Errorf("creating kafka admin client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, conf.Partitions, conf.ReplicationFactor, nil, conf.Topics...)
	if err != nil {
		return fmt.Errorf("creating topics: %w", err)
	}
	for _, t := range resp.Sorted() {
		switch {
		case t.Err == nil:
			logger.Info("kafka topic created", zap.String("topic", t.Topic), zap.Int32("partitions", conf.Partitions))
		case errors.Is(t.Err, kerr.TopicAlreadyExists):
		default:
			return fmt.Errorf("creating topic %s: %w", t.Topic, t.Err)
		}
	}
	return nil
}

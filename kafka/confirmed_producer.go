package kafka

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"fmt"

	// Local Packages
	models "kirana-ledger/models"

	// External Packages
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kprom"
	"go.uber.org/zap"
)

type ProducerConfig struct {
	Brokers []string
	Topic   string
}

// ConfirmedPublisher publishes ledger-confirmed events, keyed by shopkeeper so each
// shop's confirmations stay ordered within a partition.
type ConfirmedPublisher struct {
	Client *kgo.Client
	Topic  string
	Logger *zap.Logger
}

func NewConfirmedPublisher(conf *ProducerConfig, metrics *kprom.Metrics, logger *zap.Logger) (*ConfirmedPublisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(conf.Brokers...),
		kgo.DefaultProduceTopic(conf.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if metrics != nil {
		opts = append(opts, kgo.WithHooks(metrics))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return &ConfirmedPublisher{Client: client, Topic: conf.Topic, Logger: logger}, nil
}

func (p *ConfirmedPublisher) PublishConfirmed(ctx context.Context, msg models.ConfirmedMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	record := &kgo.Record{Topic: p.Topic, Key: []byte(msg.ShopkeeperID), Value: value}
	if err := p.Client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publishing confirmation of %s: %w", msg.EventID, err)
	}
	return nil
}

func (p *ConfirmedPublisher) Close() {
	p.Client.Close()
}

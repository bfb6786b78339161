package config

import (
	// Go Internal Packages
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
)

var DefaultConfig = []byte(`
application: "kirana-ledger"

logger:
  level: "debug"

is_prod_mode: false

http:
  addr: ":8080"
  read_timeout: "10s"
  write_timeout: "15s"

store:
  mode: "mongo"

mongo:
  uri: "mongodb://localhost:27017"
  database: "kirana"

redis:
  uri: "localhost:6379"
  password: ""

kafka:
  brokers:
    - "localhost:9092"
  consume: true
  publish: true
  topic: "candidate-events"
  confirmed_topic: "confirmed-events"
  records_per_poll: 500
  consumer_name: "kirana-ledger"
  create_topics: false
  partitions: 12
  replication_factor: 1

ledger:
  mode: "http"
  url: "http://localhost:9000"
  timeout: "5s"

pipeline:
  risk_threshold: 80
  score_retries: 3
  max_attempts: 8
  max_amount: 10000000000
  backoff_base: "2s"
  backoff_cap: "5m"
  history_window: "1h"
  lanes: 16
  lane_buffer: 256
  time_bucket: "1m"

sweeper:
  interval: "30s"
  grace_period: "2m"
  batch_size: 200
  lease_ttl: "1m"

aggregate:
  anchor_every: 50
  conflict_retries: 5
  seen_window: 10000
`)

const (
	ModeMemory = "memory"
	ModeMongo  = "mongo"
	ModeHTTP   = "http"
)

type Config struct {
	Application string    `koanf:"application"`
	Logger      Logger    `koanf:"logger"`
	IsProdMode  bool      `koanf:"is_prod_mode"`
	HTTP        HTTP      `koanf:"http"`
	Store       Store     `koanf:"store"`
	Mongo       Mongo     `koanf:"mongo"`
	Redis       Redis     `koanf:"redis"`
	Kafka       Kafka     `koanf:"kafka"`
	Ledger      Ledger    `koanf:"ledger"`
	Pipeline    Pipeline  `koanf:"pipeline"`
	Sweeper     Sweeper   `koanf:"sweeper"`
	Aggregate   Aggregate `koanf:"aggregate"`
}

type Logger struct {
	Level string `koanf:"level"`
}

type HTTP struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// Store selects the local store; memory keeps everything in process for local runs.
type Store struct {
	Mode string `koanf:"mode"`
}

type Mongo struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

// Redis backs the operator queue and the sweep lease. Both are skipped when URI is empty.
type Redis struct {
	URI      string `koanf:"uri"`
	Password string `koanf:"password"`
}

type Kafka struct {
	Brokers        []string `koanf:"brokers"`
	Consume        bool     `koanf:"consume"`
	Publish        bool     `koanf:"publish"`
	Topic          string   `koanf:"topic"`
	ConfirmedTopic string   `koanf:"confirmed_topic"`
	RecordsPerPoll int      `koanf:"records_per_poll"`
	ConsumerName   string   `koanf:"consumer_name"`
	CreateTopics   bool     `koanf:"create_topics"`
	Partitions     int32    `koanf:"partitions"`
	Replication    int16    `koanf:"replication_factor"`
}

type Ledger struct {
	Mode    string        `koanf:"mode"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

type Pipeline struct {
	RiskThreshold int           `koanf:"risk_threshold"`
	ScoreRetries  int           `koanf:"score_retries"`
	MaxAttempts   int           `koanf:"max_attempts"`
	MaxAmount     int64         `koanf:"max_amount"`
	BackoffBase   time.Duration `koanf:"backoff_base"`
	BackoffCap    time.Duration `koanf:"backoff_cap"`
	HistoryWindow time.Duration `koanf:"history_window"`
	Lanes         int           `koanf:"lanes"`
	LaneBuffer    int           `koanf:"lane_buffer"`
	TimeBucket    time.Duration `koanf:"time_bucket"`
}

type Sweeper struct {
	Interval    time.Duration `koanf:"interval"`
	GracePeriod time.Duration `koanf:"grace_period"`
	BatchSize   int           `koanf:"batch_size"`
	LeaseTTL    time.Duration `koanf:"lease_ttl"`
}

type Aggregate struct {
	AnchorEvery     int64 `koanf:"anchor_every"`
	ConflictRetries int   `koanf:"conflict_retries"`
	SeenWindow      int   `koanf:"seen_window"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	ve := errors.ValidationErrs()

	if c.Application == "" {
		ve.Add("application", "cannot be empty")
	}
	if c.Logger.Level == "" {
		ve.Add("logger.level", "cannot be empty")
	}
	if c.HTTP.Addr == "" {
		ve.Add("http.addr", "cannot be empty")
	}

	switch c.Store.Mode {
	case ModeMongo:
		if c.Mongo.URI == "" {
			ve.Add("mongo.uri", "cannot be empty")
		}
		if c.Mongo.Database == "" {
			ve.Add("mongo.database", "cannot be empty")
		}
	case ModeMemory:
	default:
		ve.Add("store.mode", "must be mongo or memory")
	}

	if c.Kafka.Consume || c.Kafka.Publish {
		if len(c.Kafka.Brokers) == 0 {
			ve.Add("kafka.brokers", "cannot be empty")
		}
	}
	if c.Kafka.Consume {
		if c.Kafka.Topic == "" {
			ve.Add("kafka.topic", "cannot be empty")
		}
		if c.Kafka.ConsumerName == "" {
			ve.Add("kafka.consumer_name", "cannot be empty")
		}
		if c.Kafka.RecordsPerPoll <= 0 {
			ve.Add("kafka.records_per_poll", "must be positive")
		}
	}
	if c.Kafka.Publish && c.Kafka.ConfirmedTopic == "" {
		ve.Add("kafka.confirmed_topic", "cannot be empty")
	}
	if c.Kafka.CreateTopics && (c.Kafka.Partitions <= 0 || c.Kafka.Replication <= 0) {
		ve.Add("kafka.partitions", "partitions and replication_factor must be positive")
	}

	switch c.Ledger.Mode {
	case ModeHTTP:
		if c.Ledger.URL == "" {
			ve.Add("ledger.url", "cannot be empty")
		}
	case ModeMemory:
	default:
		ve.Add("ledger.mode", "must be http or memory")
	}
	if c.Ledger.Timeout <= 0 {
		ve.Add("ledger.timeout", "must be positive")
	}

	if c.Pipeline.RiskThreshold <= 0 || c.Pipeline.RiskThreshold > 100 {
		ve.Add("pipeline.risk_threshold", "must be between 1 and 100")
	}
	if c.Pipeline.MaxAttempts <= 0 {
		ve.Add("pipeline.max_attempts", "must be positive")
	}
	if c.Pipeline.MaxAmount <= 0 {
		ve.Add("pipeline.max_amount", "must be positive")
	}
	if c.Pipeline.BackoffBase <= 0 || c.Pipeline.BackoffCap < c.Pipeline.BackoffBase {
		ve.Add("pipeline.backoff_cap", "must be at least backoff_base")
	}
	if c.Pipeline.Lanes <= 0 {
		ve.Add("pipeline.lanes", "must be positive")
	}
	if c.Pipeline.LaneBuffer < 0 {
		ve.Add("pipeline.lane_buffer", "cannot be negative")
	}
	if c.Pipeline.TimeBucket <= 0 {
		ve.Add("pipeline.time_bucket", "must be positive")
	}

	if c.Sweeper.Interval <= 0 {
		ve.Add("sweeper.interval", "must be positive")
	}
	if c.Sweeper.GracePeriod < 0 {
		ve.Add("sweeper.grace_period", "cannot be negative")
	}
	if c.Sweeper.BatchSize <= 0 {
		ve.Add("sweeper.batch_size", "must be positive")
	}
	if c.Aggregate.AnchorEvery <= 0 {
		ve.Add("aggregate.anchor_every", "must be positive")
	}
	if c.Aggregate.SeenWindow <= 0 {
		ve.Add("aggregate.seen_window", "must be positive")
	}

	return ve.Err()
}

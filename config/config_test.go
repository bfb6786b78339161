package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	_, conf, err := Load("")
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	assert.Equal(t, "kirana-ledger", conf.Application)
	assert.Equal(t, ModeMongo, conf.Store.Mode)
	assert.Equal(t, 5*time.Second, conf.Ledger.Timeout)
	assert.Equal(t, 80, conf.Pipeline.RiskThreshold)
	assert.Equal(t, time.Minute, conf.Pipeline.TimeBucket)
	assert.Equal(t, int64(10_000_000_000), conf.Pipeline.MaxAmount)
	assert.Equal(t, 2*time.Minute, conf.Sweeper.GracePeriod)
	assert.Equal(t, int64(50), conf.Aggregate.AnchorEvery)
	assert.Equal(t, 10_000, conf.Aggregate.SeenWindow)
	assert.Equal(t, []string{"localhost:9092"}, conf.Kafka.Brokers)
}

func TestLoad_FileAndSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  mode: "memory"
pipeline:
  lanes: 4
sweeper:
  interval: "5s"
`), 0o600))
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("IS_PROD_MODE", "true")

	_, conf, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, conf.Validate())

	assert.Equal(t, ModeMemory, conf.Ledger.Mode)
	assert.Equal(t, 4, conf.Pipeline.Lanes)
	assert.Equal(t, 5*time.Second, conf.Sweeper.Interval)
	assert.Equal(t, "mongodb://db:27017", conf.Mongo.URI)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, conf.Kafka.Brokers)
	assert.True(t, conf.IsProdMode)
}

func TestValidate(t *testing.T) {
	_, conf, err := Load("")
	require.NoError(t, err)

	conf.Store.Mode = "postgres"
	conf.Ledger.Mode = ModeHTTP
	conf.Ledger.URL = ""
	conf.Pipeline.RiskThreshold = 150
	conf.Pipeline.BackoffCap = time.Millisecond
	conf.Pipeline.MaxAmount = 0
	conf.Kafka.Brokers = nil

	err = conf.Validate()
	require.Error(t, err)
	for _, field := range []string{"store.mode", "ledger.url", "pipeline.risk_threshold", "pipeline.backoff_cap", "pipeline.max_amount", "kafka.brokers"} {
		assert.Contains(t, err.Error(), field)
	}
}

func TestValidate_MemoryModesNeedNoEndpoints(t *testing.T) {
	_, conf, err := Load("")
	require.NoError(t, err)

	conf.Store.Mode = ModeMemory
	conf.Mongo.URI = ""
	conf.Ledger.Mode = ModeMemory
	conf.Ledger.URL = ""
	conf.Kafka.Consume = false
	conf.Kafka.Publish = false
	conf.Kafka.Brokers = nil
	assert.NoError(t, conf.Validate())
}

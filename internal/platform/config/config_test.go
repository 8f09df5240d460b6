package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentsync/internal/trigger"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "/content", cfg.Trigger.Path)
	assert.Equal(t, "replication-service", cfg.Trigger.ServiceID)
	assert.Zero(t, cfg.Trigger.EventTypes)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "content.changes", cfg.Kafka.ChangesTopic)
	assert.Equal(t, int32(1), cfg.Kafka.Partitions)
	assert.Equal(t, 5, cfg.Kafka.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.Kafka.BreakerCooldown)
	assert.Empty(t, cfg.Server.Token)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONTENTSYNC_BACKEND", "kafka")
	t.Setenv("CONTENTSYNC_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CONTENTSYNC_KAFKA_REQUESTS_TOPIC", "replication.requests")
	t.Setenv("CONTENTSYNC_TRIGGER_PATH", "/content/site")
	t.Setenv("CONTENTSYNC_TRIGGER_EVENT_TYPES", "NODE_ADDED|NODE_REMOVED")
	t.Setenv("CONTENTSYNC_TRIGGER_EXCLUDED_PATHS", "/content/site/tmp,/content/site/drafts")
	t.Setenv("CONTENTSYNC_TRIGGER_SHALLOW", "true")
	t.Setenv("CONTENTSYNC_ADMIN_TOKEN", "s3cret")
	t.Setenv("CONTENTSYNC_KAFKA_BREAKER_COOLDOWN", "1m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "replication.requests", cfg.Kafka.RequestsTopic)
	assert.Equal(t, "/content/site", cfg.Trigger.Path)
	assert.Equal(t, trigger.NodeAdded|trigger.NodeRemoved, cfg.Trigger.EventTypes)
	assert.Equal(t, []string{"/content/site/tmp", "/content/site/drafts"}, cfg.Trigger.ExcludedPaths)
	assert.True(t, cfg.Trigger.Shallow)
	assert.Equal(t, "s3cret", cfg.Server.Token)
	assert.Equal(t, time.Minute, cfg.Kafka.BreakerCooldown)
}

func TestLoadErrors(t *testing.T) {
	t.Run("unparseable value", func(t *testing.T) {
		t.Setenv("CONTENTSYNC_ADMIN_SHUTDOWN_TIMEOUT", "soon")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse env:")
	})

	t.Run("unknown event type", func(t *testing.T) {
		t.Setenv("CONTENTSYNC_TRIGGER_EVENT_TYPES", "NODE_RENAMED")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("backend without connection settings", func(t *testing.T) {
		for _, backend := range []string{BackendRedis, BackendPostgres, BackendKafka} {
			t.Setenv("CONTENTSYNC_BACKEND", backend)
			_, err := Load()
			assert.Error(t, err, backend)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("CONTENTSYNC_BACKEND", "jcr")
		_, err := Load()
		assert.ErrorContains(t, err, `unknown backend "jcr"`)
	})

	t.Run("relative trigger path", func(t *testing.T) {
		t.Setenv("CONTENTSYNC_TRIGGER_PATH", "content")
		_, err := Load()
		assert.ErrorContains(t, err, "must be absolute")
	})
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDRESS", "REDIS_URL", "KAFKA_BROKERS", "CACHE_TTL", "SOURCE_TIMEOUT", "MONTHLY_GOAL_KM", "REFRESH_USERS", "CONSUMER_TOPICS", "PRIMARY_IDENTITY", "LINKED_IDENTITIES", "TIMEZONE"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Empty(t, cfg.RedisURL)
	require.Empty(t, cfg.KafkaBrokers)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, 20*time.Second, cfg.SourceTimeout)
	require.Equal(t, float64(50), cfg.MonthlyGoalKM)
	require.Equal(t, "@every 15m", cfg.RefreshSchedule)
	require.Equal(t, []string{"activity_events"}, cfg.ConsumerTopics)
	require.Equal(t, time.UTC, cfg.Location())
	require.False(t, cfg.StaticIdentities())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("SOURCE_TIMEOUT", "not-a-duration")
	t.Setenv("MONTHLY_GOAL_KM", "120.5")
	t.Setenv("REFRESH_USERS", "alice,bob")
	t.Setenv("LINKED_IDENTITIES", " npub-b ")
	t.Setenv("TIMEZONE", "Europe/Oslo")

	cfg := Load()

	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 90*time.Second, cfg.CacheTTL)
	require.Equal(t, 20*time.Second, cfg.SourceTimeout)
	require.Equal(t, 120.5, cfg.MonthlyGoalKM)
	require.Equal(t, []string{"alice", "bob"}, cfg.RefreshUsers)
	require.Equal(t, []string{"npub-b"}, cfg.LinkedIdentities)
	require.True(t, cfg.StaticIdentities())
	require.Equal(t, "Europe/Oslo", cfg.Location().String())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aggregator.env")
	require.NoError(t, os.WriteFile(path, []byte("FEED_TOKEN=from-file\nAGGREGATE_TOPIC=from-file\n"), 0o600))

	t.Setenv("AGGREGATE_TOPIC", "from-env")
	t.Setenv("FEED_TOKEN", "")
	require.NoError(t, os.Unsetenv("FEED_TOKEN"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))

	cfg := Load()
	require.Equal(t, "from-file", cfg.FeedToken)
	require.Equal(t, "from-env", cfg.AggregateTopic)
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  tracking_updated_topic_name: "tracking.updated"
redis:
  host: "localhost"
  port: 6379
courier_track:
  http_addr: ":8080"
  kafka_consumer_group: "track-api"
  auth_secret: "s3cret"
  snapshot_ttl_seconds: 600
  ingest_rate_limit_per_minute: 120
  worker_lease_seconds: 60
  signal_lost_after_seconds: 45
  min_displacement_meters: 12.5
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "tracking.updated", cfg.Kafka.TrackingUpdatedTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.CourierTrack.HTTPAddr)
	require.Equal(t, "s3cret", cfg.CourierTrack.AuthSecret)
	require.Equal(t, 120, cfg.CourierTrack.IngestRateLimitPerMinute)
	require.Equal(t, 45, cfg.CourierTrack.SignalLostAfterSeconds)
	require.InDelta(t, 12.5, cfg.CourierTrack.MinDisplacementMeters, 1e-9)
	require.Zero(t, cfg.CourierTrack.WorkerBatchSize)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("database: [\n"), 0o600))
	_, err = LoadConfig(p)
	require.Error(t, err)
}

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
  order_transitioned_topic_name: "order.transitioned"
  delivery_assigned_topic_name: "delivery.assigned"
  delivery_updated_topic_name: "delivery.updated"
redis:
  host: "localhost"
  port: 6379
skytrack:
  http_addr: ":8080"
  kafka_consumer_group: "dispatch-api"
  snapshot_ttl_seconds: 600
  worker_poll_interval_seconds: 5
  telemetry_mode: "sim"
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "order.transitioned", cfg.Kafka.OrderTransitionedTopic)
	require.Equal(t, "delivery.updated", cfg.Kafka.DeliveryUpdatedTopic)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":8080", cfg.SkyTrack.HTTPAddr)
	require.Equal(t, 5, cfg.SkyTrack.WorkerPollIntervalSeconds)
	require.Equal(t, "sim", cfg.SkyTrack.TelemetryMode)
}

func TestLoadConfig_missingFile(t *testing.T) {
	_, err := LoadConfig("/no/such/config.yaml")
	require.Error(t, err)
}

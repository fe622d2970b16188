package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	SkyTrack SkyTrackConfig `yaml:"skytrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	OrderTransitionedTopic string `yaml:"order_transitioned_topic_name"`
	DeliveryAssignedTopic  string `yaml:"delivery_assigned_topic_name"`
	DeliveryUpdatedTopic   string `yaml:"delivery_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SkyTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SnapshotTTLSeconds int    `yaml:"snapshot_ttl_seconds"`

	WorkerHTTPAddr                string `yaml:"worker_http_addr"`
	WorkerConsumerGroup           string `yaml:"worker_consumer_group"`
	WorkerPollIntervalSeconds     int    `yaml:"worker_poll_interval_seconds"`
	WorkerDegradedIntervalSeconds int    `yaml:"worker_degraded_interval_seconds"`
	WorkerFailureThreshold        int    `yaml:"worker_failure_threshold"`
	WorkerRateLimitPerMinute      int    `yaml:"worker_rate_limit_per_minute"`

	// Telemetry source. "sim" (default) runs the built-in flight simulator,
	// "http" polls an external feed at telemetry_base_url.
	TelemetryMode    string `yaml:"telemetry_mode"`
	TelemetryBaseURL string `yaml:"telemetry_base_url"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

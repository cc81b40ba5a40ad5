package config

import (
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	CourierTrack CourierTrackConfig `yaml:"courier_track"`
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
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	TrackingUpdatedTopicName string `yaml:"tracking_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CourierTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	AuthSecret          string `yaml:"auth_secret"`
	AuthTokenTTLSeconds int    `yaml:"auth_token_ttl_seconds"`

	SnapshotTTLSeconds        int `yaml:"snapshot_ttl_seconds"`
	IngestRateLimitPerMinute  int `yaml:"ingest_rate_limit_per_minute"`
	PublishMaxRetries         int `yaml:"publish_max_retries"`
	StartupConnectMaxAttempts int `yaml:"startup_connect_max_attempts"`

	// Watchdog (track-worker). An order is flagged once its courier has been
	// quiet for SignalLostAfterSeconds while the order is active.
	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	SignalLostAfterSeconds    int    `yaml:"signal_lost_after_seconds"`

	// Device side (courier-sim, customer-watch).
	APIBaseURL            string  `yaml:"api_base_url"`
	SampleIntervalSeconds int     `yaml:"sample_interval_seconds"`
	MinDisplacementMeters float64 `yaml:"min_displacement_meters"`
	PollIntervalSeconds   int     `yaml:"poll_interval_seconds"`
	StaleAfterSeconds     int     `yaml:"stale_after_seconds"`
	PrefsPath             string  `yaml:"prefs_path"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal YAML")
	}

	return &config, nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	ShipTrack ShipTrackConfig `yaml:"shiptrack"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

type KafkaConfig struct {
	Host               string `yaml:"host" validate:"required"`
	Port               int    `yaml:"port" validate:"min=1,max=65535"`
	TelemetryTopicName string `yaml:"telemetry_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

type ShipTrackConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	// TelemetryTransport — источник live-телеметрии: "kafka" (по умолчанию) или "redis".
	TelemetryTransport string `yaml:"telemetry_transport" validate:"omitempty,oneof=kafka redis"`

	SnapshotCacheTTLSeconds int   `yaml:"snapshot_cache_ttl_seconds" validate:"min=0"`
	ProgressTickSeconds     int   `yaml:"progress_tick_seconds" validate:"min=0"`
	LiveRateLimitPerMinute  int64 `yaml:"live_rate_limit_per_minute" validate:"min=0"`
	HubBufferSize           int   `yaml:"hub_buffer_size" validate:"min=0"`
	FeedRetrySeconds        int   `yaml:"feed_retry_seconds" validate:"min=0"`

	// Повторная подписка после провала: 1s/5s/15s/30s, если не задано.
	ResubscribeBackoff1Seconds int `yaml:"resubscribe_backoff_1_seconds" validate:"min=0"`
	ResubscribeBackoff2Seconds int `yaml:"resubscribe_backoff_2_seconds" validate:"min=0"`
	ResubscribeBackoff3Seconds int `yaml:"resubscribe_backoff_3_seconds" validate:"min=0"`
	ResubscribeBackoff4Seconds int `yaml:"resubscribe_backoff_4_seconds" validate:"min=0"`

	BreakerMinRequests    uint32  `yaml:"breaker_min_requests"`
	BreakerFailureRatio   float64 `yaml:"breaker_failure_ratio" validate:"min=0,max=1"`
	BreakerTimeoutSeconds int     `yaml:"breaker_timeout_seconds" validate:"min=0"`

	SimulatorHTTPAddr           string  `yaml:"simulator_http_addr"`
	SimulatorIntervalSeconds    int     `yaml:"simulator_interval_seconds" validate:"min=0"`
	SimulatorConcurrency        int     `yaml:"simulator_concurrency" validate:"min=0"`
	SimulatorRateLimitPerMinute int64   `yaml:"simulator_rate_limit_per_minute" validate:"min=0"`
	SimulatorRecordTelemetry    bool    `yaml:"simulator_record_telemetry"`
	SimulatorMinLat             float64 `yaml:"simulator_min_lat" validate:"min=-90,max=90"`
	SimulatorMaxLat             float64 `yaml:"simulator_max_lat" validate:"min=-90,max=90"`
	SimulatorMinLon             float64 `yaml:"simulator_min_lon" validate:"min=-180,max=180"`
	SimulatorMaxLon             float64 `yaml:"simulator_max_lon" validate:"min=-180,max=180"`
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

	if err := validator.New().Struct(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

func (k KafkaConfig) Topic() string {
	if k.TelemetryTopicName == "" {
		return "vehicle.telemetry"
	}
	return k.TelemetryTopicName
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func (c ShipTrackConfig) SnapshotCacheTTL() time.Duration {
	return seconds(c.SnapshotCacheTTLSeconds, 30*time.Second)
}

func (c ShipTrackConfig) ProgressTick() time.Duration {
	return seconds(c.ProgressTickSeconds, 30*time.Second)
}

func (c ShipTrackConfig) FeedRetry() time.Duration {
	return seconds(c.FeedRetrySeconds, 2*time.Second)
}

func (c ShipTrackConfig) Transport() string {
	if c.TelemetryTransport == "" {
		return "kafka"
	}
	return c.TelemetryTransport
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors configs/config.yaml.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Notify    NotifyConfig    `yaml:"notify"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Redis     RedisConfig     `yaml:"redis"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServiceConfig names this deployment in logs and the system endpoint.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig points at the SQLite file. BusyTimeout is in seconds.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// TelemetryRetentionDays prunes telemetry history older than this.
	// Zero keeps history forever.
	TelemetryRetentionDays int `yaml:"telemetry_retention_days"`
}

type IngestConfig struct {
	// CommitTimeout bounds a single ingest transaction, in milliseconds.
	CommitTimeout int              `yaml:"commit_timeout"`
	Thresholds    ThresholdsConfig `yaml:"thresholds"`
}

// ThresholdsConfig enables PARAMETER_THRESHOLD rules. A nil field disables that rule.
type ThresholdsConfig struct {
	MinSignalRSSI        *int     `yaml:"min_signal_rssi"`
	MaxLatencyMS         *int     `yaml:"max_latency_ms"`
	MaxPacketLossPercent *float64 `yaml:"max_packet_loss_percent"`
}

// NotifyConfig sizes the notification broker queues.
type NotifyConfig struct {
	QueueSize        int `yaml:"queue_size"`
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Topics    MQTTTopicsConfig    `yaml:"topics"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig delays are in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTTopicsConfig holds the prefixes device IDs are appended to.
type MQTTTopicsConfig struct {
	TelemetryPrefix string `yaml:"telemetry_prefix"`
	StatusPrefix    string `yaml:"status_prefix"`
}

// RedisConfig configures the optional pub/sub relay of status updates.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig values are in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig intervals are in seconds; MaxMessageSize is in bytes.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig configures the optional telemetry mirror. FlushInterval
// is in seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig sizes are in megabytes and ages in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`

	// DeviceAPIKey authenticates telemetry reports (X-Device-Api-Key header).
	DeviceAPIKey string `yaml:"device_api_key"`
}

// JWTConfig signs operator tokens. AccessTokenTTL is in minutes.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads the YAML file at path over the built-in defaults, applies
// UNITLINK_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Service:  ServiceConfig{ID: "unitlink-001", Name: "UnitLink"},
		Database: DatabaseConfig{Path: "./data/unitlink.db", WALMode: true, BusyTimeout: 5},
		Ingest:   IngestConfig{CommitTimeout: 5000},
		Notify:   NotifyConfig{QueueSize: 1024, SubscriberBuffer: 64},
		MQTT: MQTTConfig{
			Broker:    MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "unitlink-core"},
			QoS:       1,
			Reconnect: MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60},
			Topics:    MQTTTopicsConfig{TelemetryPrefix: "unitlink/telemetry", StatusPrefix: "unitlink/status"},
		},
		Redis: RedisConfig{Addr: "localhost:6379", Channel: "unitlink:unit_status_update"},
		API: APIConfig{
			Host:     "0.0.0.0",
			Port:     8080,
			Timeouts: APITimeoutConfig{Read: 30, Write: 30, Idle: 60},
		},
		WebSocket: WebSocketConfig{Path: "/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		InfluxDB:  InfluxDBConfig{Bucket: "telemetry", BatchSize: 100, FlushInterval: 10},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File:   FileLoggingConfig{Path: "./logs/unitlink.log", MaxSize: 100, MaxBackups: 5, MaxAge: 30},
		},
		Security: SecurityConfig{JWT: JWTConfig{AccessTokenTTL: 60}},
	}
}

// applyEnvOverrides copies every non-empty UNITLINK_* variable over the
// matching field. A non-numeric UNITLINK_API_PORT is ignored.
func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"UNITLINK_DATABASE_PATH":  &cfg.Database.Path,
		"UNITLINK_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"UNITLINK_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"UNITLINK_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"UNITLINK_REDIS_ADDR":     &cfg.Redis.Addr,
		"UNITLINK_REDIS_PASSWORD": &cfg.Redis.Password,
		"UNITLINK_API_HOST":       &cfg.API.Host,
		"UNITLINK_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"UNITLINK_LOG_LEVEL":      &cfg.Logging.Level,
		"UNITLINK_JWT_SECRET":     &cfg.Security.JWT.Secret,
		"UNITLINK_DEVICE_API_KEY": &cfg.Security.DeviceAPIKey,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	if port, err := strconv.Atoi(os.Getenv("UNITLINK_API_PORT")); err == nil {
		cfg.API.Port = port
	}
}

const minJWTSecretLength = 32

// Validate reports every problem in one error so an operator can fix the
// file in a single pass.
func (c *Config) Validate() error {
	var problems []string
	check := func(bad bool, msg string) {
		if bad {
			problems = append(problems, msg)
		}
	}

	check(c.Service.ID == "", "service.id is required")
	check(c.Database.Path == "", "database.path is required")
	check(c.Database.TelemetryRetentionDays < 0, "database.telemetry_retention_days cannot be negative")

	th := c.Ingest.Thresholds
	check(c.Ingest.CommitTimeout <= 0, "ingest.commit_timeout must be positive")
	check(th.MaxLatencyMS != nil && *th.MaxLatencyMS < 0,
		"ingest.thresholds.max_latency_ms cannot be negative")
	check(th.MaxPacketLossPercent != nil && (*th.MaxPacketLossPercent < 0 || *th.MaxPacketLossPercent > 100),
		"ingest.thresholds.max_packet_loss_percent must be between 0 and 100")

	check(c.Notify.QueueSize < 1, "notify.queue_size must be at least 1")
	check(c.Notify.SubscriberBuffer < 1, "notify.subscriber_buffer must be at least 1")

	check(c.MQTT.QoS < 0 || c.MQTT.QoS > 2, "mqtt.qos must be 0, 1, or 2")
	check(c.MQTT.Enabled && (c.MQTT.Topics.TelemetryPrefix == "" || c.MQTT.Topics.StatusPrefix == ""),
		"mqtt.topics prefixes are required when mqtt is enabled")
	check(c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == ""),
		"redis.addr and redis.channel are required when redis is enabled")
	check(c.InfluxDB.Enabled && c.InfluxDB.URL == "", "influxdb.url is required when influxdb is enabled")

	check(c.API.Port < 1 || c.API.Port > 65535, "api.port must be between 1 and 65535")
	check(c.Logging.Output == "file" && c.Logging.File.Path == "",
		"logging.file.path is required when logging.output is file")

	switch secret := c.Security.JWT.Secret; {
	case secret == "":
		problems = append(problems, "security.jwt.secret is required (set UNITLINK_JWT_SECRET)")
	case len(secret) < minJWTSecretLength:
		problems = append(problems, fmt.Sprintf("security.jwt.secret must be at least %d characters", minJWTSecretLength))
	}
	check(c.Security.DeviceAPIKey == "", "security.device_api_key is required (set UNITLINK_DEVICE_API_KEY)")

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("configuration errors: %s", strings.Join(problems, "; "))
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// GetReadTimeout returns api.timeouts.read.
func (c *Config) GetReadTimeout() time.Duration { return seconds(c.API.Timeouts.Read) }

// GetWriteTimeout returns api.timeouts.write.
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }

// GetIdleTimeout returns api.timeouts.idle.
func (c *Config) GetIdleTimeout() time.Duration { return seconds(c.API.Timeouts.Idle) }

// GetCommitTimeout bounds one ingest transaction. The setting is in
// milliseconds, unlike the other timeouts.
func (c *Config) GetCommitTimeout() time.Duration {
	return time.Duration(c.Ingest.CommitTimeout) * time.Millisecond
}

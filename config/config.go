package config

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Env      string         `yaml:"env"`
	Server   ServerConfig   `yaml:"server"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	CORSOrigins     []string `yaml:"cors_origins"`
}

// MQTTConfig holds the embedded broker configuration.
type MQTTConfig struct {
	Port                    int           `yaml:"port"`
	WSPort                  int           `yaml:"ws_port"` // 0 disables the websocket listener
	Username                string        `yaml:"username"`
	Password                string        `yaml:"password"`
	HandshakeTimeoutSeconds int           `yaml:"handshake_timeout_seconds"`
	HandshakeTimeout        time.Duration `yaml:"-"`
}

// UpstreamConfig describes an optional external broker the service subscribes to.
type UpstreamConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Broker           string        `yaml:"broker"`
	ClientPort       int           `yaml:"client_port"`
	ClientID         string        `yaml:"client_id"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	ReconnectSeconds int           `yaml:"reconnect_seconds"`
	Reconnect        time.Duration `yaml:"-"`
}

// IngestConfig tunes the queue between the broker and storage.
type IngestConfig struct {
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	EnqueueTimeoutMs    int           `yaml:"enqueue_timeout_ms"`
	EnqueueTimeout      time.Duration `yaml:"-"`
	WriteTimeoutSeconds int           `yaml:"write_timeout_seconds"`
	WriteTimeout        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	EnableTimescale        bool   `yaml:"enable_timescale"`
	LogLevel               string `yaml:"log_level"`
}

// LoggingConfig selects the process log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads the configuration from the given path, then applies .env and
// environment overrides. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("could not load .env file: %v", err)
	}

	var cfg Config
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("config file %s not found; using defaults and environment", path)
	default:
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = getenv("APP_ENV", cfg.Env)
	cfg.Server.Port = getenvInt("PORT", cfg.Server.Port)

	cfg.MQTT.Port = getenvInt("MQTT_PORT", cfg.MQTT.Port)
	cfg.MQTT.WSPort = getenvInt("MQTT_WS_PORT", cfg.MQTT.WSPort)
	cfg.MQTT.Username = getenv("BROKER_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getenv("BROKER_PASSWORD", cfg.MQTT.Password)

	if v := os.Getenv("MQTT_BROKER"); v != "" {
		cfg.Upstream.Broker = v
		cfg.Upstream.Enabled = true
	}
	cfg.Upstream.ClientPort = getenvInt("MQTT_CLIENT_PORT", cfg.Upstream.ClientPort)
	cfg.Upstream.Username = getenv("MQTT_USERNAME", cfg.Upstream.Username)
	cfg.Upstream.Password = getenv("MQTT_PASSWORD", cfg.Upstream.Password)

	cfg.Database.DSN = getenv("DATABASE_URL", cfg.Database.DSN)
	cfg.Logging.Level = getenv("LOG_LEVEL", cfg.Logging.Level)
}

func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}

	if cfg.MQTT.Port <= 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.WSPort < 0 {
		cfg.MQTT.WSPort = 0
	}
	if cfg.MQTT.HandshakeTimeoutSeconds <= 0 {
		cfg.MQTT.HandshakeTimeoutSeconds = 10
	}
	cfg.MQTT.HandshakeTimeout = time.Duration(cfg.MQTT.HandshakeTimeoutSeconds) * time.Second

	if cfg.Upstream.ClientPort <= 0 {
		cfg.Upstream.ClientPort = 1883
	}
	if cfg.Upstream.ClientID == "" {
		cfg.Upstream.ClientID = "harvester-telemetry-collector"
	}
	if cfg.Upstream.ReconnectSeconds <= 0 {
		cfg.Upstream.ReconnectSeconds = 5
	}
	cfg.Upstream.Reconnect = time.Duration(cfg.Upstream.ReconnectSeconds) * time.Second

	if cfg.Ingest.Workers <= 0 {
		log.Printf("ingest.workers is not set or invalid; defaulting to 4")
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = 4096
	}
	if cfg.Ingest.EnqueueTimeoutMs <= 0 {
		cfg.Ingest.EnqueueTimeoutMs = 2000
	}
	cfg.Ingest.EnqueueTimeout = time.Duration(cfg.Ingest.EnqueueTimeoutMs) * time.Millisecond
	if cfg.Ingest.WriteTimeoutSeconds <= 0 {
		cfg.Ingest.WriteTimeoutSeconds = 5
	}
	cfg.Ingest.WriteTimeout = time.Duration(cfg.Ingest.WriteTimeoutSeconds) * time.Second

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "sqlite://harvester.db"
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("ignoring %s=%q: not an integer", key, v)
	}
	return fallback
}

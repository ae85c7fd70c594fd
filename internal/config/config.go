// Package config loads orchestrator configuration from a YAML file and
// environment variables. Environment values override file values.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// Worker pool
	WorkerPoolURL     string        `yaml:"worker_pool_url"`
	CallbackSecret    string        `yaml:"callback_secret"`
	WorkerPoolTimeout time.Duration `yaml:"worker_pool_timeout"`

	// Object storage
	S3Bucket      string        `yaml:"s3_bucket"`
	S3Region      string        `yaml:"s3_region"`
	S3EndpointURL string        `yaml:"s3_endpoint_url"` // non-empty for MinIO-style deployments
	PresignTTL    time.Duration `yaml:"presign_ttl"`

	// HTTP API
	ListenAddr string `yaml:"listen_addr"`
	APIToken   string `yaml:"api_token"`

	// Proxy checking
	DefaultProxyID string `yaml:"default_proxy_id"`

	// Reconciler
	ReconcileInterval  time.Duration `yaml:"reconcile_interval"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// Load reads configuration from the optional file at VGO_CONFIG_FILE and
// then applies environment overrides.
func Load() Config {
	cfg := defaults()

	if path := os.Getenv("VGO_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			slog.Warn("failed to load config file, continuing with env/defaults", "file", path, "error", err)
		}
	}

	applyEnv(&cfg)
	return cfg
}

func defaults() Config {
	return Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "vidgenius",
		SurrealDBDatabase:  "orchestrator",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",
		SurrealDBAuthLevel: "root",

		WorkerPoolURL:     "http://localhost:9090",
		WorkerPoolTimeout: 30 * time.Second,

		S3Bucket:   "vid-genius-artifacts",
		S3Region:   "us-east-1",
		PresignTTL: 15 * time.Minute,

		ListenAddr: ":8686",

		ReconcileInterval:  time.Minute,
		StalenessThreshold: 5 * time.Minute,

		LogFile:  "/tmp/vgo-orchestrator.log",
		LogLevel: slog.LevelInfo,
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.SurrealDBURL, "SURREALDB_URL")
	setString(&cfg.SurrealDBNamespace, "SURREALDB_NAMESPACE")
	setString(&cfg.SurrealDBDatabase, "SURREALDB_DATABASE")
	setString(&cfg.SurrealDBUser, "SURREALDB_USER")
	setString(&cfg.SurrealDBPass, "SURREALDB_PASS")
	setString(&cfg.SurrealDBAuthLevel, "SURREALDB_AUTH_LEVEL")

	setString(&cfg.WorkerPoolURL, "VGO_WORKER_POOL_URL")
	setString(&cfg.CallbackSecret, "VGO_CALLBACK_SECRET")
	setDuration(&cfg.WorkerPoolTimeout, "VGO_WORKER_POOL_TIMEOUT")

	setString(&cfg.S3Bucket, "VGO_S3_BUCKET")
	setString(&cfg.S3Region, "VGO_S3_REGION")
	setString(&cfg.S3EndpointURL, "VGO_S3_ENDPOINT_URL")
	setDuration(&cfg.PresignTTL, "VGO_PRESIGN_TTL")

	setString(&cfg.ListenAddr, "VGO_LISTEN_ADDR")
	setString(&cfg.APIToken, "VGO_API_TOKEN")
	setString(&cfg.DefaultProxyID, "VGO_DEFAULT_PROXY_ID")

	setDuration(&cfg.ReconcileInterval, "VGO_RECONCILE_INTERVAL")
	setDuration(&cfg.StalenessThreshold, "VGO_STALENESS_THRESHOLD")

	setString(&cfg.LogFile, "VGO_LOG_FILE")
	if v := os.Getenv("VGO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	// Bare numbers are treated as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

// ParseLogLevel maps a level name to a slog.Level, defaulting to INFO.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration in a structured way.
type Config struct {
	App       AppConfig
	Paths     PathsConfig
	Database  DatabaseConfig
	Gateway   GatewayConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	Worker    WorkerPoolConfig
}

type AppConfig struct {
	Version            string
	Port               string
	Debug              bool
	Environment        string
	BasicAuth          []string
	BasePath           string
	TrustedProxies     []string
	BaseUrl            string
	CorsAllowedOrigins []string
	ServerID           string
}

type PathsConfig struct {
	BaseDir  string
	Statics  string
	Storages string
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string // File path for SQLite, DB Name for Postgres
	ValkeyEnabled   bool
	ValkeyAddress   string
	ValkeyPassword  string
	ValkeyDB        int
	ValkeyKeyPrefix string
}

type GatewayConfig struct {
	// SessionReadyTimeout bounds how long a session may sit before READY.
	SessionReadyTimeout time.Duration
	// DedupeWindow is the content-match fallback for messages without an
	// external id.
	DedupeWindow time.Duration
	LogLevel     string
}

type QueueConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	BackoffSeconds int
}

type RateLimitConfig struct {
	SendLimit     int
	WindowSeconds int
	// RetentionHours controls opportunistic bucket pruning.
	RetentionHours int
}

type WorkerPoolConfig struct {
	Size      int
	QueueSize int
}

// Global provides access to the loaded configuration globally (Migration Helper)
var Global *Config

// IsProduction reports whether the gateway runs with production failure
// policies (rate limiter fails closed, etc).
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// LoadConfig loads configuration from Environment Variables or defaults.
func LoadConfig() (*Config, error) {
	baseDir := getEnv("APP_BASE_DIR", "storages")

	debug := false
	if v := getEnv("APP_DEBUG", ""); v == "true" || v == "1" || v == "on" {
		debug = true
	}

	var basicAuth []string
	if v := getEnv("APP_BASIC_AUTH", ""); v != "" {
		basicAuth = splitCSV(v)
	}

	corsOrigins := []string{"http://localhost:3000", "http://localhost:5173"}
	if v := getEnv("APP_CORS_ALLOWED_ORIGINS", ""); v != "" {
		corsOrigins = splitCSV(v)
	}

	appCfg := AppConfig{
		Version:            "v1.4.0",
		Port:               getEnv("APP_PORT", "3000"),
		Debug:              debug,
		Environment:        getEnv("APP_ENV", "development"),
		BasicAuth:          basicAuth,
		BasePath:           getEnv("APP_BASE_PATH", ""),
		BaseUrl:            getEnv("APP_BASE_URL", "http://localhost:3000"),
		CorsAllowedOrigins: corsOrigins,
		ServerID:           getEnv("SERVER_ID", ""),
	}
	if v := getEnv("APP_TRUSTED_PROXIES", ""); v != "" {
		appCfg.TrustedProxies = splitCSV(v)
	}

	pathsCfg := PathsConfig{
		BaseDir:  baseDir,
		Statics:  getEnv("PATH_STATICS", "statics"),
		Storages: baseDir,
	}

	dbCfg := DatabaseConfig{
		Driver:          getEnv("DB_DRIVER", "sqlite"),
		Name:            getEnv("DB_NAME", filepath.Join(pathsCfg.Storages, "gateway.db")),
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		ValkeyEnabled:   getEnvBool("VALKEY_ENABLED", false),
		ValkeyAddress:   getEnv("VALKEY_ADDRESS", "localhost:6379"),
		ValkeyPassword:  getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:        getEnvInt("VALKEY_DB", 0),
		ValkeyKeyPrefix: getEnv("VALKEY_KEY_PREFIX", "msggate:"),
	}

	gwCfg := GatewayConfig{
		SessionReadyTimeout: time.Duration(getEnvInt("SESSION_READY_TIMEOUT_SEC", 180)) * time.Second,
		DedupeWindow:        time.Duration(getEnvInt("MESSAGE_DEDUPE_WINDOW_SEC", 10)) * time.Second,
		LogLevel:            getEnv("CHANNEL_LOG_LEVEL", "ERROR"),
	}

	queueCfg := QueueConfig{
		PollInterval:   time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_MS", 2000)) * time.Millisecond,
		BatchSize:      getEnvInt("QUEUE_BATCH_SIZE", 10),
		MaxAttempts:    getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		BackoffSeconds: getEnvInt("QUEUE_BACKOFF_SECONDS", 60),
	}

	rlCfg := RateLimitConfig{
		SendLimit:      getEnvInt("RATE_LIMIT_SEND", 60),
		WindowSeconds:  getEnvInt("RATE_LIMIT_WINDOW_SEC", 60),
		RetentionHours: getEnvInt("RATE_LIMIT_RETENTION_HOURS", 24),
	}

	cfg := &Config{
		App:       appCfg,
		Paths:     pathsCfg,
		Database:  dbCfg,
		Gateway:   gwCfg,
		Queue:     queueCfg,
		RateLimit: rlCfg,
		Worker: WorkerPoolConfig{
			Size:      getEnvInt("MESSAGE_WORKER_POOL_SIZE", 20),
			QueueSize: getEnvInt("MESSAGE_WORKER_QUEUE_SIZE", 1000),
		},
	}

	Global = cfg
	return cfg, nil
}

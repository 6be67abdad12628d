package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	os.Setenv(envKey, strings.TrimSpace(string(data)))
}

type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Queue     QueueConfig
	Batch     BatchConfig
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Qdrant    QdrantConfig
	Storage   StorageConfig
	JWT       JWTConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	ApiDomain string
	BodyLimit int // MB
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	FileOnly   bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	DSN             string
	LogLevel        string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type QueueConfig struct {
	Concurrency int
	MaxRetry    int
	Retention   time.Duration
}

type BatchConfig struct {
	KeyTTL        time.Duration
	UnitTimeout   time.Duration
	CancelHorizon time.Duration
	PurgeInterval time.Duration
	MaxTerms      int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	APIKey     string
	UseTLS     bool
}

type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	UsePathStyle    bool
	URLExpiry       time.Duration
}

type JWTConfig struct {
	Secret string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type RateLimitConfig struct {
	BatchStartPerMin int
	AgentPerMin      int
}

// Load reads configuration from .env, an optional config.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_DSN")
	readSecret("LLM_API_KEY")
	readSecret("EMBEDDING_API_KEY")
	readSecret("QDRANT_API_KEY")
	readSecret("STORAGE_ACCESS_KEY_ID")
	readSecret("STORAGE_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()

	bindings := map[string]string{
		"server.port":              "SERVER_PORT",
		"server.env":               "SERVER_ENV",
		"server.api_domain":        "API_DOMAIN",
		"server.body_limit_mb":     "SERVER_BODY_LIMIT_MB",
		"log.level":                "LOG_LEVEL",
		"log.format":               "LOG_FORMAT",
		"log.file":                 "LOG_FILE",
		"log.file_only":            "LOG_FILE_ONLY",
		"log.max_size_mb":          "LOG_MAX_SIZE",
		"log.max_backups":          "LOG_MAX_BACKUPS",
		"log.max_age_days":         "LOG_MAX_AGE",
		"log.compress":             "LOG_COMPRESS",
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"redis.db":                 "REDIS_DB",
		"database.driver":          "DATABASE_DRIVER",
		"database.dsn":             "DATABASE_DSN",
		"database.log_level":       "DATABASE_LOG_LEVEL",
		"database.max_idle_conns":  "DATABASE_MAX_IDLE_CONNS",
		"database.max_open_conns":  "DATABASE_MAX_OPEN_CONNS",
		"database.conn_max_life":   "DATABASE_CONN_MAX_LIFETIME",
		"database.auto_migrate":    "DATABASE_AUTO_MIGRATE",
		"queue.concurrency":        "QUEUE_CONCURRENCY",
		"queue.max_retry":          "QUEUE_MAX_RETRY",
		"queue.retention":          "QUEUE_RETENTION",
		"batch.key_ttl":            "BATCH_KEY_TTL",
		"batch.unit_timeout":       "BATCH_UNIT_TIMEOUT",
		"batch.cancel_horizon":     "BATCH_CANCEL_HORIZON",
		"batch.purge_interval":     "BATCH_PURGE_INTERVAL",
		"batch.max_terms":          "BATCH_MAX_TERMS",
		"llm.api_key":              "LLM_API_KEY",
		"llm.base_url":             "LLM_BASE_URL",
		"llm.model":                "LLM_MODEL",
		"llm.temperature":          "LLM_TEMPERATURE",
		"llm.timeout":              "LLM_TIMEOUT",
		"embedding.api_key":        "EMBEDDING_API_KEY",
		"embedding.base_url":       "EMBEDDING_BASE_URL",
		"embedding.model":          "EMBEDDING_MODEL",
		"embedding.dimensions":     "EMBEDDING_DIMENSIONS",
		"qdrant.host":              "QDRANT_HOST",
		"qdrant.port":              "QDRANT_PORT",
		"qdrant.collection":        "QDRANT_COLLECTION",
		"qdrant.api_key":           "QDRANT_API_KEY",
		"qdrant.use_tls":           "QDRANT_USE_TLS",
		"storage.endpoint":         "STORAGE_ENDPOINT",
		"storage.region":           "STORAGE_REGION",
		"storage.access_key_id":    "STORAGE_ACCESS_KEY_ID",
		"storage.secret_key":       "STORAGE_SECRET_ACCESS_KEY",
		"storage.bucket_name":      "STORAGE_BUCKET_NAME",
		"storage.public_url":       "STORAGE_PUBLIC_URL",
		"storage.use_path_style":   "STORAGE_USE_PATH_STYLE",
		"storage.url_expiry":       "STORAGE_URL_EXPIRY",
		"jwt.secret":               "JWT_SECRET",
		"zitadel.domain":           "ZITADEL_DOMAIN",
		"zitadel.client_id":        "ZITADEL_CLIENT_ID",
		"zitadel.issuer":           "ZITADEL_ISSUER",
		"gateway.enabled":          "GATEWAY_ENABLED",
		"ratelimit.batch_per_min":  "RATELIMIT_BATCH_PER_MIN",
		"ratelimit.agent_per_min":  "RATELIMIT_AGENT_PER_MIN",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.body_limit_mb", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/transflow.db")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.conn_max_life", "1h")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 3)
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("batch.key_ttl", "24h")
	v.SetDefault("batch.unit_timeout", "60s")
	v.SetDefault("batch.cancel_horizon", "1h")
	v.SetDefault("batch.purge_interval", "10m")
	v.SetDefault("batch.max_terms", 200)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "translation_memory")
	v.SetDefault("storage.region", "auto")
	v.SetDefault("storage.url_expiry", "15m")
	v.SetDefault("gateway.enabled", false)
	v.SetDefault("ratelimit.batch_per_min", 30)
	v.SetDefault("ratelimit.agent_per_min", 120)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			ApiDomain: v.GetString("server.api_domain"),
			BodyLimit: v.GetInt("server.body_limit_mb"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			FileOnly:   v.GetBool("log.file_only"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
			Compress:   v.GetBool("log.compress"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			DSN:             v.GetString("database.dsn"),
			LogLevel:        v.GetString("database.log_level"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_life"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Queue: QueueConfig{
			Concurrency: v.GetInt("queue.concurrency"),
			MaxRetry:    v.GetInt("queue.max_retry"),
			Retention:   v.GetDuration("queue.retention"),
		},
		Batch: BatchConfig{
			KeyTTL:        v.GetDuration("batch.key_ttl"),
			UnitTimeout:   v.GetDuration("batch.unit_timeout"),
			CancelHorizon: v.GetDuration("batch.cancel_horizon"),
			PurgeInterval: v.GetDuration("batch.purge_interval"),
			MaxTerms:      v.GetInt("batch.max_terms"),
		},
		LLM: LLMConfig{
			APIKey:      v.GetString("llm.api_key"),
			BaseURL:     v.GetString("llm.base_url"),
			Model:       v.GetString("llm.model"),
			Temperature: v.GetFloat64("llm.temperature"),
			Timeout:     v.GetDuration("llm.timeout"),
		},
		Embedding: EmbeddingConfig{
			APIKey:     v.GetString("embedding.api_key"),
			BaseURL:    v.GetString("embedding.base_url"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetInt("embedding.dimensions"),
		},
		Qdrant: QdrantConfig{
			Host:       v.GetString("qdrant.host"),
			Port:       v.GetInt("qdrant.port"),
			Collection: v.GetString("qdrant.collection"),
			APIKey:     v.GetString("qdrant.api_key"),
			UseTLS:     v.GetBool("qdrant.use_tls"),
		},
		Storage: StorageConfig{
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			PublicURL:       v.GetString("storage.public_url"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			URLExpiry:       v.GetDuration("storage.url_expiry"),
		},
		JWT: JWTConfig{
			Secret: v.GetString("jwt.secret"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		RateLimit: RateLimitConfig{
			BatchStartPerMin: v.GetInt("ratelimit.batch_per_min"),
			AgentPerMin:      v.GetInt("ratelimit.agent_per_min"),
		},
	}

	if cfg.Database.Driver != "sqlite" && cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	return cfg, nil
}

package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env         string
	Port        int
	ServiceName string

	Database DatabaseConfig
	Redis    RedisConfig
	Log      LogConfig
	Renewal  RenewalConfig
	Events   EventsConfig
	Sweeper  SweeperConfig
	Tracing  TracingConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// RenewalConfig carries the workflow policy handed to the renewal engine.
type RenewalConfig struct {
	WarningWindowDays int
	DefaultChain      []string
	CategoryChains    map[string][]string // overrides DefaultChain per course category
	StoreTimeout      time.Duration
	ConflictRetries   int
}

// EventsConfig tunes asynchronous delivery of renewal events.
type EventsConfig struct {
	Workers       int
	BufferSize    int
	MaxRetries    int
	RetryDelay    time.Duration
	StreamEnabled bool
	RedisChannel  string
}

// SweeperConfig controls the periodic enrollment status refresh.
type SweeperConfig struct {
	Enabled   bool
	Schedule  string
	BatchSize int
}

// TracingConfig points the OTLP exporter at a collector. Empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.ServiceName = v.GetString("SERVICE_NAME")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	retries := v.GetInt("RENEWAL_CONFLICT_RETRIES")
	if retries <= 0 {
		retries = 3
	}
	cfg.Renewal = RenewalConfig{
		WarningWindowDays: v.GetInt("RENEWAL_WARNING_WINDOW_DAYS"),
		DefaultChain:      splitAndTrim(v.GetString("RENEWAL_DEFAULT_CHAIN")),
		CategoryChains:    parseCategoryChains(v.GetString("RENEWAL_CATEGORY_CHAINS")),
		StoreTimeout:      parseDuration(v.GetString("RENEWAL_STORE_TIMEOUT"), 5*time.Second),
		ConflictRetries:   retries,
	}

	cfg.Events = EventsConfig{
		Workers:       v.GetInt("EVENTS_WORKERS"),
		BufferSize:    v.GetInt("EVENTS_BUFFER"),
		MaxRetries:    v.GetInt("EVENTS_MAX_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("EVENTS_RETRY_DELAY"), time.Second),
		StreamEnabled: v.GetBool("ENABLE_EVENT_STREAM"),
		RedisChannel:  v.GetString("EVENTS_REDIS_CHANNEL"),
	}

	cfg.Sweeper = SweeperConfig{
		Enabled:   v.GetBool("ENABLE_SWEEPER"),
		Schedule:  v.GetString("SWEEPER_SCHEDULE"),
		BatchSize: v.GetInt("SWEEPER_BATCH_SIZE"),
	}

	cfg.Tracing = TracingConfig{
		Endpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("SERVICE_NAME", "trainflow-renewal")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "trainflow")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RENEWAL_WARNING_WINDOW_DAYS", 30)
	v.SetDefault("RENEWAL_DEFAULT_CHAIN", "line_supervisor,department_manager")
	v.SetDefault("RENEWAL_CATEGORY_CHAINS", "safety:line_supervisor|department_manager|training_administrator")
	v.SetDefault("RENEWAL_STORE_TIMEOUT", "5s")
	v.SetDefault("RENEWAL_CONFLICT_RETRIES", 3)

	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_BUFFER", 256)
	v.SetDefault("EVENTS_MAX_RETRIES", 3)
	v.SetDefault("EVENTS_RETRY_DELAY", "1s")
	v.SetDefault("ENABLE_EVENT_STREAM", false)
	v.SetDefault("EVENTS_REDIS_CHANNEL", "trainflow:renewal-events")

	v.SetDefault("ENABLE_SWEEPER", false)
	v.SetDefault("SWEEPER_SCHEDULE", "0 * * * *")
	v.SetDefault("SWEEPER_BATCH_SIZE", 200)

	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	return splitOn(raw, ",")
}

func splitOn(raw, sep string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parseCategoryChains reads "category:role|role,category:role" into a lookup table.
// Malformed entries are skipped.
func parseCategoryChains(raw string) map[string][]string {
	chains := make(map[string][]string)
	for _, entry := range splitAndTrim(raw) {
		category, roles, ok := strings.Cut(entry, ":")
		if !ok {
			continue
		}
		category = strings.ToLower(strings.TrimSpace(category))
		chain := splitOn(roles, "|")
		if category == "" || len(chain) == 0 {
			continue
		}
		chains[category] = chain
	}
	return chains
}

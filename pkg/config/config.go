package config

import (
	"errors"
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
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Log         LogConfig
	Cache       CacheConfig
	Aggregation AggregationConfig
	Thresholds  ThresholdConfig
	Jobs        JobsConfig
	Reports     ReportsConfig
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

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig tunes the redis read-through cache per aggregate view.
type CacheConfig struct {
	Enabled            bool
	StudentStatsTTL    time.Duration
	AssignmentStatsTTL time.Duration
	SchoolStatsTTL     time.Duration
	DashboardTTL       time.Duration
}

// AggregationConfig governs the batch pipeline and its scheduler.
type AggregationConfig struct {
	Interval          time.Duration
	RunOnStart        bool
	StudentWorkers    int
	AssignmentWorkers int
	MaxRetries        int
	RetryMinBackoff   time.Duration
	RetryMaxBackoff   time.Duration
	LockKey           string
	LockTTL           time.Duration
}

// ThresholdConfig holds the needs-help flagging thresholds. Defaults match
// the legacy engine exactly and must not be hard-coded at use sites.
type ThresholdConfig struct {
	CompletionRateMin float64
	AverageScoreMin   float64
	WarningDays       int
	CriticalDays      int
}

// JobsConfig tunes the in-process job queue used by the API binary.
type JobsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// ReportsConfig configures asynchronous report generation.
type ReportsConfig struct {
	Enabled         bool
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	WorkerRetries   int
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
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled:            v.GetBool("CACHE_ENABLED"),
		StudentStatsTTL:    parseDuration(v.GetString("CACHE_STUDENT_STATS_TTL"), 10*time.Minute),
		AssignmentStatsTTL: parseDuration(v.GetString("CACHE_ASSIGNMENT_STATS_TTL"), 10*time.Minute),
		SchoolStatsTTL:     parseDuration(v.GetString("CACHE_SCHOOL_STATS_TTL"), 15*time.Minute),
		DashboardTTL:       parseDuration(v.GetString("CACHE_DASHBOARD_TTL"), 5*time.Minute),
	}

	cfg.Aggregation = AggregationConfig{
		Interval:          parseDuration(v.GetString("AGGREGATION_INTERVAL"), 6*time.Hour),
		RunOnStart:        v.GetBool("AGGREGATION_RUN_ON_START"),
		StudentWorkers:    v.GetInt("AGGREGATION_STUDENT_WORKERS"),
		AssignmentWorkers: v.GetInt("AGGREGATION_ASSIGNMENT_WORKERS"),
		MaxRetries:        v.GetInt("AGGREGATION_MAX_RETRIES"),
		RetryMinBackoff:   parseDuration(v.GetString("AGGREGATION_RETRY_MIN_BACKOFF"), 200*time.Millisecond),
		RetryMaxBackoff:   parseDuration(v.GetString("AGGREGATION_RETRY_MAX_BACKOFF"), 5*time.Second),
		LockKey:           v.GetString("AGGREGATION_LOCK_KEY"),
		LockTTL:           parseDuration(v.GetString("AGGREGATION_LOCK_TTL"), 30*time.Minute),
	}

	cfg.Thresholds = ThresholdConfig{
		CompletionRateMin: v.GetFloat64("THRESHOLD_COMPLETION_RATE_MIN"),
		AverageScoreMin:   v.GetFloat64("THRESHOLD_AVERAGE_SCORE_MIN"),
		WarningDays:       v.GetInt("THRESHOLD_WARNING_DAYS"),
		CriticalDays:      v.GetInt("THRESHOLD_CRITICAL_DAYS"),
	}

	cfg.Jobs = JobsConfig{
		Workers:    v.GetInt("JOBS_WORKERS"),
		BufferSize: v.GetInt("JOBS_BUFFER_SIZE"),
		MaxRetries: v.GetInt("JOBS_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("JOBS_RETRY_DELAY"), 30*time.Second),
	}

	cfg.Reports = ReportsConfig{
		Enabled:         v.GetBool("ENABLE_REPORTS"),
		StorageDir:      v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerRetries:   v.GetInt("REPORTS_WORKER_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lingora_insight")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_STUDENT_STATS_TTL", "10m")
	v.SetDefault("CACHE_ASSIGNMENT_STATS_TTL", "10m")
	v.SetDefault("CACHE_SCHOOL_STATS_TTL", "15m")
	v.SetDefault("CACHE_DASHBOARD_TTL", "5m")

	v.SetDefault("AGGREGATION_INTERVAL", "6h")
	v.SetDefault("AGGREGATION_RUN_ON_START", true)
	v.SetDefault("AGGREGATION_STUDENT_WORKERS", 8)
	v.SetDefault("AGGREGATION_ASSIGNMENT_WORKERS", 8)
	v.SetDefault("AGGREGATION_MAX_RETRIES", 3)
	v.SetDefault("AGGREGATION_RETRY_MIN_BACKOFF", "200ms")
	v.SetDefault("AGGREGATION_RETRY_MAX_BACKOFF", "5s")
	v.SetDefault("AGGREGATION_LOCK_KEY", "insight:aggregation:lease")
	v.SetDefault("AGGREGATION_LOCK_TTL", "30m")

	v.SetDefault("THRESHOLD_COMPLETION_RATE_MIN", 50.0)
	v.SetDefault("THRESHOLD_AVERAGE_SCORE_MIN", 50.0)
	v.SetDefault("THRESHOLD_WARNING_DAYS", 7)
	v.SetDefault("THRESHOLD_CRITICAL_DAYS", 14)

	v.SetDefault("JOBS_WORKERS", 4)
	v.SetDefault("JOBS_BUFFER_SIZE", 64)
	v.SetDefault("JOBS_MAX_RETRIES", 3)
	v.SetDefault("JOBS_RETRY_DELAY", "30s")

	v.SetDefault("ENABLE_REPORTS", true)
	v.SetDefault("REPORTS_STORAGE_DIR", "./reports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
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
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreTimescale = "timescale"
	StoreSQLite    = "sqlite"

	DedupMemory = "memory"
	DedupRedis  = "redis"
)

type Config struct {
	// HTTP
	HTTPAddr string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Backends
	StoreBackend string
	SQLitePath   string
	DedupBackend string

	// MQTT notifier, disabled when the broker is empty
	MQTTBroker    string
	MQTTClientID  string
	MQTTTopicRoot string

	// Telemetry access
	TelemetryQPS           float64
	TelemetryBurst         int
	FeedBatchLimit         int
	ResyncLookbackMinutes  int
	RegistryRefreshMinutes int

	// Historical analysis
	MaxAnalysisDays int

	// Auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string

	// Logging
	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"HTTP_ADDR":                ":8002",
	"DB_HOST":                  "localhost",
	"DB_PORT":                  "5432",
	"DB_USER":                  "fleet_user",
	"DB_PASSWORD":              "fleet_password",
	"DB_NAME":                  "fleet_monitor",
	"DB_MAX_CONNS":             10,
	"REDIS_ADDR":               "localhost:6379",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"STORE_BACKEND":            StoreTimescale,
	"SQLITE_PATH":              "fueltheft.db",
	"DEDUP_BACKEND":            DedupMemory,
	"MQTT_BROKER":              "",
	"MQTT_CLIENT_ID":           "fueltheft",
	"MQTT_TOPIC_ROOT":          "fleet",
	"TELEMETRY_QPS":            20.0,
	"TELEMETRY_BURST":          5,
	"FEED_BATCH_LIMIT":         5000,
	"RESYNC_LOOKBACK_MINUTES":  120,
	"REGISTRY_REFRESH_MINUTES": 15,
	"MAX_ANALYSIS_DAYS":        30,
	"AUTH_CACHE_TTL_SECONDS":   300,
	"VALID_API_KEYS":           "",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "console",
}

// Load reads the environment, after merging a .env file from the working
// directory when one exists. Variables already set win over the file.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	return &Config{
		HTTPAddr:               v.GetString("HTTP_ADDR"),
		DBHost:                 v.GetString("DB_HOST"),
		DBPort:                 v.GetString("DB_PORT"),
		DBUser:                 v.GetString("DB_USER"),
		DBPassword:             v.GetString("DB_PASSWORD"),
		DBName:                 v.GetString("DB_NAME"),
		DBMaxConns:             v.GetInt32("DB_MAX_CONNS"),
		RedisAddr:              v.GetString("REDIS_ADDR"),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		StoreBackend:           strings.ToLower(v.GetString("STORE_BACKEND")),
		SQLitePath:             v.GetString("SQLITE_PATH"),
		DedupBackend:           strings.ToLower(v.GetString("DEDUP_BACKEND")),
		MQTTBroker:             v.GetString("MQTT_BROKER"),
		MQTTClientID:           v.GetString("MQTT_CLIENT_ID"),
		MQTTTopicRoot:          v.GetString("MQTT_TOPIC_ROOT"),
		TelemetryQPS:           v.GetFloat64("TELEMETRY_QPS"),
		TelemetryBurst:         v.GetInt("TELEMETRY_BURST"),
		FeedBatchLimit:         v.GetInt("FEED_BATCH_LIMIT"),
		ResyncLookbackMinutes:  v.GetInt("RESYNC_LOOKBACK_MINUTES"),
		RegistryRefreshMinutes: v.GetInt("REGISTRY_REFRESH_MINUTES"),
		MaxAnalysisDays:        v.GetInt("MAX_ANALYSIS_DAYS"),
		AuthCacheTTLSeconds:    v.GetInt("AUTH_CACHE_TTL_SECONDS"),
		ValidAPIKeys:           splitList(v.GetString("VALID_API_KEYS")),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
	}
}

// Validate rejects unknown backends and non-positive limits.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreTimescale, StoreSQLite:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreTimescale, StoreSQLite, c.StoreBackend)
	}
	switch c.DedupBackend {
	case DedupMemory, DedupRedis:
	default:
		return fmt.Errorf("DEDUP_BACKEND must be %q or %q, got %q", DedupMemory, DedupRedis, c.DedupBackend)
	}
	if c.FeedBatchLimit <= 0 {
		return fmt.Errorf("FEED_BATCH_LIMIT must be positive, got %d", c.FeedBatchLimit)
	}
	if c.MaxAnalysisDays <= 0 {
		return fmt.Errorf("MAX_ANALYSIS_DAYS must be positive, got %d", c.MaxAnalysisDays)
	}
	return nil
}

// DatabaseURL is the pgx connection string for the Timescale store.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}

func (c *Config) ResyncLookback() time.Duration {
	return time.Duration(c.ResyncLookbackMinutes) * time.Minute
}

func (c *Config) RegistryRefresh() time.Duration {
	return time.Duration(c.RegistryRefreshMinutes) * time.Minute
}

func (c *Config) MaxAnalysisSpan() time.Duration {
	return time.Duration(c.MaxAnalysisDays) * 24 * time.Hour
}

func (c *Config) AuthCacheTTL() time.Duration {
	return time.Duration(c.AuthCacheTTLSeconds) * time.Second
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

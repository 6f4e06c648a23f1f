/*
Package config loads server configuration from the environment.

PURPOSE:
  One place that knows about environment variables. A .env file is loaded
  when present (godotenv) so local development does not need exported
  shell state; real environments set variables directly.

BACKENDS:
  STORE_BACKEND selects the profile store:
    memory  In-process store with change notifications (dev, tests)
    sqlite  Embedded file store, no change feed
    mongo   Remote store with change-stream subscriptions
*/
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Store    StoreConfig
	Redis    RedisConfig
	Security SecurityConfig
	Rules    RulesConfig
}

type AppConfig struct {
	Port      int
	LogLevel  string
	LogJSON   bool
	SweepEach time.Duration
}

type StoreConfig struct {
	Backend    string // memory | sqlite | mongo
	SQLitePath string
	MongoURI   string
	MongoDB    string
}

type RedisConfig struct {
	Addr     string // empty disables the catalog cache
	Password string
	DB       int
}

type SecurityConfig struct {
	JWTSecret string
}

type RulesConfig struct {
	AdminIDs []string
}

// Load reads the environment, after loading .env when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		App: AppConfig{
			Port:      getEnvAsInt("APP_PORT", 8080),
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogJSON:   getEnvAsBool("LOG_JSON", false),
			SweepEach: getEnvAsDuration("TIER_SWEEP_INTERVAL", 1*time.Hour),
		},
		Store: StoreConfig{
			Backend:    getEnv("STORE_BACKEND", "sqlite"),
			SQLitePath: getEnv("SQLITE_PATH", "loyalty.db"),
			MongoURI:   getEnv("MONGO_URI", "mongodb://localhost:27017"),
			MongoDB:    getEnv("MONGO_DATABASE", "loyalty"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-only-secret"),
		},
		Rules: RulesConfig{
			AdminIDs: getEnvAsSlice("ADMIN_MEMBER_IDS", nil),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

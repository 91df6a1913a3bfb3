package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr string
	AdminToken string

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	DedupTTL    time.Duration
	GracePeriod time.Duration

	RateLimitCapacity   int
	RateLimitRefill     float64
	RateLimitFailClosed bool

	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryMax         time.Duration
	OutboundTimeout  time.Duration
}

func FromEnv() Config {
	return Config{
		ListenAddr:          envDefault("TIMEFLOW_LISTEN_ADDR", ":8080"),
		AdminToken:          os.Getenv("TIMEFLOW_ADMIN_TOKEN"),
		DatabaseDSN:         os.Getenv("TIMEFLOW_DATABASE_DSN"),
		RedisAddr:           os.Getenv("TIMEFLOW_REDIS_ADDR"),
		RedisPassword:       os.Getenv("TIMEFLOW_REDIS_PASSWORD"),
		RedisDB:             envInt("TIMEFLOW_REDIS_DB", 0),
		DedupTTL:            envDuration("TIMEFLOW_DEDUP_TTL", 24*time.Hour),
		GracePeriod:         envDuration("TIMEFLOW_CREDENTIAL_GRACE", time.Hour),
		RateLimitCapacity:   envInt("TIMEFLOW_RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:     envFloat("TIMEFLOW_RATE_LIMIT_REFILL", 10),
		RateLimitFailClosed: envBool("TIMEFLOW_RATE_LIMIT_FAIL_CLOSED", false),
		RetryMaxAttempts:    envInt("TIMEFLOW_RETRY_MAX_ATTEMPTS", 3),
		RetryBase:           envDuration("TIMEFLOW_RETRY_BASE", 200*time.Millisecond),
		RetryMax:            envDuration("TIMEFLOW_RETRY_MAX", 2*time.Second),
		OutboundTimeout:     envDuration("TIMEFLOW_OUTBOUND_TIMEOUT", 10*time.Second),
	}
}

func envDefault(key, def string) string {
	value := os.Getenv(key)
	if value == "" {
		return def
	}
	return value
}

func envInt(key string, def int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return value
}

func envFloat(key string, def float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return value
}

func envBool(key string, def bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return value
}

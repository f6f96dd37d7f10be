package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	RedisAddr   string
	RedisDB     int
	ServerAddr  string

	SessionTTL          time.Duration
	FallbackWindow      time.Duration
	GuestFallbackWindow time.Duration
	DedupTTL            time.Duration
	DedupThrottle       time.Duration
	ReaperInterval      time.Duration
	PurgeGrace          time.Duration

	FindRateLimitRPM int
	MigrationsDir    string
	LogLevel         string

	// BotSelectionRule is an optional boolean expression filtering bot
	// candidates, e.g. "bot_rating >= player_rating - 200".
	BotSelectionRule string
}

// Load reads configuration from environment. Empty DATABASE_URL selects
// the in-memory session store; empty REDIS_ADDR selects the in-process
// admission store.
func Load() (*Config, error) {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		RedisDB:     parseInt(getenv("REDIS_DB", "0"), 0),
		ServerAddr:  getenv("SERVER_ADDR", "0.0.0.0:8080"),

		SessionTTL:          parseDuration(getenv("SESSION_TTL", "20m"), 20*time.Minute),
		FallbackWindow:      parseDuration(getenv("FALLBACK_WINDOW", "10s"), 10*time.Second),
		GuestFallbackWindow: parseDuration(getenv("GUEST_FALLBACK_WINDOW", "2s"), 2*time.Second),
		DedupTTL:            parseDuration(getenv("DEDUP_TTL", "30s"), 30*time.Second),
		DedupThrottle:       parseDuration(getenv("DEDUP_THROTTLE", "3s"), 3*time.Second),
		ReaperInterval:      parseDuration(getenv("REAPER_INTERVAL", "5s"), 5*time.Second),
		PurgeGrace:          parseDuration(getenv("PURGE_GRACE", "1h"), time.Hour),

		FindRateLimitRPM: parseInt(getenv("FIND_RATE_LIMIT_RPM", "60"), 60),
		MigrationsDir:    getenv("MIGRATIONS_DIR", "internal/migrations"),
		LogLevel:         getenv("LOG_LEVEL", "info"),

		BotSelectionRule: os.Getenv("BOT_SELECTION_RULE"),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

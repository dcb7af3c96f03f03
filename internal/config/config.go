package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the bot and its HTTP surface.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogNoColor       bool

	DiscordToken     string
	CommandPrefix    string
	UserCommandRate  float64
	UserCommandBurst int

	AIProvider       string
	ChatPreset       string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AIModel          string
	AISummaryModel   string
	AIDigestModel    string
	AIImageModel     string
	AIImageSize      string
	AIInstructions   string
	AIWebSearch      bool
	AIRequestTimeout time.Duration

	CompactThreshold int
	ImageDailyLimit  int
	UsageTimezone    string
	UsageLocation    *time.Location
	ResetConfirmTTL  time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBAcquireTimeout time.Duration
	DBConnectRetries int

	// RedisURL is optional; without it pending resets live in process memory.
	RedisURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "zhenhai"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		DiscordToken:     stringsTrimSpace("DISCORD_TOKEN"),
		CommandPrefix:    envOrDefault("BOT_COMMAND_PREFIX", "!"),
		UserCommandRate:  0.5,
		UserCommandBurst: 3,
		AIProvider:       strings.ToLower(envOrDefault("AI_PROVIDER", "responses")),
		ChatPreset:       strings.ToLower(envOrDefault("CHAT_PROVIDER_PRESET", "openai")),
		OpenAIAPIKey:     stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:    stringsTrimSpace("OPENAI_BASE_URL"),
		AIModel:          stringsTrimSpace("AI_MODEL"),
		AISummaryModel:   stringsTrimSpace("AI_SUMMARY_MODEL"),
		AIDigestModel:    envOrDefault("AI_DIGEST_MODEL", "gpt-4o-mini"),
		AIImageModel:     envOrDefault("AI_IMAGE_MODEL", "gpt-4.1"),
		AIImageSize:      envOrDefault("AI_IMAGE_SIZE", "1024x1024"),
		AIInstructions:   os.Getenv("AI_INSTRUCTIONS"),
		AIRequestTimeout: 2 * time.Minute,
		// The summarizer runs on the turn after this many exchanges.
		CompactThreshold: 10,
		ImageDailyLimit:  15,
		UsageTimezone:    stringsTrimSpace("USAGE_TIMEZONE"),
		ResetConfirmTTL:  5 * time.Minute,
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		DBMaxConns:       10,
		DBMinConns:       1,
		DBAcquireTimeout: 5 * time.Second,
		DBConnectRetries: 3,
		RedisURL:         stringsTrimSpace("REDIS_URL"),
		ShutdownTimeout:  15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.LogNoColor, err = boolFromEnv("LOG_NO_COLOR", cfg.LogNoColor)
	if err != nil {
		return Config{}, err
	}
	cfg.UserCommandRate, err = floatFromEnv("BOT_USER_RATE", cfg.UserCommandRate)
	if err != nil {
		return Config{}, err
	}
	cfg.UserCommandBurst, err = intFromEnv("BOT_USER_BURST", cfg.UserCommandBurst)
	if err != nil {
		return Config{}, err
	}
	cfg.AIWebSearch, err = boolFromEnv("AI_WEB_SEARCH", cfg.AIWebSearch)
	if err != nil {
		return Config{}, err
	}
	cfg.AIRequestTimeout, err = durationFromEnv("AI_REQUEST_TIMEOUT", cfg.AIRequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompactThreshold, err = intFromEnv("MEMORY_COMPACT_THRESHOLD", cfg.CompactThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.ImageDailyLimit, err = intFromEnv("IMAGE_DAILY_LIMIT", cfg.ImageDailyLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.ResetConfirmTTL, err = durationFromEnv("RESET_CONFIRM_TTL", cfg.ResetConfirmTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.DBMaxConns, err = intFromEnv("DB_MAX_CONNS", cfg.DBMaxConns)
	if err != nil {
		return Config{}, err
	}
	cfg.DBMinConns, err = intFromEnv("DB_MIN_CONNS", cfg.DBMinConns)
	if err != nil {
		return Config{}, err
	}
	cfg.DBAcquireTimeout, err = durationFromEnv("DB_ACQUIRE_TIMEOUT", cfg.DBAcquireTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DBConnectRetries, err = intFromEnv("DB_CONNECT_RETRIES", cfg.DBConnectRetries)
	if err != nil {
		return Config{}, err
	}

	cfg.UsageLocation = time.Local
	if cfg.UsageTimezone != "" {
		cfg.UsageLocation, err = time.LoadLocation(cfg.UsageTimezone)
		if err != nil {
			return Config{}, fmt.Errorf("USAGE_TIMEZONE parse error: %w", err)
		}
	}

	switch cfg.AIProvider {
	case "responses", "chat", "mock":
	default:
		return Config{}, fmt.Errorf("AI_PROVIDER must be one of responses|chat|mock")
	}
	if cfg.CompactThreshold < 1 {
		return Config{}, fmt.Errorf("MEMORY_COMPACT_THRESHOLD must be positive")
	}
	if cfg.ImageDailyLimit < 0 {
		return Config{}, fmt.Errorf("IMAGE_DAILY_LIMIT must be >= 0")
	}
	if cfg.ResetConfirmTTL < 10*time.Second {
		return Config{}, fmt.Errorf("RESET_CONFIRM_TTL must be at least 10s")
	}
	if cfg.DBMaxConns <= 0 || cfg.DBMinConns < 0 || cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS (> 0)")
	}
	if cfg.DBAcquireTimeout <= 0 {
		return Config{}, fmt.Errorf("DB_ACQUIRE_TIMEOUT must be positive")
	}
	if cfg.UserCommandRate <= 0 || cfg.UserCommandBurst <= 0 {
		return Config{}, fmt.Errorf("BOT_USER_RATE and BOT_USER_BURST must be positive")
	}
	if strings.TrimSpace(cfg.CommandPrefix) == "" {
		return Config{}, fmt.Errorf("BOT_COMMAND_PREFIX must not be blank")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

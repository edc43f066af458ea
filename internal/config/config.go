package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	LogFormat   string
	Environment string

	Feed    FeedConfig
	Breaker BreakerConfig
}

// FeedConfig tunes ranking and the feed endpoint.
type FeedConfig struct {
	DefaultPageSize int
	MaxPageSize     int
	CandidatePool   int
	RankingTimeout  time.Duration
	// CacheTTL is how long a rendered feed is served from Redis. Zero
	// disables the cache.
	CacheTTL time.Duration

	WeightContent   float64
	WeightAuthor    float64
	WeightFollowing float64
	WeightRecency   float64
	WeightReaction  float64
}

type BreakerConfig struct {
	FailureRatio float64
	Timeout      time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first outside production; real environment variables
// win over it.
func Load() (*Config, error) {
	if !strings.EqualFold(os.Getenv("ENVIRONMENT"), "production") {
		_ = godotenv.Load()
	}

	var problems []string
	intVar := func(key string, def int) int {
		v, err := getEnvInt(key, def)
		if err != nil {
			problems = append(problems, err.Error())
		}
		return v
	}
	floatVar := func(key string, def float64) float64 {
		v, err := getEnvFloat(key, def)
		if err != nil {
			problems = append(problems, err.Error())
		}
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		v, err := getEnvDuration(key, def)
		if err != nil {
			problems = append(problems, err.Error())
		}
		return v
	}

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", "postgres://localhost/chirpfeed?sslmode=disable"),
		RedisURL:    os.Getenv("REDIS_URL"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "text"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		Feed: FeedConfig{
			DefaultPageSize: intVar("FEED_DEFAULT_PAGE_SIZE", 20),
			MaxPageSize:     intVar("FEED_MAX_PAGE_SIZE", 100),
			CandidatePool:   intVar("FEED_CANDIDATE_POOL", 200),
			RankingTimeout:  durationVar("RANKING_TIMEOUT", 2*time.Second),
			CacheTTL:        durationVar("FEED_CACHE_TTL", 30*time.Second),
			WeightContent:   floatVar("FEED_WEIGHT_CONTENT", 0.30),
			WeightAuthor:    floatVar("FEED_WEIGHT_AUTHOR", 0.25),
			WeightFollowing: floatVar("FEED_WEIGHT_FOLLOWING", 0.10),
			WeightRecency:   floatVar("FEED_WEIGHT_RECENCY", 0.15),
			WeightReaction:  floatVar("FEED_WEIGHT_REACTION", 0.20),
		},
		Breaker: BreakerConfig{
			FailureRatio: floatVar("STORE_BREAKER_FAILURE_RATIO", 0.6),
			Timeout:      durationVar("STORE_BREAKER_TIMEOUT", 30*time.Second),
		},
	}

	if len(problems) > 0 {
		return nil, errors.New(problems[0])
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}

	if c.RedisURL != "" && !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
		problems = append(problems, "REDIS_URL must start with 'redis://' or 'rediss://'")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if c.Feed.DefaultPageSize <= 0 {
		problems = append(problems, "FEED_DEFAULT_PAGE_SIZE must be positive")
	}
	if c.Feed.MaxPageSize < c.Feed.DefaultPageSize {
		problems = append(problems, "FEED_MAX_PAGE_SIZE must not be below FEED_DEFAULT_PAGE_SIZE")
	}
	if c.Feed.CandidatePool <= 0 {
		problems = append(problems, "FEED_CANDIDATE_POOL must be positive")
	}
	if c.Feed.RankingTimeout < 0 || c.Feed.CacheTTL < 0 {
		problems = append(problems, "RANKING_TIMEOUT and FEED_CACHE_TTL must not be negative")
	}

	weights := []struct {
		name  string
		value float64
	}{
		{"FEED_WEIGHT_CONTENT", c.Feed.WeightContent},
		{"FEED_WEIGHT_AUTHOR", c.Feed.WeightAuthor},
		{"FEED_WEIGHT_FOLLOWING", c.Feed.WeightFollowing},
		{"FEED_WEIGHT_RECENCY", c.Feed.WeightRecency},
		{"FEED_WEIGHT_REACTION", c.Feed.WeightReaction},
	}
	for _, w := range weights {
		if w.value < 0 {
			problems = append(problems, fmt.Sprintf("%s must not be negative", w.name))
		}
	}

	if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
		problems = append(problems, "STORE_BREAKER_FAILURE_RATIO must be in (0, 1]")
	}

	if len(problems) > 0 {
		return errors.New(problems[0])
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

// CacheEnabled reports whether rendered feeds should be cached in Redis.
func (c *Config) CacheEnabled() bool {
	return c.RedisURL != "" && c.Feed.CacheTTL > 0
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

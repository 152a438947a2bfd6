package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	GitHubToken         string
	GitHubAPIURL        string
	CacheBackend        string
	RedisURL            string
	DatabaseURL         string
	CacheTTL            time.Duration
	HTTPAddr            string
	UpstreamTimeout     time.Duration
	UpstreamRetries     int
	UpstreamConcurrency int
	RefreshTimeout      time.Duration
	LogLevel            zerolog.Level
	LogPretty           bool
	CORSOrigins         []string
}

// LoadConfig reads an optional .env file and then the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (*Config, error) {
	gitHubToken := getenv("GITHUB_TOKEN")
	if gitHubToken == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN must be set")
	}

	configs := &Config{
		GitHubToken:  gitHubToken,
		GitHubAPIURL: withDefault(getenv("GITHUB_API_URL"), "https://api.github.com/"),
		CacheBackend: strings.ToLower(withDefault(getenv("CACHE_BACKEND"), BackendMemory)),
		RedisURL:     getenv("REDIS_URL"),
		DatabaseURL:  getenv("DATABASE_URL"),
		HTTPAddr:     withDefault(getenv("HTTP_ADDR"), ":8080"),
		CORSOrigins:  strings.Split(withDefault(getenv("CORS_ORIGINS"), "*"), ","),
	}

	switch configs.CacheBackend {
	case BackendMemory:
	case BackendRedis:
		if configs.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL must be set for cache backend %s", BackendRedis)
		}
	case BackendPostgres:
		if configs.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL must be set for cache backend %s", BackendPostgres)
		}
	default:
		return nil, fmt.Errorf("invalid CACHE_BACKEND %q, use memory, redis or postgres", configs.CacheBackend)
	}

	for i, origin := range configs.CORSOrigins {
		configs.CORSOrigins[i] = strings.TrimSpace(origin)
	}

	var err error
	if configs.CacheTTL, err = parseDuration(getenv, "CACHE_TTL", 0); err != nil {
		return nil, err
	}
	if configs.UpstreamTimeout, err = parseDuration(getenv, "UPSTREAM_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if configs.UpstreamRetries, err = parseInt(getenv, "UPSTREAM_RETRIES", 3, 0); err != nil {
		return nil, err
	}
	if configs.UpstreamConcurrency, err = parseInt(getenv, "UPSTREAM_CONCURRENCY", 8, 1); err != nil {
		return nil, err
	}
	if configs.RefreshTimeout, err = parseDuration(getenv, "REFRESH_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}

	configs.LogLevel = zerolog.InfoLevel
	if level := getenv("LOG_LEVEL"); level != "" {
		configs.LogLevel, err = zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	if pretty := getenv("LOG_PRETTY"); pretty != "" {
		configs.LogPretty, err = strconv.ParseBool(pretty)
		if err != nil {
			return nil, fmt.Errorf("invalid LOG_PRETTY: %w", err)
		}
	}

	return configs, nil
}

// SetupLogging configures the global zerolog logger.
func (c *Config) SetupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(c.LogLevel)

	var out io.Writer = os.Stderr
	if c.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(getenv func(string) string, name string, fallback time.Duration) (time.Duration, error) {
	value := getenv(name)
	if value == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

func parseInt(getenv func(string) string, name string, fallback, min int) (int, error) {
	value := getenv(name)
	if value == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n < min {
		return 0, fmt.Errorf("%s must be at least %d", name, min)
	}
	return n, nil
}

// Package config handles client configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults.
const (
	DefaultHost           = "http://127.0.0.1:8000"
	DefaultTimeout        = 10 * time.Second
	DefaultCacheTTL       = 5 * time.Minute
	DefaultRefreshAfter   = 30 * time.Second
	DefaultRateLimitRPS   = 20
	DefaultRateLimitBurst = 40
	DefaultAssistantPoll  = 30 * time.Second
	DefaultCallbackAddr   = "127.0.0.1:3000"

	// MinAssistantPoll is the finest interval the poll scheduler supports.
	MinAssistantPoll = time.Second
)

// Config holds the configuration of the LibraAI client.
type Config struct {
	Host     string        // API base URL (default DefaultHost)
	Timeout  time.Duration // per-request timeout
	LogLevel string        // debug, info, warn, error (default "warn")
	Env      string        // "development" (default) or "production"

	// Resource cache
	CacheTTL     time.Duration
	RefreshAfter time.Duration // 0 disables background refresh

	// Outgoing rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	AssistantPoll  time.Duration // assistant health poll interval
	CallbackAddr   string        // listen address for payment processor redirects
	MutationPolicy string        // "queue" (default) or "reject"

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// IsProduction returns true when the client is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables. Unparseable
// values fall back to their default and add a warning.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:           strings.TrimRight(os.Getenv("LIBRA_HOST"), "/"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		CallbackAddr:   os.Getenv("LIBRA_CALLBACK_ADDR"),
		MutationPolicy: strings.ToLower(strings.TrimSpace(os.Getenv("LIBRA_MUTATION_POLICY"))),
	}

	cfg.Timeout = cfg.duration("LIBRA_TIMEOUT", DefaultTimeout)
	cfg.CacheTTL = cfg.duration("LIBRA_CACHE_TTL", DefaultCacheTTL)
	cfg.RefreshAfter = cfg.duration("LIBRA_REFRESH_AFTER", DefaultRefreshAfter)
	cfg.AssistantPoll = cfg.duration("LIBRA_ASSISTANT_POLL", DefaultAssistantPoll)

	// Rate limiting
	cfg.RateLimitRPS = DefaultRateLimitRPS
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.RateLimitRPS = f
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid RATE_LIMIT_RPS %q, using %d", v, DefaultRateLimitRPS))
		}
	}
	cfg.RateLimitBurst = DefaultRateLimitBurst
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitBurst = n
		} else {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid RATE_LIMIT_BURST %q, using %d", v, DefaultRateLimitBurst))
		}
	}

	// Defaults
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	if cfg.CallbackAddr == "" {
		cfg.CallbackAddr = DefaultCallbackAddr
	}
	switch cfg.MutationPolicy {
	case "":
		cfg.MutationPolicy = "queue"
	case "queue", "reject":
	default:
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("unknown LIBRA_MUTATION_POLICY %q, using queue", cfg.MutationPolicy))
		cfg.MutationPolicy = "queue"
	}
	if cfg.AssistantPoll < MinAssistantPoll {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("LIBRA_ASSISTANT_POLL %s is below the %s minimum, using %s", cfg.AssistantPoll, MinAssistantPoll, MinAssistantPoll))
		cfg.AssistantPoll = MinAssistantPoll
	}
	if cfg.RefreshAfter >= cfg.CacheTTL && cfg.RefreshAfter > 0 {
		cfg.Warnings = append(cfg.Warnings, "LIBRA_REFRESH_AFTER is not below LIBRA_CACHE_TTL; background refresh is disabled")
		cfg.RefreshAfter = 0
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("LIBRA_HOST: %w", err)
	}

	return cfg, nil
}

func (c *Config) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s %q, using %s", key, v, def))
		return def
	}
	return d
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Package igasync pulls the user inventory from the upstream identity
// governance platform, scores it, and imports it into the directory.
package igasync

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries connection settings for the governance platform API.
// Everything is read from the environment; only the URL, key, and org are
// required.
type Config struct {
	APIURL         string
	APIKey         string
	OrgID          string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	PageSize       int
	RateLimitDelay time.Duration
}

// ConfigFromEnv builds a Config from IGA_* environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		APIURL:         os.Getenv("IGA_API_URL"),
		APIKey:         os.Getenv("IGA_API_KEY"),
		OrgID:          os.Getenv("IGA_ORG_ID"),
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		PageSize:       100,
		RateLimitDelay: 100 * time.Millisecond,
	}
	var missing []string
	if cfg.APIURL == "" {
		missing = append(missing, "IGA_API_URL")
	}
	if cfg.APIKey == "" {
		missing = append(missing, "IGA_API_KEY")
	}
	if cfg.OrgID == "" {
		missing = append(missing, "IGA_ORG_ID")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("igasync: missing required environment: %v", missing)
	}

	var err error
	if cfg.Timeout, err = envDuration("IGA_TIMEOUT", cfg.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.RetryDelay, err = envDuration("IGA_RETRY_DELAY", cfg.RetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitDelay, err = envDuration("IGA_RATE_LIMIT_DELAY", cfg.RateLimitDelay); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries, err = envInt("IGA_MAX_RETRIES", cfg.MaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.PageSize, err = envInt("IGA_PAGE_SIZE", cfg.PageSize); err != nil {
		return Config{}, err
	}
	if cfg.PageSize < 1 || cfg.PageSize > 1000 {
		return Config{}, errors.New("igasync: IGA_PAGE_SIZE must be between 1 and 1000")
	}
	return cfg, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("igasync: %s: %w", key, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("igasync: %s: %w", key, err)
	}
	return n, nil
}

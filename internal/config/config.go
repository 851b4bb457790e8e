// Package config loads the live-timing service configuration from environment
// variables, optionally seeded from a .env file.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: HTTP server port (default: 8080)
//   - LOG_LEVEL: debug, info, warn or error (default: info)
//   - LOG_FILE: log file path; empty logs to stdout
//   - SHUTDOWN_TIMEOUT: graceful shutdown limit (default: 10s)
//
// Session (optional; without RACE_URL the service waits for POST /api/session):
//   - RACE_URL: race page URL of an Apex or RaceFacer session
//   - SEARCH_TERM: token identifying our team
//   - SEARCH_TYPE: team, driver or kart; empty matches any
//   - UPDATE_INTERVAL: RaceFacer poll interval (default: 2s)
//
// Proxy chain and relay:
//   - RELAY_URL: relay endpoint used first by the poll engine (default: the in-process /api/proxy)
//   - FALLBACK_PROXIES: comma-separated proxy prefixes tried after the relay
//   - RELAY_TIMEOUT: per-attempt timeout through the relay (default: 15s)
//   - FALLBACK_TIMEOUT: per-attempt timeout through a fallback (default: 8s)
//   - RELAY_ALLOWED_HOSTS: comma-separated domains the relay may fetch, subdomains included
//   - RELAY_RATE_LIMIT: relay requests per second (default: 20)
//   - RELAY_BURST: relay burst size (default: 40)
//   - RELAY_TRUSTED_PROXIES: comma-separated IPs or CIDRs whose X-Forwarded-For the relay honours
//
// Redis (optional):
//   - REDIS_ADDRESS: host:port; empty disables publishing
//   - REDIS_PASSWORD, REDIS_DB (0-15), REDIS_CHANNEL (default: live-timing:updates)
//
// API:
//   - LATEST_UPDATE_TTL: how long GET /api/latest serves the last update (default: 5m)
package config

import (
	stderrors "errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"live-timing/internal/common/validation"
	"live-timing/internal/engines"
	"live-timing/internal/engines/racefacer"
)

// Config holds all configuration values of the service
type Config struct {
	Port            int           `env:"PORT" validate:"min=1,max=65535"`
	LogLevel        string        `env:"LOG_LEVEL" validate:"log_level"`
	LogFile         string        `env:"LOG_FILE"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" validate:"gt=0"`

	RaceURL        string        `env:"RACE_URL" validate:"omitempty,race_url"`
	SearchTerm     string        `env:"SEARCH_TERM"`
	SearchType     string        `env:"SEARCH_TYPE" validate:"search_type"`
	UpdateInterval time.Duration `env:"UPDATE_INTERVAL" validate:"gte=100ms"`

	RelayURL            string        `env:"RELAY_URL" validate:"omitempty,url"`
	FallbackProxies     []string      `env:"FALLBACK_PROXIES" validate:"dive,url"`
	RelayTimeout        time.Duration `env:"RELAY_TIMEOUT" validate:"gt=0"`
	FallbackTimeout     time.Duration `env:"FALLBACK_TIMEOUT" validate:"gt=0"`
	RelayAllowedHosts   []string      `env:"RELAY_ALLOWED_HOSTS" validate:"min=1,dive,hostname"`
	RelayRateLimit      float64       `env:"RELAY_RATE_LIMIT" validate:"gt=0"`
	RelayBurst          int           `env:"RELAY_BURST" validate:"min=1"`
	RelayTrustedProxies []string      `env:"RELAY_TRUSTED_PROXIES" validate:"dive,ip|cidr"`

	RedisAddress  string `env:"REDIS_ADDRESS" validate:"omitempty,host_port"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" validate:"min=0,max=15"`
	RedisChannel  string `env:"REDIS_CHANNEL" validate:"required"`

	LatestUpdateTTL time.Duration `env:"LATEST_UPDATE_TTL" validate:"gt=0"`
}

// DefaultAllowedHosts are the provider domains the relay serves
var DefaultAllowedHosts = []string{"racefacer.com", "apex-timing.com"}

// LoadDotEnv seeds the environment from .env style files. Missing files are
// ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load creates a Config from environment variables, using defaults for
// anything unset. Call Validate before use.
func Load() *Config {
	return &Config{
		Port:            getIntEnv("PORT", 8080),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 10*time.Second),

		RaceURL:        getEnv("RACE_URL", ""),
		SearchTerm:     getEnv("SEARCH_TERM", ""),
		SearchType:     strings.ToLower(getEnv("SEARCH_TYPE", "")),
		UpdateInterval: getDurationEnv("UPDATE_INTERVAL", 2*time.Second),

		RelayURL:            getEnv("RELAY_URL", ""),
		FallbackProxies:     getListEnv("FALLBACK_PROXIES", racefacer.DefaultFallbacks),
		RelayTimeout:        getDurationEnv("RELAY_TIMEOUT", racefacer.RelayTimeout),
		FallbackTimeout:     getDurationEnv("FALLBACK_TIMEOUT", racefacer.FallbackTimeout),
		RelayAllowedHosts:   getListEnv("RELAY_ALLOWED_HOSTS", DefaultAllowedHosts),
		RelayRateLimit:      getFloatEnv("RELAY_RATE_LIMIT", 20),
		RelayBurst:          getIntEnv("RELAY_BURST", 40),
		RelayTrustedProxies: getListEnv("RELAY_TRUSTED_PROXIES", nil),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_CHANNEL", "live-timing:updates"),

		LatestUpdateTTL: getDurationEnv("LATEST_UPDATE_TTL", 5*time.Minute),
	}
}

// Validate checks ranges and formats of every field
func (c *Config) Validate() error {
	v := validation.NewCentralizedValidator()
	if err := v.RegisterValidation("race_url", "field '%s' must be an Apex or RaceFacer race URL", func(value string) bool {
		_, err := engines.Detect(value)
		return err == nil
	}); err != nil {
		return err
	}
	return v.ValidateStruct(c)
}

// RelayEndpoint is the relay the poll engine tries first. Without RELAY_URL
// it is this process's own /api/proxy route.
func (c *Config) RelayEndpoint() string {
	if c.RelayURL != "" {
		return c.RelayURL
	}
	return "http://127.0.0.1:" + strconv.Itoa(c.Port) + "/api/proxy"
}

// RedisEnabled reports whether updates are published to Redis
func (c *Config) RedisEnabled() bool {
	return c.RedisAddress != ""
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv returns defaultValue when the variable is unset. An unparsable
// value yields -1 so Validate rejects it instead of silently defaulting.
func getIntEnv(key string, defaultValue int) int {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return -1
	}
	return parsed
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return -1
	}
	return parsed
}

// getDurationEnv accepts Go durations ("1500ms", "2s") and bare seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return -1
}

func getListEnv(key string, defaultValue []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

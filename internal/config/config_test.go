package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-timing/internal/common/errors"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "LOG_FILE", "SHUTDOWN_TIMEOUT",
	"RACE_URL", "SEARCH_TERM", "SEARCH_TYPE", "UPDATE_INTERVAL",
	"RELAY_URL", "FALLBACK_PROXIES", "RELAY_TIMEOUT", "FALLBACK_TIMEOUT",
	"RELAY_ALLOWED_HOSTS", "RELAY_RATE_LIMIT", "RELAY_BURST", "RELAY_TRUSTED_PROXIES",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_CHANNEL",
	"LATEST_UPDATE_TTL",
}

// clearTestEnvVars blanks every variable for the duration of the test
func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearTestEnvVars(t)

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.LogFile)
	assert.Equal(t, 2*time.Second, cfg.UpdateInterval)
	assert.Equal(t, 15*time.Second, cfg.RelayTimeout)
	assert.Equal(t, 8*time.Second, cfg.FallbackTimeout)
	assert.Len(t, cfg.FallbackProxies, 2)
	assert.Equal(t, DefaultAllowedHosts, cfg.RelayAllowedHosts)
	assert.Equal(t, "live-timing:updates", cfg.RedisChannel)
	assert.Equal(t, 5*time.Minute, cfg.LatestUpdateTTL)
	assert.False(t, cfg.RedisEnabled())
	assert.Equal(t, "http://127.0.0.1:8080/api/proxy", cfg.RelayEndpoint())

	require.NoError(t, cfg.Validate())
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("RACE_URL", "https://www.apex-timing.com/live-timing/track/")
	t.Setenv("SEARCH_TYPE", "Kart")
	t.Setenv("UPDATE_INTERVAL", "1.5")
	t.Setenv("FALLBACK_PROXIES", " https://a.example/?u= , ,https://b.example/raw?url=")
	t.Setenv("RELAY_URL", "https://relay.example/api/proxy")
	t.Setenv("REDIS_ADDRESS", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RELAY_TRUSTED_PROXIES", "10.0.0.0/8, 127.0.0.1")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "kart", cfg.SearchType)
	assert.Equal(t, 1500*time.Millisecond, cfg.UpdateInterval)
	assert.Equal(t, []string{"https://a.example/?u=", "https://b.example/raw?url="}, cfg.FallbackProxies)
	assert.Equal(t, "https://relay.example/api/proxy", cfg.RelayEndpoint())
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.RelayTrustedProxies)

	require.NoError(t, cfg.Validate())
}

func TestValidate_Rejects(t *testing.T) {
	for _, tc := range []struct {
		name  string
		key   string
		value string
		field string
	}{
		{"port out of range", "PORT", "70000", "PORT"},
		{"port not a number", "PORT", "http", "PORT"},
		{"unknown provider", "RACE_URL", "https://timing.example.com/race", "RACE_URL"},
		{"bad search type", "SEARCH_TYPE", "car", "SEARCH_TYPE"},
		{"bad interval", "UPDATE_INTERVAL", "soon", "UPDATE_INTERVAL"},
		{"interval too short", "UPDATE_INTERVAL", "10ms", "UPDATE_INTERVAL"},
		{"bad log level", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"redis without port", "REDIS_ADDRESS", "redis", "REDIS_ADDRESS"},
		{"redis db", "REDIS_DB", "16", "REDIS_DB"},
		{"bad fallback", "FALLBACK_PROXIES", "not a url", "FALLBACK_PROXIES"},
		{"bad trusted proxy", "RELAY_TRUSTED_PROXIES", "proxy.local", "RELAY_TRUSTED_PROXIES"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnvVars(t)
			t.Setenv(tc.key, tc.value)

			err := Load().Validate()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SEARCH_TERM=Blue Racing\nLOG_LEVEL=debug\n"), 0o600))
	// godotenv only fills unset variables, and clearTestEnvVars leaves them set but empty.
	require.NoError(t, os.Unsetenv("SEARCH_TERM"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { os.Unsetenv("SEARCH_TERM") })

	cfg := Load()
	assert.Equal(t, "Blue Racing", cfg.SearchTerm)
	assert.Equal(t, "warn", cfg.LogLevel, "existing variables win")
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		prev, ok := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if ok {
				os.Setenv(k, prev)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "SERVER_HTTP_PORT", "GROK_RPM", "RATE_LIMIT_RPM", "MAX_QUEUE_DEPTH", "KAFKA_BROKERS")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 60, cfg.Grok.RPM)
	assert.Equal(t, 60, cfg.RateLimitRPM)
	assert.Equal(t, 10000, cfg.MaxQueueDepth)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	clearEnv(t, "SERVER_HTTP_PORT", "GROK_CIRCUIT_BREAKER_COOLDOWN_SECONDS", "PRE_FILTER_MIN_MESSAGES")
	os.Setenv("SERVER_HTTP_PORT", "9090")
	os.Setenv("GROK_CIRCUIT_BREAKER_COOLDOWN_SECONDS", "30")
	os.Setenv("PRE_FILTER_MIN_MESSAGES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Grok.CircuitBreakerCooldown)
	assert.Equal(t, 5, cfg.PreFilterMinMessages)
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "task_queue", cfg.Topics.Tasks.Name)
	assert.True(t, cfg.Breaker.Enabled)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TASKFLOW_SERVER_HTTP_ADDR", ":9000")
	t.Setenv("TASKFLOW_RATE_LIMIT_ENABLED", "true")
	t.Setenv("TASKFLOW_RATE_LIMIT_RULE_CAPACITY", "5")
	t.Setenv("TASKFLOW_BREAKER_POLICY_OPENSTATETIMEOUT", "10s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.HTTPAddr)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, int64(5), cfg.RateLimit.Rule.Capacity)
	assert.Equal(t, 50.0, cfg.RateLimit.Rule.Rate)
	assert.Equal(t, 10*time.Second, cfg.Breaker.Policy.OpenStateTimeout)
}

func TestValidateRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Rule.Rate = 0
	assert.Error(t, cfg.Validate())
}

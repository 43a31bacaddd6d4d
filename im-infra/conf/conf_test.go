package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type redisSection struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

type retrySection struct {
	MaxRetries   int           `mapstructure:"maxRetries"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

type sampleConfig struct {
	Name    string        `mapstructure:"name"`
	Brokers []string      `mapstructure:"brokers"`
	Redis   redisSection  `mapstructure:"redis"`
	Retry   *retrySection `mapstructure:"retry"`
}

func defaults() *sampleConfig {
	return &sampleConfig{
		Name:    "worker",
		Brokers: []string{"localhost:9092"},
		Redis:   redisSection{Addr: "localhost:6379"},
		Retry:   &retrySection{MaxRetries: 3, PollInterval: 200 * time.Millisecond},
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
redis:
  db: 2
retry:
  pollInterval: 1s
`)
	cfg := defaults()
	require.NoError(t, Load(path, "CONFTEST", cfg))

	assert.Equal(t, "worker", cfg.Name)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.PollInterval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "name: from-file\n")
	t.Setenv("CONFTEST_NAME", "from-env")
	t.Setenv("CONFTEST_REDIS_ADDR", "redis:6380")
	t.Setenv("CONFTEST_RETRY_MAXRETRIES", "7")
	t.Setenv("CONFTEST_BROKERS", "k1:9092,k2:9092")

	cfg := defaults()
	require.NoError(t, Load(path, "CONFTEST", cfg))

	assert.Equal(t, "from-env", cfg.Name)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("CONFTEST_REDIS_DB", "5")
	cfg := defaults()
	require.NoError(t, Load("", "CONFTEST", cfg))
	assert.Equal(t, 5, cfg.Redis.DB)
}

func TestLoadErrors(t *testing.T) {
	assert.Error(t, Load("", "CONFTEST", sampleConfig{}))
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.yaml"), "CONFTEST", defaults()))
}

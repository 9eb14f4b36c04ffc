package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cascadeci/cascade/internal/config"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, config.DefaultAPIPort, cfg.APIPort)
	assert.Equal(t, config.DefaultAPIHost, cfg.APIHost)
	assert.Equal(t, config.DefaultNodeTimeout, cfg.NodeTimeout)
	assert.Equal(t, config.DefaultSweepInterval, cfg.SweepInterval)
	assert.Equal(t, config.DefaultStartWorkers, cfg.StartWorkers)
	assert.Equal(t,
		config.DefaultDeliveryWorkers, cfg.WaitNotify.DeliveryWorkers)
	assert.Equal(t, config.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, config.DefaultAdviseMaxRetries, cfg.Advise.MaxRetries)
	assert.Equal(t,
		config.DefaultNotifyRetention, cfg.WaitNotify.NotifyRetention)
	assert.Equal(t,
		config.DefaultReapInterval, cfg.WaitNotify.ReapInterval)
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.PlanStore.Addr)
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.WaitStore.Addr)
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.RestraintStore.Addr)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name      string
		configMod func(*config.Config)
		expected  error
	}{
		{
			name: "api_port_zero",
			configMod: func(c *config.Config) {
				c.APIPort = 0
			},
			expected: config.ErrInvalidAPIPort,
		},
		{
			name: "api_port_too_high",
			configMod: func(c *config.Config) {
				c.APIPort = 70000
			},
			expected: config.ErrInvalidAPIPort,
		},
		{
			name: "zero_node_timeout",
			configMod: func(c *config.Config) {
				c.NodeTimeout = 0
			},
			expected: config.ErrInvalidNodeTimeout,
		},
		{
			name: "zero_advise_retries",
			configMod: func(c *config.Config) {
				c.Advise.MaxRetries = 0
			},
			expected: config.ErrInvalidAdviseRetries,
		},
		{
			name: "zero_notify_retention",
			configMod: func(c *config.Config) {
				c.WaitNotify.NotifyRetention = 0
			},
			expected: config.ErrInvalidNotifyRetention,
		},
		{
			name: "zero_sweep_interval",
			configMod: func(c *config.Config) {
				c.SweepInterval = 0
			},
			expected: config.ErrInvalidSweepInterval,
		},
		{
			name: "zero_start_workers",
			configMod: func(c *config.Config) {
				c.StartWorkers = 0
			},
			expected: config.ErrInvalidWorkerCount,
		},
		{
			name: "zero_delivery_workers",
			configMod: func(c *config.Config) {
				c.WaitNotify.DeliveryWorkers = 0
			},
			expected: config.ErrInvalidWorkerCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			tt.configMod(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.expected)
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_HOST", "10.0.0.1")
	t.Setenv("API_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("NODE_TIMEOUT", "2h")
	t.Setenv("SWEEP_INTERVAL", "10s")
	t.Setenv("ADVISE_MAX_RETRIES", "5")
	t.Setenv("START_WORKERS", "16")
	t.Setenv("ARCHIVE_BUCKET_URL", "mem://archives")

	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "10.0.0.1", cfg.APIHost)
	assert.Equal(t, 9090, cfg.APIPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Hour, cfg.NodeTimeout)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, 5, cfg.Advise.MaxRetries)
	assert.Equal(t, 16, cfg.StartWorkers)
	assert.Equal(t, "mem://archives", cfg.ArchiveBucketURL)
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Run("bad_port", func(t *testing.T) {
		t.Setenv("API_PORT", "not-a-number")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})

	t.Run("port_out_of_range", func(t *testing.T) {
		t.Setenv("API_PORT", "90000")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})

	t.Run("bad_duration", func(t *testing.T) {
		t.Setenv("NODE_TIMEOUT", "yesterday")
		cfg := config.NewDefaultConfig()
		assert.Error(t, cfg.LoadFromEnv())
	})
}

func TestStoreLoadFromEnv(t *testing.T) {
	t.Setenv("PLAN_REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("PLAN_REDIS_PASSWORD", "secret123")
	t.Setenv("PLAN_REDIS_DB", "3")
	t.Setenv("PLAN_REDIS_PREFIX", "cascade-test")
	t.Setenv("PLAN_SNAPSHOT_WORKERS", "8")

	cfg := config.NewDefaultConfig()
	assert.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "redis.example.com:6379", cfg.PlanStore.Addr)
	assert.Equal(t, "secret123", cfg.PlanStore.Password)
	assert.Equal(t, 3, cfg.PlanStore.DB)
	assert.Equal(t, "cascade-test", cfg.PlanStore.Prefix)
	assert.Equal(t, 8, cfg.PlanStore.WorkerCount)

	// Other stores keep their defaults
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.WaitStore.Addr)
	assert.Equal(t, config.DefaultRedisEndpoint, cfg.RestraintStore.Addr)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kode4food/timebox"
)

type (
	// Config holds configuration settings for the orchestration core
	Config struct {
		// API Server
		APIHost  string
		APIPort  int
		LogLevel string

		// Stores
		PlanStore      timebox.StoreConfig
		WaitStore      timebox.StoreConfig
		RestraintStore timebox.StoreConfig

		// Advisement
		Advise AdviseConfig

		// Correlation engine
		WaitNotify WaitNotifyConfig

		// Engine
		NodeTimeout     time.Duration
		SweepInterval   time.Duration
		StartWorkers    int
		NodeCacheSize   int
		ShutdownTimeout time.Duration

		// Archival
		ArchiveBucketURL string
	}

	// AdviseConfig bounds adviser-directed recovery
	AdviseConfig struct {
		// MaxRetries caps adviser-directed RETRY directives per node.
		// Exceeding it forces FAILED
		MaxRetries int
	}

	// WaitNotifyConfig tunes the correlation engine
	WaitNotifyConfig struct {
		// NotifyRetention bounds how long a consumed notify response is
		// kept for late wait registrations
		NotifyRetention time.Duration

		// ReapInterval is how often stale notify responses are reaped
		ReapInterval time.Duration

		// DeliveryBatchSize bounds callback deliveries per queue drain
		DeliveryBatchSize int

		// DeliveryWorkers is how many goroutines drain the delivery
		// queue. Per-wait ordering comes from the store's version check,
		// not from the queue
		DeliveryWorkers int
	}
)

const (
	DefaultAPIPort = 8080
	DefaultAPIHost = "0.0.0.0"
	MaxTCPPort     = 65535

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "cascade"
	DefaultRedisDB             = 0
	DefaultSnapshotWorkers     = 4
	DefaultSnapshotQueueSize   = 1000
	DefaultSnapshotSaveTimeout = 30 * time.Second

	DefaultAdviseMaxRetries = 3
	MaxAdviseMaxRetries     = 100

	DefaultNotifyRetention   = 45 * time.Second
	DefaultReapInterval      = 15 * time.Second
	DefaultDeliveryBatchSize = 64
	DefaultDeliveryWorkers   = 4

	DefaultNodeTimeout     = 24 * time.Hour
	DefaultSweepInterval   = 30 * time.Second
	DefaultStartWorkers    = 8
	DefaultNodeCacheSize   = 4096
	DefaultShutdownTimeout = 10 * time.Second

	MaxNodeCacheSize = 1_000_000
	MaxWorkerCount   = 256
)

var (
	ErrInvalidAPIPort         = errors.New("invalid API port")
	ErrInvalidNodeTimeout     = errors.New("node timeout must be positive")
	ErrInvalidAdviseRetries   = errors.New("advise max retries cannot be zero")
	ErrInvalidNotifyRetention = errors.New(
		"notify retention must be positive",
	)
	ErrInvalidSweepInterval = errors.New("sweep interval must be positive")
	ErrInvalidWorkerCount   = errors.New("worker count must be positive")
)

// NewDefaultConfig creates a configuration with sensible defaults for all
// engine settings, stores, and advisement behavior
func NewDefaultConfig() *Config {
	return &Config{
		APIPort:  DefaultAPIPort,
		APIHost:  DefaultAPIHost,
		LogLevel: "info",
		PlanStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		WaitStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		RestraintStore: timebox.StoreConfig{
			Addr:         DefaultRedisEndpoint,
			Password:     "",
			DB:           DefaultRedisDB,
			Prefix:       DefaultRedisPrefix,
			WorkerCount:  DefaultSnapshotWorkers,
			MaxQueueSize: DefaultSnapshotQueueSize,
			SaveTimeout:  DefaultSnapshotSaveTimeout,
		},
		Advise: AdviseConfig{
			MaxRetries: DefaultAdviseMaxRetries,
		},
		WaitNotify: WaitNotifyConfig{
			NotifyRetention:   DefaultNotifyRetention,
			ReapInterval:      DefaultReapInterval,
			DeliveryBatchSize: DefaultDeliveryBatchSize,
			DeliveryWorkers:   DefaultDeliveryWorkers,
		},
		NodeTimeout:     DefaultNodeTimeout,
		SweepInterval:   DefaultSweepInterval,
		StartWorkers:    DefaultStartWorkers,
		NodeCacheSize:   DefaultNodeCacheSize,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// LoadFromEnv populates configuration values from environment variables.
// Returns an error if any env var cannot be parsed
func (c *Config) LoadFromEnv() error {
	LoadStoreConfigFromEnv(&c.PlanStore, "PLAN")
	LoadStoreConfigFromEnv(&c.WaitStore, "WAIT")
	LoadStoreConfigFromEnv(&c.RestraintStore, "RESTRAINT")

	if apiHost := os.Getenv("API_HOST"); apiHost != "" {
		c.APIHost = apiHost
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}
	if bucket := os.Getenv("ARCHIVE_BUCKET_URL"); bucket != "" {
		c.ArchiveBucketURL = bucket
	}

	if err := loadEnvInt("API_PORT", &c.APIPort, 0, MaxTCPPort); err != nil {
		return err
	}
	if err := loadEnvInt(
		"NODE_CACHE_SIZE", &c.NodeCacheSize, 0, MaxNodeCacheSize,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"ADVISE_MAX_RETRIES", &c.Advise.MaxRetries, 0, MaxAdviseMaxRetries,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"START_WORKERS", &c.StartWorkers, 0, MaxWorkerCount,
	); err != nil {
		return err
	}
	if err := loadEnvInt(
		"DELIVERY_WORKERS", &c.WaitNotify.DeliveryWorkers, 0, MaxWorkerCount,
	); err != nil {
		return err
	}

	if err := loadEnvDuration("NODE_TIMEOUT", &c.NodeTimeout); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"SWEEP_INTERVAL", &c.SweepInterval,
	); err != nil {
		return err
	}
	if err := loadEnvDuration(
		"NOTIFY_RETENTION", &c.WaitNotify.NotifyRetention,
	); err != nil {
		return err
	}
	return nil
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > MaxTCPPort {
		return fmt.Errorf("%w: %d", ErrInvalidAPIPort, c.APIPort)
	}
	if c.NodeTimeout <= 0 {
		return ErrInvalidNodeTimeout
	}
	if c.Advise.MaxRetries == 0 {
		return ErrInvalidAdviseRetries
	}
	if c.WaitNotify.NotifyRetention <= 0 {
		return ErrInvalidNotifyRetention
	}
	if c.SweepInterval <= 0 {
		return ErrInvalidSweepInterval
	}
	if c.StartWorkers <= 0 || c.WaitNotify.DeliveryWorkers <= 0 {
		return ErrInvalidWorkerCount
	}
	return nil
}

// LoadStoreConfigFromEnv loads Redis store configuration from environment
// variables with the given prefix (e.g., "PLAN" or "WAIT")
func LoadStoreConfigFromEnv(s *timebox.StoreConfig, prefix string) {
	if addr := os.Getenv(prefix + "_REDIS_ADDR"); addr != "" {
		s.Addr = addr
	}
	if password := os.Getenv(prefix + "_REDIS_PASSWORD"); password != "" {
		s.Password = password
	}
	if dbStr := os.Getenv(prefix + "_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			s.DB = db
		}
	}
	if envPrefix := os.Getenv(prefix + "_REDIS_PREFIX"); envPrefix != "" {
		s.Prefix = envPrefix
	}
	if envCount := os.Getenv(prefix + "_SNAPSHOT_WORKERS"); envCount != "" {
		if wc, err := strconv.Atoi(envCount); err == nil && wc >= 0 {
			s.WorkerCount = wc
		}
	}
}

func loadEnvInt(key string, dst *int, min, max int) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	if v <= min || v > max {
		return fmt.Errorf("invalid %s: %d out of range [%d, %d]",
			key, v, min+1, max)
	}
	*dst = v
	return nil
}

func loadEnvDuration(key string, dst *time.Duration) error {
	s := os.Getenv(key)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("invalid %s: %q", key, s)
	}
	*dst = d
	return nil
}

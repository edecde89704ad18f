package cache

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v2"

	"github.com/tiercache/tiercache/internal/policy"
	"github.com/tiercache/tiercache/pkg/errors"
)

// L3 backing medium selectors.
const (
	L3StorageDisk = "disk"
	L3StorageS3   = "s3"
)

// Config enumerates every recognized cache option. Zero values fall back to
// the defaults documented on DefaultConfig; Validate rejects configurations
// that cannot produce a working cache.
type Config struct {
	// L1: in-process tier.
	L1MaxSize int           `yaml:"l1_max_size"`
	L1TTL     time.Duration `yaml:"l1_ttl"`
	L1Enabled bool          `yaml:"l1_enabled"`

	// L2: networked tier (Redis).
	L2MaxSize   int           `yaml:"l2_max_size"`
	L2TTL       time.Duration `yaml:"l2_ttl"`
	L2Enabled   bool          `yaml:"l2_enabled"`
	L2Addr      string        `yaml:"l2_addr"`
	L2Password  string        `yaml:"l2_password"`
	L2DB        int           `yaml:"l2_db"`
	L2PoolSize  int           `yaml:"l2_pool_size"`
	L2KeyPrefix string        `yaml:"l2_key_prefix"`
	// L2OpTimeout bounds every L2 round trip; on timeout only that tier's
	// operation is treated as missed.
	L2OpTimeout time.Duration `yaml:"l2_op_timeout"`
	// L2Client, when non-nil, is used instead of dialing L2Addr.
	L2Client redis.UniversalClient `yaml:"-"`

	// L3: persistent tier.
	L3MaxSize     int           `yaml:"l3_max_size"`
	L3TTL         time.Duration `yaml:"l3_ttl"`
	L3Enabled     bool          `yaml:"l3_enabled"`
	L3Storage     string        `yaml:"l3_storage"` // "disk" or "s3"
	L3Directory   string        `yaml:"l3_directory"`
	L3Compression bool          `yaml:"l3_compression"`
	L3S3          S3Options     `yaml:"l3_s3"`

	// Warming.
	WarmingEnabled      bool          `yaml:"warming_enabled"`
	PreloadSize         int           `yaml:"preload_size"`
	WarmingInterval     time.Duration `yaml:"warming_interval"`
	PopularityThreshold uint64        `yaml:"popularity_threshold"`

	// Eviction.
	EvictionPolicy    string `yaml:"eviction_policy"` // LRU, LFU, FIFO, TTL
	EvictionBatchSize int    `yaml:"eviction_batch_size"`

	// Housekeeping. The L1 sweep runs at CleanupInterval; each slower tier
	// doubles it.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Metrics.
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// S3Options configures the object-storage variant of the L3 tier.
type S3Options struct {
	Bucket    string `yaml:"bucket"`
	KeyPrefix string `yaml:"key_prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	PathStyle bool   `yaml:"path_style"`
}

// DefaultConfig returns the documented defaults: an L1-only cache with LRU
// eviction, small batches, and warming and metrics disabled.
func DefaultConfig() Config {
	return Config{
		L1MaxSize: 1000,
		L1TTL:     5 * time.Minute,
		L1Enabled: true,

		L2MaxSize:   10000,
		L2TTL:       30 * time.Minute,
		L2Addr:      "localhost:6379",
		L2KeyPrefix: "tiercache:",
		L2OpTimeout: 500 * time.Millisecond,

		L3MaxSize:   100000,
		L3TTL:       2 * time.Hour,
		L3Storage:   L3StorageDisk,
		L3Directory: os.TempDir() + "/tiercache",

		PreloadSize:         100,
		WarmingInterval:     time.Minute,
		PopularityThreshold: 5,

		EvictionPolicy:    string(policy.LRU),
		EvictionBatchSize: 5,

		CleanupInterval: time.Minute,
	}
}

// LoadConfig reads a YAML configuration file and overlays it on the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapError(err, errors.ErrCodeInvalidConfig,
			"failed to read config file").WithComponent("cache")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapError(err, errors.ErrCodeInvalidConfig,
			"failed to parse config file").WithComponent("cache")
	}

	return cfg, nil
}

// Validate checks the configuration. A cache must refuse to start on an
// invalid policy name or a non-positive size/TTL for any enabled tier.
func (c *Config) Validate() error {
	if _, err := policy.ParsePolicy(c.EvictionPolicy); err != nil {
		return err
	}

	if c.EvictionBatchSize < 1 {
		return c.validationError("eviction_batch_size must be at least 1")
	}

	if !c.L1Enabled && !c.L2Enabled && !c.L3Enabled {
		return c.validationError("at least one tier must be enabled")
	}

	type tierCheck struct {
		name    string
		enabled bool
		maxSize int
		ttl     time.Duration
	}
	for _, t := range []tierCheck{
		{"l1", c.L1Enabled, c.L1MaxSize, c.L1TTL},
		{"l2", c.L2Enabled, c.L2MaxSize, c.L2TTL},
		{"l3", c.L3Enabled, c.L3MaxSize, c.L3TTL},
	} {
		if !t.enabled {
			continue
		}
		if t.maxSize <= 0 {
			return c.validationError(fmt.Sprintf("%s_max_size must be positive, got %d", t.name, t.maxSize))
		}
		if t.ttl <= 0 {
			return c.validationError(fmt.Sprintf("%s_ttl must be positive, got %v", t.name, t.ttl))
		}
	}

	if c.L3Enabled {
		switch c.L3Storage {
		case L3StorageDisk:
			if c.L3Directory == "" {
				return c.validationError("l3_directory required for disk storage")
			}
		case L3StorageS3:
			if c.L3S3.Bucket == "" {
				return c.validationError("l3_s3.bucket required for s3 storage")
			}
		default:
			return c.validationError("l3_storage must be \"disk\" or \"s3\", got " + c.L3Storage)
		}
	}

	if c.WarmingEnabled {
		if c.PreloadSize < 1 {
			return c.validationError("preload_size must be at least 1 when warming is enabled")
		}
		if c.WarmingInterval <= 0 {
			return c.validationError("warming_interval must be positive when warming is enabled")
		}
	}

	if c.CleanupInterval <= 0 {
		return c.validationError("cleanup_interval must be positive")
	}

	return nil
}

func (c *Config) validationError(msg string) error {
	return errors.NewError(errors.ErrCodeConfigValidation, msg).WithComponent("cache")
}

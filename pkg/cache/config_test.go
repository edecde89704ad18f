package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiercache/tiercache/pkg/errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.L1Enabled)
	assert.False(t, cfg.L2Enabled)
	assert.False(t, cfg.L3Enabled)
	assert.Equal(t, "LRU", cfg.EvictionPolicy)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown policy", func(c *Config) { c.EvictionPolicy = "RANDOM" }},
		{"zero batch size", func(c *Config) { c.EvictionBatchSize = 0 }},
		{"no tiers enabled", func(c *Config) { c.L1Enabled = false }},
		{"non-positive l1 size", func(c *Config) { c.L1MaxSize = 0 }},
		{"negative l1 ttl", func(c *Config) { c.L1TTL = -time.Second }},
		{"l2 enabled with zero size", func(c *Config) { c.L2Enabled = true; c.L2MaxSize = 0 }},
		{"l3 enabled without directory", func(c *Config) {
			c.L3Enabled = true
			c.L3Storage = L3StorageDisk
			c.L3Directory = ""
		}},
		{"l3 s3 without bucket", func(c *Config) {
			c.L3Enabled = true
			c.L3Storage = L3StorageS3
			c.L3S3.Bucket = ""
		}},
		{"l3 unknown storage", func(c *Config) { c.L3Enabled = true; c.L3Storage = "tape" }},
		{"warming without preload size", func(c *Config) { c.WarmingEnabled = true; c.PreloadSize = 0 }},
		{"warming without interval", func(c *Config) { c.WarmingEnabled = true; c.WarmingInterval = 0 }},
		{"zero cleanup interval", func(c *Config) { c.CleanupInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CategoryConfiguration, errors.GetCategory(err.(*errors.CacheError).Code))
		})
	}
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.yaml")
	body := "l1_max_size: 42\neviction_policy: LFU\neviction_batch_size: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.L1MaxSize)
	assert.Equal(t, "LFU", cfg.EvictionPolicy)
	assert.Equal(t, 2, cfg.EvictionBatchSize)
	// Untouched fields keep their defaults.
	assert.Equal(t, 5*time.Minute, cfg.L1TTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("l1_max_size: [not an int"), 0600))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

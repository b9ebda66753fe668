// Package config loads the gateway's process knobs, grounded on the
// teacher's fs/config/configmap (a typed struct plus a generic
// string-keyed override map so unknown keys round-trip) and
// fs/config/configflags (environment variables layered under CLI
// flags). Here the layering is environment variables under an
// optional YAML file, per spec §6's environment knobs list.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds every environment knob spec §6 names, plus an Extra
// map so a YAML file's unrecognized keys still round-trip rather than
// being silently dropped, mirroring configmap's "unknown properties
// preserved" contract for driver configs.
type Config struct {
	ConcurrentTaskCap   int           `yaml:"concurrent_task_cap"`
	PerDriverTaskCap    int           `yaml:"per_driver_task_cap"`
	ChunkSize           int64         `yaml:"chunk_size_bytes"`
	UploadBufferThresh  int64         `yaml:"upload_buffer_threshold_bytes"`
	ListingCacheTTL     time.Duration `yaml:"listing_cache_ttl"`
	ListingCacheSweep   time.Duration `yaml:"listing_cache_sweep"`
	RetryMaxAttempts    int           `yaml:"retry_max_attempts"`
	RetryBaseBackoff    time.Duration `yaml:"retry_base_backoff"`
	OperationTimeout    time.Duration `yaml:"operation_timeout"`
	MountStorePath      string        `yaml:"mount_store_path"`
	LogLevel            string        `yaml:"log_level"`
	LogJSON             bool          `yaml:"log_json"`

	Extra map[string]string `yaml:",inline"`
}

// Default returns the knob values used when neither an environment
// variable nor a config file overrides them.
func Default() Config {
	return Config{
		ConcurrentTaskCap:  16,
		PerDriverTaskCap:   4,
		ChunkSize:          1 << 20, // 1MiB
		UploadBufferThresh: 32 << 20,
		ListingCacheTTL:    30 * time.Second,
		ListingCacheSweep:  time.Minute,
		RetryMaxAttempts:   2,
		RetryBaseBackoff:   500 * time.Millisecond,
		OperationTimeout:   60 * time.Second,
		MountStorePath:     "mounts.json",
		LogLevel:           "notice",
		LogJSON:            false,
	}
}

// Load builds a Config starting from Default, applying filePath's
// YAML content (if filePath is non-empty and exists) and then
// environment variables, the same precedence order as
// configflags (flags beat env beat defaults; here file beats
// defaults and env beats file since env is meant for container
// deployment overrides).
func Load(filePath string) (Config, error) {
	cfg := Default()
	if filePath != "" {
		if err := loadFile(filePath, &cfg); err != nil && !os.IsNotExist(err) {
			return cfg, errors.Wrap(err, "load config file")
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return yaml.NewDecoder(f).Decode(cfg)
}

const envPrefix = "GATEWAYFS_"

func applyEnv(cfg *Config) {
	if v, ok := lookupInt(envPrefix + "CONCURRENT_TASK_CAP"); ok {
		cfg.ConcurrentTaskCap = v
	}
	if v, ok := lookupInt(envPrefix + "PER_DRIVER_TASK_CAP"); ok {
		cfg.PerDriverTaskCap = v
	}
	if v, ok := lookupInt64(envPrefix + "CHUNK_SIZE_BYTES"); ok {
		cfg.ChunkSize = v
	}
	if v, ok := lookupInt64(envPrefix + "UPLOAD_BUFFER_THRESHOLD_BYTES"); ok {
		cfg.UploadBufferThresh = v
	}
	if v, ok := lookupDuration(envPrefix + "LISTING_CACHE_TTL"); ok {
		cfg.ListingCacheTTL = v
	}
	if v, ok := lookupDuration(envPrefix + "LISTING_CACHE_SWEEP"); ok {
		cfg.ListingCacheSweep = v
	}
	if v, ok := lookupInt(envPrefix + "RETRY_MAX_ATTEMPTS"); ok {
		cfg.RetryMaxAttempts = v
	}
	if v, ok := lookupDuration(envPrefix + "RETRY_BASE_BACKOFF"); ok {
		cfg.RetryBaseBackoff = v
	}
	if v, ok := lookupDuration(envPrefix + "OPERATION_TIMEOUT"); ok {
		cfg.OperationTimeout = v
	}
	if v, ok := os.LookupEnv(envPrefix + "MOUNT_STORE_PATH"); ok {
		cfg.MountStorePath = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv(envPrefix + "LOG_JSON"); ok {
		cfg.LogJSON = v == "1" || v == "true"
	}
}

func lookupInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func lookupInt64(key string) (int64, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	return n, err == nil
}

func lookupDuration(key string) (time.Duration, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	return d, err == nil
}

package config

import (
	"fmt"
	"os"

	"github.com/Borislavv/go-dam-cache/model"
	"gopkg.in/yaml.v3"
)

// Cache groups configuration of all cache subsystems.
// Optional components are disabled by setting them to nil.
type Cache struct {
	// Memory configures the bounded in-memory LRU tier. Always enabled.
	Memory MemoryCfg `yaml:"memory"`

	// Persistence configures the single-file durable tier.
	// If nil, the cache runs memory-only.
	Persistence *PersistenceCfg `yaml:"persistence"`

	// Preload configures bulk and scoped warm-up.
	// If nil, defaults are used and nothing is preloaded on start.
	Preload *PreloadCfg `yaml:"preload"`

	// Telemetry configures access sampling, periodic stats logs and Prometheus metrics.
	// If nil, only the rolling sample is kept.
	Telemetry *TelemetryCfg `yaml:"telemetry"`
}

// Default mirrors the production setup: 200k entries in memory, durable file in the temp dir.
func Default() *Cache {
	cfg := &Cache{
		Memory:      MemoryCfg{MaxSize: DefaultMaxSize},
		Persistence: &PersistenceCfg{CompactionRatio: DefaultCompactionRatio},
		Preload:     &PreloadCfg{},
	}
	cfg.AdjustConfig()
	return cfg
}

// AdjustConfig fills defaults and computes derived (non-YAML) fields.
func (cfg *Cache) AdjustConfig() {
	if cfg.Memory.MaxSize <= 0 {
		cfg.Memory.MaxSize = DefaultMaxSize
	}

	if cfg.Persistence.Enabled() {
		cfg.Persistence.ResolvedPath = ResolvePath(cfg.Persistence.Path)
		if cfg.Persistence.CompactionRatio <= 0 || cfg.Persistence.CompactionRatio > 1 {
			cfg.Persistence.CompactionRatio = DefaultCompactionRatio
		}
	}

	if cfg.Preload == nil {
		cfg.Preload = &PreloadCfg{}
	}
	if cfg.Preload.BatchSize <= 0 {
		cfg.Preload.BatchSize = DefaultPreloadBatchSize
	}
	if cfg.Preload.Concurrency <= 0 {
		cfg.Preload.Concurrency = DefaultPreloadConcurrency
	}

	if cfg.Telemetry.Enabled() {
		if cfg.Telemetry.SampleSize <= 0 {
			cfg.Telemetry.SampleSize = DefaultSampleSize
		}
		if cfg.Telemetry.LogsInterval <= 0 {
			cfg.Telemetry.LogsInterval = DefaultLogsInterval
		}
		if cfg.Telemetry.Namespace == "" {
			cfg.Telemetry.Namespace = DefaultNamespace
		}
	}
}

// Validate rejects values that cannot be adjusted into something sensible.
func (cfg *Cache) Validate() error {
	if cfg.Persistence.Enabled() && cfg.Persistence.CompactionInterval < 0 {
		return model.NewErrInvalidConfig("persistence.compaction_interval", cfg.Persistence.CompactionInterval)
	}
	if cfg.Preload != nil {
		if cfg.Preload.Rate < 0 {
			return model.NewErrInvalidConfig("preload.rate", cfg.Preload.Rate)
		}
		if cfg.Preload.Timeout < 0 {
			return model.NewErrInvalidConfig("preload.timeout", cfg.Preload.Timeout)
		}
	}
	if cfg.Telemetry.Enabled() && cfg.Telemetry.SampleSize > MaxSampleSize {
		return model.NewErrInvalidConfig("telemetry.sample_size", cfg.Telemetry.SampleSize)
	}
	return nil
}

func LoadConfig(path string) (*Cache, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config yaml file %s: %w", path, err)
	}

	var cfg *Cache
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml from %s: %w", path, err)
	}
	if cfg == nil {
		cfg = &Cache{}
	}
	cfg.AdjustConfig()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

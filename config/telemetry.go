package config

import "time"

const (
	DefaultSampleSize   = 256
	MaxSampleSize       = 1 << 20
	DefaultLogsInterval = 5 * time.Second
	DefaultNamespace    = "dam_cache"
)

type TelemetryCfg struct {
	// SampleSize is the length of the rolling window of recent access classifications.
	SampleSize int `yaml:"sample_size"`

	// LogsEnabled turns on the periodic stats logger.
	LogsEnabled bool `yaml:"logs_enabled"`

	// LogsInterval is the period of the stats logger.
	LogsInterval time.Duration `yaml:"logs_interval"`

	// Namespace prefixes Prometheus metric names.
	Namespace string `yaml:"namespace"`
}

func (cfg *TelemetryCfg) Enabled() bool {
	return cfg != nil
}

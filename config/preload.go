package config

import "time"

const (
	DefaultPreloadBatchSize   = 1024
	DefaultPreloadConcurrency = 4
)

type PreloadCfg struct {
	// OnStart runs a bulk preload from the persistent tier while the cache is constructed.
	OnStart bool `yaml:"on_start"`

	// BatchSize is the number of entries inserted per memory lock acquisition during bulk preload.
	BatchSize int `yaml:"batch_size"`

	// Concurrency bounds parallel source fetches during a scoped preload.
	Concurrency int `yaml:"concurrency"`

	// Rate limits scoped preload fetches per second. 0 disables pacing.
	Rate int `yaml:"rate"`

	// Timeout is applied to scoped preloads when the caller context has no deadline. 0 disables it.
	Timeout time.Duration `yaml:"timeout"`
}

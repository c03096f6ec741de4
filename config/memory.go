package config

// DefaultMaxSize is the number of entities the memory tier holds before evicting.
const DefaultMaxSize = 200_000

type MemoryCfg struct {
	// MaxSize bounds the number of entries kept in memory.
	// Least recently used entries are evicted once the bound is exceeded.
	MaxSize int `yaml:"max_size"`
}

package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// EnvCachePath overrides PersistenceCfg.Path. It may name a directory or the file itself.
	EnvCachePath = "DAM_CACHE"

	// DefaultFileName is used when the configured path is a directory.
	DefaultFileName = "dam_cache_db"

	// DefaultDirName is created under os.TempDir() when nothing is configured.
	DefaultDirName = "dam_cache"

	DefaultCompactionRatio = 0.5
)

type PersistenceCfg struct {
	// Path is the durable cache file, or a directory that will hold DefaultFileName.
	// Empty means os.TempDir()/dam_cache/dam_cache_db. The DAM_CACHE env var wins over it.
	Path string `yaml:"path"`

	// Snappy compresses stored values. Reads handle both compressed and plain records,
	// so toggling it does not invalidate an existing file.
	Snappy bool `yaml:"snappy"`

	// SyncWrites fsyncs after every write. Off by default: the cache can always refetch.
	SyncWrites bool `yaml:"sync_writes"`

	// CompactionRatio is the dead/total bytes ratio above which the file is rewritten on close.
	CompactionRatio float64 `yaml:"compaction_ratio"`

	// CompactionInterval is how often a background worker checks CompactionRatio while the cache runs.
	// 0 compacts on close only.
	CompactionInterval time.Duration `yaml:"compaction_interval"`

	// ResolvedPath is derived during AdjustConfig and is not read from YAML.
	ResolvedPath string `yaml:"-"`
}

func (cfg *PersistenceCfg) Enabled() bool {
	return cfg != nil
}

// ResolvePath applies the env override and directory/default rules.
func ResolvePath(configured string) string {
	path := configured
	if env := os.Getenv(EnvCachePath); env != "" {
		path = env
	}
	if path == "" {
		return filepath.Join(os.TempDir(), DefaultDirName, DefaultFileName)
	}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		return filepath.Join(path, DefaultFileName)
	}
	return path
}

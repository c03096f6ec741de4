package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Borislavv/go-dam-cache/config"
)

// Cfg is a small persistent setup rooted in the test's temp dir.
func Cfg(t testing.TB, maxSize int) *config.Cache {
	t.Helper()
	t.Setenv(config.EnvCachePath, "")
	c := &config.Cache{
		Memory: config.MemoryCfg{MaxSize: maxSize},
		Persistence: &config.PersistenceCfg{
			Path:            filepath.Join(t.TempDir(), config.DefaultFileName),
			CompactionRatio: 0.5,
		},
		Preload: &config.PreloadCfg{
			BatchSize:   2,
			Concurrency: 4,
			Timeout:     5 * time.Second,
		},
		Telemetry: &config.TelemetryCfg{SampleSize: 64},
	}
	c.AdjustConfig()
	return c
}

// MemoryOnlyCfg disables the persistent tier.
func MemoryOnlyCfg(t testing.TB, maxSize int) *config.Cache {
	c := Cfg(t, maxSize)
	c.Persistence = nil
	return c
}

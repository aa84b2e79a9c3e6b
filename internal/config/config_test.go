package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artifactkit/modelcache/cache"
)

var configVars = []string{
	"MODELCACHE_DIR",
	"MODELCACHE_MAX_SIZE_BYTES",
	"MODELCACHE_MAX_AGE",
	"MODELCACHE_STORAGE",
	"MODELCACHE_COMPRESSION",
	"MODELCACHE_VERIFY_ON_RETRIEVE",
	"MODELCACHE_SWEEP_INTERVAL",
	"MODELCACHE_LISTEN_ADDR",
}

// setupEnv clears the MODELCACHE_* variables and restores them afterwards.
func setupEnv(t *testing.T) {
	t.Helper()
	original := map[string]string{}
	for _, key := range configVars {
		original[key] = os.Getenv(key)
		_ = os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, value := range original {
			if value == "" {
				_ = os.Unsetenv(key)
			} else {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func TestLoadDefaults(t *testing.T) {
	setupEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, int64(524288000), cfg.MaxSize)
	require.Equal(t, 168*time.Hour, cfg.MaxAge)
	require.Equal(t, "bolt", cfg.Storage)
	require.Equal(t, time.Hour, cfg.SweepInterval)
	require.Equal(t, "127.0.0.1:8787", cfg.ListenAddr)
	require.Contains(t, cfg.Dir, ".modelcache")
	require.False(t, cfg.Compression)
	require.False(t, cfg.Verify)
}

func TestLoadFromEnvironment(t *testing.T) {
	setupEnv(t)
	t.Setenv("MODELCACHE_DIR", "/tmp/mc-test")
	t.Setenv("MODELCACHE_MAX_SIZE_BYTES", "1048576")
	t.Setenv("MODELCACHE_MAX_AGE", "24h")
	t.Setenv("MODELCACHE_STORAGE", "blob")
	t.Setenv("MODELCACHE_COMPRESSION", "true")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "/tmp/mc-test", cfg.Dir)
	require.Equal(t, int64(1048576), cfg.MaxSize)
	require.Equal(t, 24*time.Hour, cfg.MaxAge)
	require.Equal(t, "blob", cfg.Storage)
	require.True(t, cfg.Compression)
}

func TestLoadRejectsBadValues(t *testing.T) {
	setupEnv(t)
	t.Setenv("MODELCACHE_DIR", t.TempDir())

	t.Setenv("MODELCACHE_STORAGE", "floppy")
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MODELCACHE_STORAGE")

	t.Setenv("MODELCACHE_STORAGE", "memory")
	t.Setenv("MODELCACHE_MAX_SIZE_BYTES", "-1")
	_, err = Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MODELCACHE_MAX_SIZE_BYTES")
}

func TestCacheConfigConversion(t *testing.T) {
	setupEnv(t)
	t.Setenv("MODELCACHE_DIR", "/tmp/mc-test")
	t.Setenv("MODELCACHE_STORAGE", "memory")
	t.Setenv("MODELCACHE_VERIFY_ON_RETRIEVE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	cc := cfg.CacheConfig()
	require.Equal(t, "/tmp/mc-test", cc.Dir)
	require.Equal(t, cache.StorageMemory, cc.Storage)
	require.True(t, cc.VerifyOnRetrieve)
	require.Equal(t, cfg.MaxSize, cc.MaxSize)
	require.Equal(t, cfg.MaxAge, cc.MaxAge)
}

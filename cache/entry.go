// Package cache provides a content-addressable store for large model
// artifacts with a size/age budget, LRU eviction, background expiration,
// and persisted hit/miss telemetry.
package cache

import (
	"time"
)

// Entry represents a cached artifact with its metadata
type Entry struct {
	ID             string    `json:"id"`
	Payload        []byte    `json:"payload,omitempty"`
	Size           int64     `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	Version        string    `json:"version"`
	Checksum       string    `json:"checksum"`
}

// Age returns how long ago the entry was first stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Expired reports whether the entry exceeds the given age budget.
// A non-positive maxAge disables expiration.
func (e *Entry) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && e.Age(now) > maxAge
}

// clone returns a deep copy so callers can never mutate stored state.
func (e *Entry) clone() *Entry {
	cp := *e
	if e.Payload != nil {
		cp.Payload = make([]byte, len(e.Payload))
		copy(cp.Payload, e.Payload)
	}
	return &cp
}

// StorageKind selects which backend a cache uses.
type StorageKind string

const (
	StorageMemory StorageKind = "memory"
	StorageBolt   StorageKind = "bolt"
	StorageBlob   StorageKind = "blob"
)

// Valid reports whether the kind names a known backend.
func (k StorageKind) Valid() bool {
	switch k {
	case StorageMemory, StorageBolt, StorageBlob:
		return true
	}
	return false
}

// Default budget values
const (
	DefaultMaxSize       = 500 << 20 // 500 MiB
	DefaultMaxAge        = 7 * 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Config holds the cache's tunable settings. MaxSize and MaxAge may be
// changed at runtime via UpdateConfig; Storage and Dir are fixed once a
// cache is opened.
type Config struct {
	// Dir roots the on-disk backends and the persisted stats slot.
	Dir string

	// MaxSize is the byte budget across all live entries.
	MaxSize int64

	// MaxAge is the age past which entries are treated as absent.
	MaxAge time.Duration

	// Storage selects the backend variant.
	Storage StorageKind

	// CompressionEnabled is advisory: payloads are stored as handed to us,
	// compression happens upstream.
	CompressionEnabled bool

	// VerifyOnRetrieve re-checks the payload digest on every read.
	VerifyOnRetrieve bool

	// SweepInterval is how often the background sweeper runs.
	SweepInterval time.Duration
}

// DefaultConfig returns a config with the standard budgets applied.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:           dir,
		MaxSize:       DefaultMaxSize,
		MaxAge:        DefaultMaxAge,
		Storage:       StorageBolt,
		SweepInterval: DefaultSweepInterval,
	}
}

func (c *Config) applyDefaults() {
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxAge == 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Storage == "" {
		c.Storage = StorageMemory
	}
}

// ConfigUpdate is a partial config change; nil fields are left untouched.
type ConfigUpdate struct {
	MaxSize            *int64
	MaxAge             *time.Duration
	Storage            *StorageKind
	CompressionEnabled *bool
	VerifyOnRetrieve   *bool
}

// Stats is a point-in-time snapshot of the cache's counters.
type Stats struct {
	TotalSize     int64 `json:"total_size"`
	EntryCount    int64 `json:"entry_count"`
	HitCount      int64 `json:"hit_count"`
	MissCount     int64 `json:"miss_count"`
	EvictionCount int64 `json:"eviction_count"`
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// MissRate returns 1 - HitRate, or 0 before any lookup.
func (s Stats) MissRate() float64 {
	if s.HitCount+s.MissCount == 0 {
		return 0
	}
	return 1 - s.HitRate()
}

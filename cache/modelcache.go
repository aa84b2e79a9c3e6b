package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ModelCache is the facade over a storage backend, the eviction policy, the
// integrity checker, and the stats tracker. Construct one with Open at the
// application's composition root and share it by reference; there is no
// package-level instance.
type ModelCache struct {
	mu      sync.Mutex
	backend StorageBackend
	active  StorageKind
	cfg     Config
	stats   *statsTracker
	log     zerolog.Logger
	closed  bool

	// now is swapped out by tests to control expiry.
	now func() time.Time

	stop chan struct{}
	done chan struct{}
}

// Open builds a cache from cfg. If the preferred backend cannot initialize,
// it logs a warning and falls back to the in-memory variant for the rest of
// the process lifetime; the fallback is never reversed. Counters are
// restored from the persisted slot and size/count are reconciled against a
// backend scan before the cache is handed out.
func Open(cfg Config, logger zerolog.Logger) (*ModelCache, error) {
	cfg.applyDefaults()
	if !cfg.Storage.Valid() {
		return nil, fmt.Errorf("cache: unknown storage kind %q", cfg.Storage)
	}
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("cache: max size must be positive, got %d", cfg.MaxSize)
	}

	backend, active, err := openBackend(cfg)
	if err != nil {
		unavailable := &BackendUnavailableError{Kind: cfg.Storage, Err: err}
		logger.Warn().Err(unavailable).Msg("preferred backend unavailable, falling back to memory")
		backend, active = NewMemoryBackend(), StorageMemory
	}

	slot, err := statsSlotFor(backend, cfg)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	c := &ModelCache{
		backend: backend,
		active:  active,
		cfg:     cfg,
		stats:   newStatsTracker(slot),
		log:     logger.With().Str("component", "modelcache").Str("storage", string(active)).Logger(),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	ctx := context.Background()
	if err := c.stats.load(ctx); err != nil {
		c.log.Warn().Err(err).Msg("could not restore persisted stats, starting fresh")
	}
	if err := c.reconcile(ctx); err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("cache: startup reconciliation: %w", err)
	}

	go c.runSweeper()
	return c, nil
}

func openBackend(cfg Config) (StorageBackend, StorageKind, error) {
	switch cfg.Storage {
	case StorageBolt:
		b, err := NewBoltBackend(cfg.Dir)
		if err != nil {
			return nil, "", err
		}
		return b, StorageBolt, nil
	case StorageBlob:
		b, err := NewBlobBackend(cfg.Dir)
		if err != nil {
			return nil, "", err
		}
		return b, StorageBlob, nil
	default:
		return NewMemoryBackend(), StorageMemory, nil
	}
}

// statsSlotFor prefers a backend-native slot, then the stats file under the
// cache dir, then a memory-only slot when no dir was given.
func statsSlotFor(backend StorageBackend, cfg Config) (StatsSlot, error) {
	if slot, ok := backend.(StatsSlot); ok {
		return slot, nil
	}
	if cfg.Dir != "" {
		return newFileStatsSlot(cfg.Dir)
	}
	return &memoryStatsSlot{}, nil
}

// reconcile rebuilds TotalSize and EntryCount from a full backend scan.
// Hit/miss/eviction history is kept as loaded; size and count always track
// what the backend actually holds.
func (c *ModelCache) reconcile(ctx context.Context) error {
	entries, err := c.backend.List(ctx)
	if err != nil {
		return err
	}
	var size int64
	for _, e := range entries {
		size += e.Size
	}
	count := int64(len(entries))
	return c.stats.update(ctx, func(s *Stats) {
		s.TotalSize = size
		s.EntryCount = count
	})
}

// ActiveStorage reports the backend actually serving, which differs from the
// configured kind after a fallback.
func (c *ModelCache) ActiveStorage() StorageKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Store persists a payload under id, evicting least-recently-used entries if
// the budget is short. It returns a *CapacityError when the payload alone
// exceeds MaxSize; the cache is left unchanged in that case. Storing an
// existing id replaces the payload but keeps the original creation time.
func (c *ModelCache) Store(ctx context.Context, id string, payload []byte, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	size := int64(len(payload))
	maxSize := c.cfg.MaxSize
	if size > maxSize {
		return &CapacityError{Size: size, Limit: maxSize}
	}

	prev, replacing, err := c.backend.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("cache: store %s: %w", id, err)
	}

	var prevSize int64
	if replacing {
		prevSize = prev.Size
	}
	if err := c.ensureSpace(ctx, size-prevSize, id); err != nil {
		return err
	}

	now := c.now()
	e := &Entry{
		ID:             id,
		Payload:        payload,
		Size:           size,
		CreatedAt:      now,
		LastAccessedAt: now,
		Version:        version,
		Checksum:       Checksum(payload),
	}
	if replacing {
		e.CreatedAt = prev.CreatedAt
	}
	if err := c.backend.Put(ctx, e); err != nil {
		return fmt.Errorf("cache: store %s: %w", id, err)
	}

	c.updateStats(ctx, func(s *Stats) {
		s.TotalSize += size - prevSize
		if !replacing {
			s.EntryCount++
		}
	})
	c.log.Debug().Str("id", id).Int64("size", size).Str("version", version).Msg("stored artifact")
	return nil
}

// ensureSpace frees at least needed bytes by deleting victims in LRU order.
// It stops as soon as the freed total is sufficient and never touches the
// entry being replaced. Called with c.mu held.
func (c *ModelCache) ensureSpace(ctx context.Context, needed int64, replacingID string) error {
	snap := c.stats.snapshot()
	short := snap.TotalSize + needed - c.cfg.MaxSize
	if short <= 0 {
		return nil
	}

	entries, err := c.listByAccess(ctx)
	if err != nil {
		return fmt.Errorf("cache: ensure space: %w", err)
	}
	candidates := entries[:0]
	byID := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e.ID != replacingID {
			candidates = append(candidates, e)
			byID[e.ID] = e
		}
	}

	var freed int64
	for _, id := range SelectVictims(candidates, short) {
		if freed >= short {
			break
		}
		victim := byID[id]
		if err := c.backend.Delete(ctx, id); err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("evicting entry failed, skipping")
			continue
		}
		freed += victim.Size
		c.updateStats(ctx, func(s *Stats) {
			s.TotalSize -= victim.Size
			s.EntryCount--
			s.EvictionCount++
		})
		c.log.Debug().Str("id", id).Int64("size", victim.Size).Msg("evicted artifact")
	}
	return nil
}

// listByAccess uses the backend's secondary index when it has one, so the
// policy's sort is a no-op on already-ordered input.
func (c *ModelCache) listByAccess(ctx context.Context) ([]*Entry, error) {
	if l, ok := c.backend.(AccessOrderedLister); ok {
		return l.ListByAccess(ctx)
	}
	return c.backend.List(ctx)
}

// Retrieve returns the payload for id, or found == false on a miss. Expired
// and corrupt entries are removed and reported as misses; a hit refreshes
// the entry's last-accessed time.
func (c *ModelCache) Retrieve(ctx context.Context, id string) ([]byte, bool, error) {
	e, found, err := c.lookup(ctx, id, true)
	if err != nil || !found {
		return nil, false, err
	}
	return e.Payload, true, nil
}

// Has reports whether id is present and unexpired. It shares Retrieve's
// side effects: an expired entry found this way is removed, and the check
// itself counts as a hit or a miss.
func (c *ModelCache) Has(ctx context.Context, id string) (bool, error) {
	_, found, err := c.lookup(ctx, id, false)
	return found, err
}

func (c *ModelCache) lookup(ctx context.Context, id string, verify bool) (*Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}

	e, found, err := c.backend.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("cache: retrieve %s: %w", id, err)
	}
	if !found {
		c.recordMiss(ctx)
		return nil, false, nil
	}

	if e.Expired(c.now(), c.cfg.MaxAge) {
		c.removeExpiredLocked(ctx, e)
		c.recordMiss(ctx)
		return nil, false, nil
	}

	if verify && c.cfg.VerifyOnRetrieve {
		if err := VerifyIntegrity(e); err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("corrupt entry removed")
			if derr := c.backend.Delete(ctx, id); derr != nil {
				c.log.Warn().Err(derr).Str("id", id).Msg("removing corrupt entry failed")
			} else {
				c.updateStats(ctx, func(s *Stats) {
					s.TotalSize -= e.Size
					s.EntryCount--
				})
			}
			c.recordMiss(ctx)
			return nil, false, nil
		}
	}

	now := c.now()
	if err := c.touch(ctx, e, now); err != nil {
		// A failed touch costs LRU accuracy, not correctness.
		c.log.Warn().Err(err).Str("id", id).Msg("updating last-accessed failed")
	}
	c.updateStats(ctx, func(s *Stats) { s.HitCount++ })
	return e, true, nil
}

// touch updates LastAccessedAt in place when the backend supports it, and
// re-puts the whole entry otherwise.
func (c *ModelCache) touch(ctx context.Context, e *Entry, at time.Time) error {
	if t, ok := c.backend.(Toucher); ok {
		return t.Touch(ctx, e.ID, at)
	}
	cp := e.clone()
	cp.LastAccessedAt = at
	return c.backend.Put(ctx, cp)
}

// removeExpiredLocked deletes an over-age entry found during a lookup.
// Expiry removals count toward EvictionCount like sweeper removals do.
func (c *ModelCache) removeExpiredLocked(ctx context.Context, e *Entry) {
	if err := c.backend.Delete(ctx, e.ID); err != nil {
		c.log.Warn().Err(err).Str("id", e.ID).Msg("removing expired entry failed")
		return
	}
	c.updateStats(ctx, func(s *Stats) {
		s.TotalSize -= e.Size
		s.EntryCount--
		s.EvictionCount++
	})
	c.log.Debug().Str("id", e.ID).Msg("expired artifact removed")
}

// Remove deletes id if present. Removing an absent id is a successful no-op.
func (c *ModelCache) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	e, found, err := c.backend.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("cache: remove %s: %w", id, err)
	}
	if err := c.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("cache: remove %s: %w", id, err)
	}
	if found {
		c.updateStats(ctx, func(s *Stats) {
			s.TotalSize -= e.Size
			s.EntryCount--
		})
	}
	return nil
}

// Clear removes every entry and resets all counters to zero, persisting the
// reset.
func (c *ModelCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	entries, err := c.backend.List(ctx)
	if err != nil {
		return fmt.Errorf("cache: clear: %w", err)
	}
	for _, e := range entries {
		if err := c.backend.Delete(ctx, e.ID); err != nil {
			return fmt.Errorf("cache: clear %s: %w", e.ID, err)
		}
	}
	c.updateStats(ctx, func(s *Stats) { *s = Stats{} })
	c.log.Info().Int("removed", len(entries)).Msg("cache cleared")
	return nil
}

// Stats returns a snapshot of the counters; the copy is safe to hold.
func (c *ModelCache) Stats() Stats {
	return c.stats.snapshot()
}

// Config returns a copy of the current settings.
func (c *ModelCache) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// UpdateConfig applies the non-nil fields of u. Changes take effect for
// subsequent operations only: existing entries are not re-checked against a
// new MaxSize until the next store or sweep, and a new Storage kind does not
// migrate entries: the running cache keeps its backend, and the change
// applies at the next Open.
func (c *ModelCache) UpdateConfig(u ConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if u.MaxSize != nil {
		if *u.MaxSize <= 0 {
			return fmt.Errorf("cache: max size must be positive, got %d", *u.MaxSize)
		}
		c.cfg.MaxSize = *u.MaxSize
	}
	if u.MaxAge != nil {
		c.cfg.MaxAge = *u.MaxAge
	}
	if u.Storage != nil {
		if !u.Storage.Valid() {
			return fmt.Errorf("cache: unknown storage kind %q", *u.Storage)
		}
		if *u.Storage != c.active {
			c.log.Warn().
				Str("configured", string(*u.Storage)).
				Str("active", string(c.active)).
				Msg("storage change takes effect at next open, existing entries are not migrated")
		}
		c.cfg.Storage = *u.Storage
	}
	if u.CompressionEnabled != nil {
		c.cfg.CompressionEnabled = *u.CompressionEnabled
	}
	if u.VerifyOnRetrieve != nil {
		c.cfg.VerifyOnRetrieve = *u.VerifyOnRetrieve
	}
	return nil
}

// Close stops the sweeper and releases the backend. Further operations
// return ErrClosed.
func (c *ModelCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	<-c.done
	return c.backend.Close()
}

// recordMiss bumps the miss counter. Called with c.mu held.
func (c *ModelCache) recordMiss(ctx context.Context) {
	c.updateStats(ctx, func(s *Stats) { s.MissCount++ })
}

// updateStats mutates the counters and persists them, logging (not failing)
// when the write-through slot is unavailable: telemetry must never break
// the data path.
func (c *ModelCache) updateStats(ctx context.Context, fn func(*Stats)) {
	if err := c.stats.update(ctx, fn); err != nil {
		c.log.Warn().Err(err).Msg("persisting stats failed")
	}
}

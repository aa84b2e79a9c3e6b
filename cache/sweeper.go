package cache

import (
	"context"
	"time"
)

// runSweeper drives the background expiration pass on a fixed interval
// until Close. It is independent of store/retrieve traffic: a foreground
// expiry racing a sweep is absorbed by the backend's idempotent delete.
func (c *ModelCache) runSweeper() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			removed, err := c.Sweep(context.Background())
			if err != nil {
				c.log.Warn().Err(err).Msg("sweep pass failed")
				continue
			}
			if removed > 0 {
				c.log.Info().Int("removed", removed).Msg("sweep pass expired entries")
			}
		}
	}
}

// Sweep scans all entries and removes those older than MaxAge, returning
// how many were removed. Backend errors on a single entry are logged and
// skipped, never aborting the pass. After the pass the size and count
// counters are re-derived from a fresh scan, so any drift from best-effort
// accounting heals here.
func (c *ModelCache) Sweep(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	maxAge := c.cfg.MaxAge
	c.mu.Unlock()

	// The scan happens outside the facade lock so a long pass never blocks
	// foreground traffic; each removal re-checks under the lock.
	entries, err := c.backend.List(ctx)
	if err != nil {
		return 0, err
	}

	now := c.now()
	removed := 0
	for _, e := range entries {
		if !e.Expired(now, maxAge) {
			continue
		}
		if c.sweepOne(ctx, e.ID, maxAge) {
			removed++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return removed, nil
	}
	if err := c.reconcile(ctx); err != nil {
		c.log.Warn().Err(err).Msg("post-sweep reconcile failed")
	}
	return removed, nil
}

// sweepOne removes a single expired entry under the facade lock, tolerating
// the entry having been removed or refreshed since the scan.
func (c *ModelCache) sweepOne(ctx context.Context, id string, maxAge time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	e, found, err := c.backend.Get(ctx, id)
	if err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("sweep read failed, skipping entry")
		return false
	}
	if !found || !e.Expired(c.now(), maxAge) {
		return false
	}
	if err := c.backend.Delete(ctx, id); err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("sweep delete failed, skipping entry")
		return false
	}
	c.updateStats(ctx, func(s *Stats) {
		s.TotalSize -= e.Size
		s.EntryCount--
		s.EvictionCount++
	})
	return true
}

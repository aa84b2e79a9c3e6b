package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSweepRemovesOnlyExpiredEntries(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestCache(t, Config{MaxSize: 1 << 20, MaxAge: time.Hour})

	require.NoError(t, mc.Store(ctx, "old", []byte("stale weights"), "1.0"))
	clock.Advance(2 * time.Hour)
	require.NoError(t, mc.Store(ctx, "fresh", []byte("fresh weights"), "1.0"))

	removed, err := mc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, found, err := mc.backend.Get(ctx, "old")
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = mc.backend.Get(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, found)

	s := mc.Stats()
	require.Equal(t, int64(1), s.EntryCount)
	require.Equal(t, int64(1), s.EvictionCount)
	requireInvariants(t, mc)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestCache(t, Config{MaxSize: 1 << 20, MaxAge: time.Minute})

	require.NoError(t, mc.Store(ctx, "m1", []byte("weights"), "1.0"))
	clock.Advance(2 * time.Minute)

	removed, err := mc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	// Entry already gone, second pass finds nothing to do.
	removed, err = mc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, removed)
	requireInvariants(t, mc)
}

func TestSweepHealsCounterDrift(t *testing.T) {
	ctx := context.Background()
	mc, _ := newTestCache(t, Config{MaxSize: 1 << 20, MaxAge: time.Hour})

	require.NoError(t, mc.Store(ctx, "m1", []byte("weights"), "1.0"))

	// Simulate accounting drift from a best-effort race.
	mc.updateStats(ctx, func(s *Stats) {
		s.TotalSize += 12345
		s.EntryCount += 3
	})

	_, err := mc.Sweep(ctx)
	require.NoError(t, err)
	requireInvariants(t, mc)
}

func TestSweepDisabledWithoutMaxAge(t *testing.T) {
	ctx := context.Background()
	mc, clock := newTestCache(t, Config{MaxSize: 1 << 20, MaxAge: -1})

	require.NoError(t, mc.Store(ctx, "m1", []byte("weights"), "1.0"))
	clock.Advance(1000 * time.Hour)

	removed, err := mc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, removed, "non-positive MaxAge disables expiration")

	found, err := mc.Has(ctx, "m1")
	require.NoError(t, err)
	require.True(t, found)
}

func TestSweepAfterClose(t *testing.T) {
	mc, _ := newTestCache(t, Config{MaxSize: 1 << 20})
	require.NoError(t, mc.Close())

	_, err := mc.Sweep(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestBackgroundSweeperRuns(t *testing.T) {
	ctx := context.Background()
	mc, err := Open(Config{MaxSize: 1 << 20, MaxAge: time.Millisecond, Storage: StorageMemory, SweepInterval: 10 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mc.Close() })

	require.NoError(t, mc.Store(ctx, "m1", []byte("weights"), "1.0"))

	require.Eventually(t, func() bool {
		_, found, err := mc.backend.Get(ctx, "m1")
		return err == nil && !found
	}, time.Second, 5*time.Millisecond, "background sweeper expires the entry without any foreground traffic")
}

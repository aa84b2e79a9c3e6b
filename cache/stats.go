package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// statsTracker holds the running counters and writes every change through
// to a persisted slot, so a restart resumes with accurate hit-rate history.
type statsTracker struct {
	mu   sync.Mutex
	s    Stats
	slot StatsSlot
}

func newStatsTracker(slot StatsSlot) *statsTracker {
	return &statsTracker{slot: slot}
}

// load restores persisted counters, if any.
func (t *statsTracker) load(ctx context.Context) error {
	s, found, err := t.slot.LoadStats(ctx)
	if err != nil {
		return err
	}
	if found {
		t.mu.Lock()
		t.s = s
		t.mu.Unlock()
	}
	return nil
}

// update applies fn to the counters and persists the result.
func (t *statsTracker) update(ctx context.Context, fn func(*Stats)) error {
	t.mu.Lock()
	fn(&t.s)
	snapshot := t.s
	t.mu.Unlock()
	return t.slot.SaveStats(ctx, snapshot)
}

func (t *statsTracker) snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.s
}

// memoryStatsSlot keeps counters in memory only, for caches opened without
// a directory. History is lost on restart.
type memoryStatsSlot struct {
	mu sync.Mutex
	s  Stats
	ok bool
}

func (m *memoryStatsSlot) LoadStats(_ context.Context) (Stats, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, m.ok, nil
}

func (m *memoryStatsSlot) SaveStats(_ context.Context, s Stats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s, m.ok = s, true
	return nil
}

// fileStatsSlot persists the counters as a JSON file under the cache dir,
// for backends without a native slot. Writes are atomic (temp + rename).
type fileStatsSlot struct {
	path string
}

// StatsFilename is the telemetry slot file used by the memory and blob
// backends.
const StatsFilename = "stats.json"

func newFileStatsSlot(dir string) (*fileStatsSlot, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &fileStatsSlot{path: filepath.Join(dir, StatsFilename)}, nil
}

func (f *fileStatsSlot) LoadStats(_ context.Context) (Stats, bool, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Stats{}, false, nil
	}
	if err != nil {
		return Stats{}, false, fmt.Errorf("read stats slot: %w", err)
	}
	var s Stats
	if err := json.Unmarshal(data, &s); err != nil {
		return Stats{}, false, fmt.Errorf("decode stats slot: %w", err)
	}
	return s, true, nil
}

func (f *fileStatsSlot) SaveStats(_ context.Context, s Stats) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(f.path, data, 0o600)
}

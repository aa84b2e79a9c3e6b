package cache

import (
	"sort"
)

// SelectVictims picks entries to evict so that their cumulative size covers
// the bytes needed, oldest-accessed first (ties broken by creation time,
// then id, for determinism). It is a pure selection: deletion is the
// caller's job, and the caller stops as soon as enough space is freed.
//
// Entries must be the live set; if the slice is already ordered by ascending
// LastAccessedAt (a backend range scan), sorting is a cheap no-op.
func SelectVictims(entries []*Entry, needed int64) []string {
	if needed <= 0 || len(entries) == 0 {
		return nil
	}
	candidates := make([]*Entry, len(entries))
	copy(candidates, entries)
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	var victims []string
	var freed int64
	for _, e := range candidates {
		if freed >= needed {
			break
		}
		victims = append(victims, e.ID)
		freed += e.Size
	}
	// When even evicting everything cannot free enough, the partial list is
	// returned anyway; the caller's capacity check owns that case.
	return victims
}

package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketEntries = []byte("entries")
	bucketAccess  = []byte("access")
	bucketMeta    = []byte("meta")

	keyStats = []byte("stats")
)

// BoltBackend is the durable key-value variant, backed by a single bbolt
// file. Alongside the primary entries bucket it maintains a secondary index
// keyed by last-access time, so LRU victim selection is a range scan rather
// than a full sort. It also carries the persisted stats slot natively.
//
// bbolt has no context support; the Context parameters are accepted for
// interface consistency.
type BoltBackend struct {
	db *bolt.DB
}

// BoltFilename is the database file created under the cache dir.
const BoltFilename = "modelcache.db"

// NewBoltBackend opens (or creates) the database under dir and ensures the
// schema buckets exist.
func NewBoltBackend(dir string) (*BoltBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dir, BoltFilename), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketEntries, bucketAccess, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// accessKey builds the secondary index key: big-endian unix-nanos followed
// by the id, so byte order equals (lastAccessedAt, id) order.
func accessKey(at time.Time, id string) []byte {
	k := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(k, uint64(at.UnixNano()))
	copy(k[8:], id)
	return k
}

// Put implements StorageBackend. The entry and its index row are written in
// one transaction; a prior entry's index row is removed first.
func (b *BoltBackend) Put(_ context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		access := tx.Bucket(bucketAccess)

		if prev := entries.Get([]byte(e.ID)); prev != nil {
			var old Entry
			if err := json.Unmarshal(prev, &old); err == nil {
				if err := access.Delete(accessKey(old.LastAccessedAt, old.ID)); err != nil {
					return err
				}
			}
		}
		if err := entries.Put([]byte(e.ID), data); err != nil {
			return err
		}
		return access.Put(accessKey(e.LastAccessedAt, e.ID), []byte(e.ID))
	})
}

// Get implements StorageBackend.
func (b *BoltBackend) Get(_ context.Context, id string) (*Entry, bool, error) {
	var e *Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(id))
		if data == nil {
			return nil
		}
		var decoded Entry
		if err := json.Unmarshal(data, &decoded); err != nil {
			return fmt.Errorf("decode entry %s: %w", id, err)
		}
		e = &decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return e, e != nil, nil
}

// Delete implements StorageBackend. Deleting an absent id is a no-op.
func (b *BoltBackend) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		data := entries.Get([]byte(id))
		if data == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err == nil {
			if err := tx.Bucket(bucketAccess).Delete(accessKey(e.LastAccessedAt, e.ID)); err != nil {
				return err
			}
		}
		return entries.Delete([]byte(id))
	})
}

// List implements StorageBackend.
func (b *BoltBackend) List(_ context.Context) ([]*Entry, error) {
	var out []*Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %s: %w", k, err)
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByAccess implements AccessOrderedLister: a forward cursor walk over
// the access bucket yields entries oldest-accessed first.
func (b *BoltBackend) ListByAccess(_ context.Context) ([]*Entry, error) {
	var out []*Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		c := tx.Bucket(bucketAccess).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			data := entries.Get(id)
			if data == nil {
				continue // stale index row
			}
			var e Entry
			if err := json.Unmarshal(data, &e); err != nil {
				return fmt.Errorf("decode entry %s: %w", id, err)
			}
			out = append(out, &e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Touch implements Toucher: metadata is rewritten in place, the payload
// bytes stay as stored.
func (b *BoltBackend) Touch(_ context.Context, id string, at time.Time) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(bucketEntries)
		data := entries.Get([]byte(id))
		if data == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("decode entry %s: %w", id, err)
		}
		access := tx.Bucket(bucketAccess)
		if err := access.Delete(accessKey(e.LastAccessedAt, e.ID)); err != nil {
			return err
		}
		e.LastAccessedAt = at
		updated, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		if err := entries.Put([]byte(id), updated); err != nil {
			return err
		}
		return access.Put(accessKey(at, id), []byte(id))
	})
}

// LoadStats implements StatsSlot.
func (b *BoltBackend) LoadStats(_ context.Context) (Stats, bool, error) {
	var s Stats
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyStats)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode stats: %w", err)
		}
		found = true
		return nil
	})
	return s, found, err
}

// SaveStats implements StatsSlot.
func (b *BoltBackend) SaveStats(_ context.Context, s Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyStats, data)
	})
}

// Close implements StorageBackend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}

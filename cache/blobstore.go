package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobBackend stores each payload as a blob file addressed by the synthetic
// path /models/{id}, with metadata carried alongside in a JSON sidecar
// (this variant has no native structured-field support). Writes go through
// a temp file and rename so readers never observe a partial blob.
type BlobBackend struct {
	dir string
}

const (
	blobPrefix  = "/models/"
	sidecarExt  = ".meta.json"
	blobDirName = "blobs"
)

// NewBlobBackend creates the blob directory under dir if needed.
func NewBlobBackend(dir string) (*BlobBackend, error) {
	root := filepath.Join(dir, blobDirName)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &BlobBackend{dir: root}, nil
}

// sidecar mirrors Entry minus the payload, which lives in the blob file.
type sidecar struct {
	Entry
	BlobPath string `json:"blob_path"`
}

// blobName maps the synthetic request path onto a safe filename.
func (bb *BlobBackend) blobName(id string) string {
	key := strings.TrimPrefix(blobPrefix+id, "/")
	key = strings.ReplaceAll(key, "/", "_")
	for _, c := range []string{":", "?", "&", "=", "#", "<", ">", "|", "*", "\""} {
		key = strings.ReplaceAll(key, c, "_")
	}
	// Hash very long ids to stay under filesystem name limits.
	if len(key) > 200 {
		return fmt.Sprintf("hash_%x", md5.Sum([]byte(key)))
	}
	return key
}

func (bb *BlobBackend) blobPath(id string) string {
	return filepath.Join(bb.dir, bb.blobName(id)+".bin")
}

func (bb *BlobBackend) sidecarPath(id string) string {
	return filepath.Join(bb.dir, bb.blobName(id)+sidecarExt)
}

// writeAtomic writes data to a temp file in the same directory and renames
// it into place.
func writeAtomic(path string, data []byte, mode os.FileMode) error {
	tmp := path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Put implements StorageBackend. Blob first, sidecar second: a crash
// between the two leaves an unreferenced blob, never a sidecar pointing at
// missing bytes.
func (bb *BlobBackend) Put(_ context.Context, e *Entry) error {
	if err := writeAtomic(bb.blobPath(e.ID), e.Payload, 0o600); err != nil {
		return fmt.Errorf("write blob %s: %w", e.ID, err)
	}
	sc := sidecar{Entry: *e, BlobPath: blobPrefix + e.ID}
	sc.Entry.Payload = nil
	data, err := json.MarshalIndent(&sc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar %s: %w", e.ID, err)
	}
	if err := writeAtomic(bb.sidecarPath(e.ID), data, 0o600); err != nil {
		return fmt.Errorf("write sidecar %s: %w", e.ID, err)
	}
	return nil
}

// Get implements StorageBackend.
func (bb *BlobBackend) Get(_ context.Context, id string) (*Entry, bool, error) {
	data, err := os.ReadFile(bb.sidecarPath(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read sidecar %s: %w", id, err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, false, fmt.Errorf("decode sidecar %s: %w", id, err)
	}
	payload, err := os.ReadFile(bb.blobPath(id))
	if os.IsNotExist(err) {
		// Sidecar without its blob: treat as absent.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read blob %s: %w", id, err)
	}
	e := sc.Entry
	e.Payload = payload
	return &e, true, nil
}

// Delete implements StorageBackend. Deleting an absent id is a no-op.
func (bb *BlobBackend) Delete(_ context.Context, id string) error {
	if err := os.Remove(bb.sidecarPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove sidecar %s: %w", id, err)
	}
	if err := os.Remove(bb.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob %s: %w", id, err)
	}
	return nil
}

// List implements StorageBackend by scanning sidecars.
func (bb *BlobBackend) List(ctx context.Context) ([]*Entry, error) {
	names, err := os.ReadDir(bb.dir)
	if err != nil {
		return nil, fmt.Errorf("scan blob dir: %w", err)
	}
	var out []*Entry
	for _, de := range names {
		if de.IsDir() || !strings.HasSuffix(de.Name(), sidecarExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(bb.dir, de.Name()))
		if err != nil {
			continue // racing delete
		}
		var sc sidecar
		if err := json.Unmarshal(data, &sc); err != nil {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(bb.dir, strings.TrimSuffix(de.Name(), sidecarExt)+".bin"))
		if err != nil {
			continue
		}
		e := sc.Entry
		e.Payload = payload
		out = append(out, &e)
	}
	return out, nil
}

// Close implements StorageBackend.
func (bb *BlobBackend) Close() error { return nil }

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Checksum returns the hex SHA-256 digest of a payload. Computed once at
// store time and recorded on the entry.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity recomputes the entry's digest and compares it against the
// recorded one. A mismatch means the stored bytes are corrupt; callers must
// remove the entry rather than serve it.
func VerifyIntegrity(e *Entry) error {
	if got := Checksum(e.Payload); got != e.Checksum {
		return fmt.Errorf("%w: entry %s", ErrIntegrity, e.ID)
	}
	return nil
}

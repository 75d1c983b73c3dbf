// Package fileid provides a deterministic content address for an image from its path.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

// Length is the number of hex characters kept from the digest.
const Length = 32

// ImageID returns a stable identifier for the given absolute path.
// Same path always yields the same ID, so re-indexing a file overwrites its record.
func ImageID(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:])[:Length]
}

// Package fileid derives deterministic document IDs from file paths.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// DocumentID returns a stable document ID for a file ingested into a project.
// The same project and path always yield the same ID, so re-ingesting a file replaces it.
func DocumentID(projectID, absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(projectID + "\x00" + normalized))
	return prefix + hex.EncodeToString(hash[:16])
}

// Package identity derives stable document identifiers from relative paths.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// IDLength is the fixed width of a document identifier in hex characters.
const IDLength = 16

var idPattern = regexp.MustCompile(`^[0-9a-f]{16}$`)

// FromPath derives the identifier for a document from its slash-separated
// relative path. The same path always yields the same identifier, across
// processes and restarts, so identifiers double as on-disk artifact names.
func FromPath(relPath string) string {
	sum := sha256.Sum256([]byte(relPath))
	return hex.EncodeToString(sum[:])[:IDLength]
}

// Valid reports whether s has the shape of a document identifier.
// Used to reject obviously malformed ids before they reach the filesystem.
func Valid(s string) bool {
	return idPattern.MatchString(s)
}

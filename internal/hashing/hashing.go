// Package hashing provides content identity for media items.
// An identity is the SHA-256 digest of the final normalized bytes,
// never derived from filenames, timestamps, or arrival order.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEmptyInput is returned when identity is requested for zero bytes.
var ErrEmptyInput = errors.New("cannot compute identity: input is empty")

// Identify computes the content identity for the given bytes.
// Parameters:
//   - data: raw bytes of the final normalized image.
// Returns:
//   - string: SHA-256 digest as a 64-character lowercase hex string.
//   - error: ErrEmptyInput if data is empty.
func Identify(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyInput
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// HashFile computes the content identity of a file on disk.
// The file is read in chunks so large files do not load fully into memory.
// Parameters:
//   - path: path to the file.
// Returns:
//   - string: SHA-256 digest as a 64-character lowercase hex string.
//   - error: non-nil if the file cannot be read or is empty.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if n == 0 {
		return "", ErrEmptyInput
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsValidIdentity reports whether s has the shape of a content identity
// (64 lowercase hex characters). Used to reject malformed registry entries.
func IsValidIdentity(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

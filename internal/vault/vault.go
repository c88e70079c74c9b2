package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrContentNotFound is returned by GetContent for an unknown checksum.
var ErrContentNotFound = errors.New("content not found")

// Vault stores file content addressed by its SHA-256 checksum. Records and
// history live elsewhere; a vault only knows blobs.
type Vault interface {
	// PutContent stores size bytes read from r under checksum. Storing a
	// checksum that already exists is a no-op apart from draining r.
	PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error

	// GetContent writes the content stored under checksum to w.
	GetContent(ctx context.Context, checksum string, w io.Writer) error

	// HasContent reports whether checksum is stored.
	HasContent(ctx context.Context, checksum string) (bool, error)

	// ValidateSetup verifies the backend is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// validChecksum rejects anything that is not a lowercase hex digest, so a
// checksum can never be used to escape the content directory or key space.
func validChecksum(checksum string) error {
	if len(checksum) < 8 {
		return fmt.Errorf("invalid checksum %q", checksum)
	}
	for i := 0; i < len(checksum); i++ {
		c := checksum[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid checksum %q", checksum)
		}
	}
	return nil
}

// contentKey shards content by the first two hex characters.
func contentKey(checksum string) string {
	return checksum[:2] + "/" + checksum
}

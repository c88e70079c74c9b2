package pdm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// HashContent streams r through SHA-256 and returns the lowercase hex
// digest and the number of bytes read. Every component that compares file
// content uses this digest.
func HashContent(r io.Reader) (string, int64, error) {
	h := newDigest()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing content: %w", err)
	}
	return digestHex(h), n, nil
}

func newDigest() hash.Hash { return sha256.New() }

func digestHex(h hash.Hash) string { return hex.EncodeToString(h.Sum(nil)) }

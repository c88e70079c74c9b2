package testutil

import (
	"cadvault/internal/encryption"
)

// NewTestCipher returns an unlocked cipher backed by the reversible test
// encryptor.
func NewTestCipher() *encryption.Cipher {
	enc := encryption.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	return &encryption.Cipher{Encryptor: enc, DecryptionContext: dec}
}

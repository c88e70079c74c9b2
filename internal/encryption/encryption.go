package encryption

import "io"

// Encryptor encrypts vault content at rest. Encryption needs only the
// public key; decryption needs the private key, unlocked once per server
// process with a passphrase.
type Encryptor interface {
	// Setup generates a key pair, stores the public key in plaintext and
	// the private key encrypted with passphrase. Called by `cvserver init`.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory. The key is
// never written back to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Cipher pairs an Encryptor with its unlocked DecryptionContext so a vault
// can both seal and open content.
type Cipher struct {
	Encryptor
	DecryptionContext
}

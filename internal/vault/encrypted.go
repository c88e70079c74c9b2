package vault

import (
	"context"
	"fmt"
	"io"
	"os"

	"cadvault/internal/encryption"
)

// EncryptedVault seals content before handing it to the wrapped vault.
// Checksums stay those of the plaintext so records and clients never see
// ciphertext hashes.
type EncryptedVault struct {
	inner  Vault
	cipher *encryption.Cipher
}

// NewEncryptedVault wraps inner with cipher.
func NewEncryptedVault(inner Vault, cipher *encryption.Cipher) *EncryptedVault {
	return &EncryptedVault{inner: inner, cipher: cipher}
}

// PutContent encrypts r into a spool file and stores the ciphertext.
func (v *EncryptedVault) PutContent(ctx context.Context, checksum string, r io.Reader, size int64) error {
	exists, err := v.inner.HasContent(ctx, checksum)
	if err != nil {
		return err
	}
	if exists {
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("failed to read content: %w", err)
		}
		if written != size {
			return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
		}
		return nil
	}

	spool, err := os.CreateTemp("", "cv-seal-*")
	if err != nil {
		return fmt.Errorf("creating spool file: %w", err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	sr := &sizedReader{r: r, want: size}
	if err := v.cipher.Encrypt(sr, spool); err != nil {
		return fmt.Errorf("encrypting %s: %w", checksum, err)
	}
	sealedSize, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("sizing spool file: %w", err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding spool file: %w", err)
	}
	return v.inner.PutContent(ctx, checksum, spool, sealedSize)
}

// GetContent decrypts the stored ciphertext into w.
func (v *EncryptedVault) GetContent(ctx context.Context, checksum string, w io.Writer) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(v.inner.GetContent(ctx, checksum, pw))
	}()

	err := v.cipher.Decrypt(pr, w)
	pr.CloseWithError(err)
	if err != nil {
		return fmt.Errorf("decrypting %s: %w", checksum, err)
	}
	return nil
}

func (v *EncryptedVault) HasContent(ctx context.Context, checksum string) (bool, error) {
	return v.inner.HasContent(ctx, checksum)
}

func (v *EncryptedVault) ValidateSetup(ctx context.Context) error {
	return v.inner.ValidateSetup(ctx)
}

var _ Vault = (*EncryptedVault)(nil)

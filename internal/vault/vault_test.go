package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"cadvault/internal/config"
	"cadvault/internal/encryption"
)

func sum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

func testCipher() *encryption.Cipher {
	enc := encryption.NewTestEncryptor()
	dec, _ := enc.Unlock("")
	return &encryption.Cipher{Encryptor: enc, DecryptionContext: dec}
}

// vaultFactories runs the shared behaviour tests against every backend
// that needs no network.
func vaultFactories(t *testing.T) map[string]func() Vault {
	t.Helper()
	return map[string]func() Vault{
		"memory": func() Vault { return NewMemoryVault("test") },
		"filesystem": func() Vault {
			v, err := NewFileSystemVault("test", t.TempDir())
			if err != nil {
				t.Fatalf("NewFileSystemVault() error = %v", err)
			}
			return v
		},
		"encrypted": func() Vault { return NewEncryptedVault(NewMemoryVault("inner"), testCipher()) },
	}
}

func TestVault_PutAndGetContent(t *testing.T) {
	ctx := context.Background()
	contents := map[string]string{
		"simple": "bracket rev A",
		"empty":  "",
		"large":  strings.Repeat("x", 100000),
	}

	for name, newVault := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			v := newVault()
			for label, content := range contents {
				t.Run(label, func(t *testing.T) {
					checksum := sum(content)
					if err := v.PutContent(ctx, checksum, strings.NewReader(content), int64(len(content))); err != nil {
						t.Fatalf("PutContent() error = %v", err)
					}

					ok, err := v.HasContent(ctx, checksum)
					if err != nil || !ok {
						t.Fatalf("HasContent() = %v, %v; want true", ok, err)
					}

					var buf bytes.Buffer
					if err := v.GetContent(ctx, checksum, &buf); err != nil {
						t.Fatalf("GetContent() error = %v", err)
					}
					if buf.String() != content {
						t.Errorf("GetContent() returned %d bytes, want %d", buf.Len(), len(content))
					}
				})
			}
		})
	}
}

func TestVault_PutContentIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, newVault := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			v := newVault()
			content := "assembly v2"
			for i := 0; i < 2; i++ {
				if err := v.PutContent(ctx, sum(content), strings.NewReader(content), int64(len(content))); err != nil {
					t.Fatalf("PutContent() iteration %d error = %v", i+1, err)
				}
			}
			var buf bytes.Buffer
			if err := v.GetContent(ctx, sum(content), &buf); err != nil {
				t.Fatalf("GetContent() error = %v", err)
			}
			if buf.String() != content {
				t.Errorf("GetContent() = %q, want %q", buf.String(), content)
			}
		})
	}
}

func TestVault_GetContentNotFound(t *testing.T) {
	ctx := context.Background()
	for name, newVault := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			v := newVault()
			err := v.GetContent(ctx, sum("missing"), &bytes.Buffer{})
			if !errors.Is(err, ErrContentNotFound) {
				t.Errorf("GetContent() error = %v, want ErrContentNotFound", err)
			}
			ok, err := v.HasContent(ctx, sum("missing"))
			if err != nil || ok {
				t.Errorf("HasContent() = %v, %v; want false, nil", ok, err)
			}
		})
	}
}

func TestVault_PutContentSizeMismatch(t *testing.T) {
	ctx := context.Background()
	for name, newVault := range vaultFactories(t) {
		t.Run(name, func(t *testing.T) {
			v := newVault()
			content := "short"
			err := v.PutContent(ctx, sum(content), strings.NewReader(content), int64(len(content)+10))
			if err == nil {
				t.Fatal("PutContent() expected error for size mismatch")
			}
			if ok, _ := v.HasContent(ctx, sum(content)); ok {
				t.Error("content stored despite size mismatch")
			}
		})
	}
}

func TestVault_RejectsInvalidChecksum(t *testing.T) {
	ctx := context.Background()
	for _, bad := range []string{"../../etc/passwd", "ABCDEF0123", "short", ""} {
		t.Run(bad, func(t *testing.T) {
			v := NewMemoryVault("test")
			if err := v.PutContent(ctx, bad, strings.NewReader("x"), 1); err == nil {
				t.Errorf("PutContent(%q) expected error", bad)
			}
		})
	}
}

func TestEncryptedVault_StoresCiphertext(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryVault("inner")
	v := NewEncryptedVault(inner, testCipher())

	content := "plain part geometry"
	if err := v.PutContent(ctx, sum(content), strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}

	var raw bytes.Buffer
	if err := inner.GetContent(ctx, sum(content), &raw); err != nil {
		t.Fatalf("inner GetContent() error = %v", err)
	}
	if raw.String() == content {
		t.Error("inner vault holds plaintext")
	}
}

func TestEncryptedVault_AgeKeepsPlaintextChecksums(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "cv.pub"),
		PrivateKeyPath: filepath.Join(dir, "cv.key"),
	}
	if err := encryption.NewAgeEncryptor(cfg).Setup("vault-pass"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	cipher, err := encryption.OpenCipher(cfg, func() (string, error) { return "vault-pass", nil })
	if err != nil {
		t.Fatalf("OpenCipher() error = %v", err)
	}

	inner, err := NewFileSystemVault("inner", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}
	v := NewEncryptedVault(inner, cipher)

	content := "bracket.sldprt rev B"
	checksum := sum(content)
	if err := v.PutContent(ctx, checksum, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutContent() error = %v", err)
	}

	// The inner vault is addressed by the plaintext digest but holds ciphertext.
	if ok, err := inner.HasContent(ctx, checksum); err != nil || !ok {
		t.Fatalf("inner HasContent(plaintext checksum) = %v, %v; want true", ok, err)
	}
	var sealed bytes.Buffer
	if err := inner.GetContent(ctx, checksum, &sealed); err != nil {
		t.Fatalf("inner GetContent() error = %v", err)
	}
	if strings.Contains(sealed.String(), content) || sum(sealed.String()) == checksum {
		t.Error("inner vault holds plaintext")
	}

	// Storing the same content again keeps the first ciphertext.
	if err := v.PutContent(ctx, checksum, strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("second PutContent() error = %v", err)
	}
	var again bytes.Buffer
	if err := inner.GetContent(ctx, checksum, &again); err != nil {
		t.Fatalf("inner GetContent() error = %v", err)
	}
	if !bytes.Equal(sealed.Bytes(), again.Bytes()) {
		t.Error("second PutContent re-sealed existing content")
	}

	var opened bytes.Buffer
	if err := v.GetContent(ctx, checksum, &opened); err != nil {
		t.Fatalf("GetContent() error = %v", err)
	}
	if got := opened.String(); got != content || sum(got) != checksum {
		t.Errorf("GetContent() = %q, want %q", got, content)
	}
}

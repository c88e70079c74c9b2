package vault

import (
	"context"
	"fmt"

	"cadvault/internal/config"
	"cadvault/internal/encryption"
)

// NewVaultFromConfig creates a Vault implementation based on the vault
// config type. A non-nil cipher wraps the result in an EncryptedVault.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig, cipher *encryption.Cipher) (Vault, error) {
	var v Vault
	switch cfg.Type {
	case "memory":
		v = NewMemoryVault(cfg.Name)
	case "s3":
		s3v, err := NewS3VaultFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		v = s3v
	case "filesystem":
		if cfg.FSVaultRoot == "" {
			return nil, fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
		fsv, err := NewFileSystemVault(cfg.Name, cfg.FSVaultRoot)
		if err != nil {
			return nil, err
		}
		v = fsv
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}

	if cipher != nil {
		v = NewEncryptedVault(v, cipher)
	}
	return v, nil
}

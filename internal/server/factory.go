package server

import (
	"context"
	"fmt"

	"cadvault/internal/config"
	"cadvault/internal/database"
	"cadvault/internal/encryption"
	"cadvault/internal/pdm"
	"cadvault/internal/vault"
)

// Options selects the backends of a Server.
type Options struct {
	StoreType string // "memory" or "sqlite"
	DataDir   string
	OrgID     string
	Admins    []string
	Vault     config.VaultConfig
	// Cipher encrypts content at rest; nil stores plaintext.
	Cipher *encryption.Cipher
}

// Open builds a Server from opts, validating the vault before returning.
func Open(ctx context.Context, opts Options, clock pdm.Clock, ids pdm.IDGenerator, logger pdm.Logger) (*Server, error) {
	store, err := database.NewStoreFromConfig(opts.StoreType, opts.DataDir, opts.OrgID)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	v, err := vault.NewVaultFromConfig(ctx, opts.Vault, opts.Cipher)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening vault: %w", err)
	}
	if err := v.ValidateSetup(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("validating vault: %w", err)
	}

	logger.Debug("server opened", "store", opts.StoreType, "vault", opts.Vault.Type, "org", opts.OrgID, "encrypted", opts.Cipher != nil)
	return New(store, v, opts.Admins, clock, ids, logger), nil
}

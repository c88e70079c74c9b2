package encryption

import (
	"fmt"
	"os"

	"cadvault/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration
// type. The "none" type returns nil: content is stored as is.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// OpenCipher builds the encryptor for cfg and unlocks it. The passphrase
// comes from the environment variable named by cfg.PassphraseEnv, or from
// prompt when that is unset. Returns nil when encryption is off.
func OpenCipher(cfg config.EncryptionConfig, prompt func() (string, error)) (*Cipher, error) {
	enc, err := NewEncryptorFromConfig(cfg)
	if err != nil || enc == nil {
		return nil, err
	}
	if !enc.IsConfigured() {
		return nil, fmt.Errorf("encryption keys not found; run `cvserver init` first")
	}

	var passphrase string
	if cfg.PassphraseEnv != "" {
		passphrase = os.Getenv(cfg.PassphraseEnv)
	}
	if passphrase == "" && prompt != nil {
		if passphrase, err = prompt(); err != nil {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
	}

	dec, err := enc.Unlock(passphrase)
	if err != nil {
		return nil, err
	}
	return &Cipher{Encryptor: enc, DecryptionContext: dec}, nil
}

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the client configuration for cv.
type Config struct {
	OrgID                 string           `toml:"org_id"`
	UserID                string           `toml:"user_id"`
	DeviceID              string           `toml:"device_id"`
	DeviceName            string           `toml:"device_name"`
	Role                  string           `toml:"role"` // "member" or "admin"
	VaultRoot             string           `toml:"vault_root"`
	BaseDir               string           `toml:"base_dir"`
	LogDir                string           `toml:"log_dir"`
	LogLevel              string           `toml:"log_level"` // "debug", "info", "warn", "error"
	PollIntervalSeconds   int              `toml:"poll_interval_seconds"`
	MaxNetworkRetries     int              `toml:"max_network_retries"`
	ConfirmTimeoutSeconds int              `toml:"confirm_timeout_seconds"`
	Server                ServerConfig     `toml:"server"`
	Vault                 VaultConfig      `toml:"vault"`
	Encryption            EncryptionConfig `toml:"encryption"`
	Staging               StagingConfig    `toml:"staging"`
	Journal               JournalConfig    `toml:"journal"`
	Filesystem            FilesystemConfig `toml:"filesystem"`
}

// ServerConfig selects where authoritative records live.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ServerConfig struct {
	Type string `toml:"type"` // "memory", "sqlite" or "http"

	// HTTP-specific fields (only used when Type == "http")
	URL            string `toml:"url,omitempty"`
	TimeoutSeconds int    `toml:"timeout_seconds,omitempty"`

	// SQLite-specific fields (only used when Type == "sqlite")
	DataDir string   `toml:"data_dir,omitempty"`
	Admins  []string `toml:"admins,omitempty"`
}

// VaultConfig represents configuration for the content store backing a
// local server.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt vault
// content at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path,omitempty"`
	PrivateKeyPath string `toml:"private_key_path,omitempty"`
	// PassphraseEnv names the environment variable holding the private key
	// passphrase for unattended servers.
	PassphraseEnv string `toml:"passphrase_env,omitempty"`
}

// StagingConfig represents configuration for the offline check-in queue.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StagingConfig struct {
	Type       string `toml:"type"`                  // "memory" or "filesystem"
	StagingDir string `toml:"staging_dir,omitempty"` // only used for type=filesystem
}

// JournalConfig represents configuration for the local baseline journal.
type JournalConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore        []string `toml:"ignore"`
	HashCacheSize int      `toml:"hash_cache_size"`
}

// DefaultIgnore are the patterns every new config starts with: CAD lock
// and temp files that must never reach the vault.
var DefaultIgnore = []string{"~$*", "*.tmp", "*.bak", ".DS_Store", "Thumbs.db"}

// NewConfig creates a new Config with the provided identity and default
// paths under baseDir.
func NewConfig(orgID, userID, deviceID, baseDir, vaultRoot string) *Config {
	return &Config{
		OrgID:                 orgID,
		UserID:                userID,
		DeviceID:              deviceID,
		Role:                  "member",
		VaultRoot:             vaultRoot,
		BaseDir:               baseDir,
		LogDir:                filepath.Join(baseDir, "log"),
		LogLevel:              "info",
		PollIntervalSeconds:   30,
		MaxNetworkRetries:     3,
		ConfirmTimeoutSeconds: 120,
		Server: ServerConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "server"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "content"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "cv.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "cv.key"),
		},
		Staging: StagingConfig{
			Type:       "filesystem",
			StagingDir: filepath.Join(baseDir, "staging"),
		},
		Journal: JournalConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "journal"),
		},
		Filesystem: FilesystemConfig{
			Ignore:        append([]string(nil), DefaultIgnore...),
			HashCacheSize: 4096,
		},
	}
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.VaultRoot == "" {
		return fmt.Errorf("vault_root is required")
	}
	if !filepath.IsAbs(c.VaultRoot) {
		return fmt.Errorf("vault_root must be absolute: %s", c.VaultRoot)
	}
	return nil
}

// ServerSideConfig is the configuration of the cvserver daemon.
type ServerSideConfig struct {
	ListenAddr string           `toml:"listen_addr"`
	OrgID      string           `toml:"org_id"`
	Admins     []string         `toml:"admins"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"`
	DataDir    string           `toml:"data_dir"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// NewServerSideConfig creates a server config with defaults under baseDir.
func NewServerSideConfig(orgID, baseDir string) *ServerSideConfig {
	return &ServerSideConfig{
		ListenAddr: "127.0.0.1:8640",
		OrgID:      orgID,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		DataDir:    filepath.Join(baseDir, "db"),
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "primary",
			FSVaultRoot: filepath.Join(baseDir, "content"),
		},
		Encryption: EncryptionConfig{Type: "none"},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg any) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// ReadServerFromFile reads a ServerSideConfig from the specified file path.
func ReadServerFromFile(path string) (*ServerSideConfig, error) {
	var cfg ServerSideConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("reading server config from %s: %w", path, err)
	}
	return &cfg, nil
}

// writeToFile writes a config value to the specified file path.
func writeToFile(path string, cfg any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path. cfg is either
// a *Config or a *ServerSideConfig.
func Init(path string, cfg any) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

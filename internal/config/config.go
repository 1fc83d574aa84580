package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for agrireg.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Envelope   EnvelopeConfig   `toml:"envelope"`
	Sequence   SequenceConfig   `toml:"sequence"`
	Audit      AuditConfig      `toml:"audit"`
	Encryption EncryptionConfig `toml:"encryption"`
	Server     ServerConfig     `toml:"server"`
	Actor      ActorConfig      `toml:"actor"`
}

// DatabaseConfig represents configuration for the registry database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "postgres" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// EnvelopeConfig controls result token signing.
type EnvelopeConfig struct {
	SecretPath string `toml:"secret_path"`
	TTL        string `toml:"ttl,omitempty"` // Go duration; empty means tokens never expire
}

// TTLDuration parses TTL.
func (c EnvelopeConfig) TTLDuration() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid envelope ttl %q: %w", c.TTL, err)
	}
	return d, nil
}

// SequenceConfig selects how sequence counters are advanced.
type SequenceConfig struct {
	Strategy    string `toml:"strategy"`               // "atomic" (default) or "optimistic"
	MaxAttempts int    `toml:"max_attempts,omitempty"` // only used for strategy=optimistic
}

// AuditConfig controls where audit entries go besides the audit_log table.
type AuditConfig struct {
	Archive      bool        `toml:"archive"`
	SegmentBytes int64       `toml:"segment_bytes,omitempty"`
	Spool        SpoolConfig `toml:"spool"`
	Vault        VaultConfig `toml:"vault"`
}

// SpoolConfig represents configuration for the audit archive spool.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SpoolConfig struct {
	Type    string `toml:"type"`          // "memory" or "filesystem"
	Dir     string `toml:"dir,omitempty"` // only used for type=filesystem
	MaxSize int64  `toml:"max_size"`      // max buffered bytes; must be positive, defaults to 1MB
}

// VaultConfig represents configuration for a vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ActorConfig is the identity the CLI acts as.
type ActorConfig struct {
	UUID         string   `toml:"uuid"`
	Name         string   `toml:"name"`
	Role         string   `toml:"role"`
	CompanyUUIDs []string `toml:"company_uuids,omitempty"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Envelope: EnvelopeConfig{
			SecretPath: filepath.Join(baseDir, "keys", "envelope.key"),
		},
		Sequence: SequenceConfig{Strategy: "atomic"},
		Audit: AuditConfig{
			Spool: SpoolConfig{Type: "memory", MaxSize: 1 << 20},
			Vault: VaultConfig{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "agrireg.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "agrireg.key"),
		},
		Server: ServerConfig{Addr: "127.0.0.1:8080"},
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
func (m *Manager) Write(w io.Writer, cfg *Config) error {
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

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
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

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:   "test-host-abc",
		BaseDir:  "/home/user/.local/share/agrireg",
		LogDir:   "/home/user/.local/share/agrireg/log",
		Database: DatabaseConfig{Type: "postgres", DSN: "postgres://localhost/agrireg"},
		Envelope: EnvelopeConfig{SecretPath: "/keys/envelope.key", TTL: "15m"},
		Sequence: SequenceConfig{Strategy: "optimistic", MaxAttempts: 8},
		Audit: AuditConfig{
			Archive:      true,
			SegmentBytes: 4096,
			Spool:        SpoolConfig{Type: "filesystem", Dir: "/spool", MaxSize: 2048},
			Vault:        VaultConfig{Type: "s3", Name: "archive", S3Bucket: "audit", S3Region: "ap-southeast-2"},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/keys/agrireg.pub",
			PrivateKeyPath: "/keys/agrireg.key",
		},
		Server: ServerConfig{Addr: ":9090"},
		Actor:  ActorConfig{UUID: "a-1", Name: "Ops", Role: "admin"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Envelope != original.Envelope {
		t.Errorf("Envelope = %+v, want %+v", got.Envelope, original.Envelope)
	}
	if got.Sequence != original.Sequence {
		t.Errorf("Sequence = %+v, want %+v", got.Sequence, original.Sequence)
	}
	if got.Audit != original.Audit {
		t.Errorf("Audit = %+v, want %+v", got.Audit, original.Audit)
	}
	if got.Encryption != original.Encryption {
		t.Errorf("Encryption = %+v, want %+v", got.Encryption, original.Encryption)
	}
	if got.Server.Addr != ":9090" {
		t.Errorf("Server.Addr = %q, want %q", got.Server.Addr, ":9090")
	}
	if got.Actor.Role != "admin" {
		t.Errorf("Actor.Role = %q, want %q", got.Actor.Role, "admin")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/agrireg")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/agrireg/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/agrireg/log")
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/agrireg/db" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Envelope.SecretPath != "/data/agrireg/keys/envelope.key" {
		t.Errorf("Envelope.SecretPath = %q", cfg.Envelope.SecretPath)
	}
	if cfg.Encryption.PublicKeyPath != "/data/agrireg/keys/agrireg.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/agrireg/keys/agrireg.pub")
	}
	if cfg.Audit.Spool.MaxSize <= 0 {
		t.Errorf("Audit.Spool.MaxSize = %d, want positive default", cfg.Audit.Spool.MaxSize)
	}
}

func TestEnvelopeConfig_TTLDuration(t *testing.T) {
	tests := []struct {
		ttl     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"15m", 15 * time.Minute, false},
		{"forever", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.ttl, func(t *testing.T) {
			got, err := EnvelopeConfig{TTL: tt.ttl}.TTLDuration()
			if (err != nil) != tt.wantErr {
				t.Fatalf("TTLDuration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("TTLDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "agrireg.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "agrireg.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "agrireg.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/agrireg.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}

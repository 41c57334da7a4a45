package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodia.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendLevelDB {
		t.Fatalf("default backend: %s", cfg.Backend)
	}
	if cfg.ResponseWindowSeconds != 7*24*60*60 {
		t.Fatalf("default response window: %d", cfg.ResponseWindowSeconds)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	// Loading again reads the persisted file.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodia.toml")
	if err := os.WriteFile(path, []byte("Backend = \"redis\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown backend to fail")
	}
}

func TestLoadRejectsBadAdminAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodia.toml")
	if err := os.WriteFile(path, []byte("AdminAddress = \"nope\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected bad admin address to fail")
	}
}

func TestAdminBlankIsZero(t *testing.T) {
	cfg := &Config{}
	addr, err := cfg.Admin()
	if err != nil {
		t.Fatalf("Admin: %v", err)
	}
	if addr != ([20]byte{}) {
		t.Fatalf("blank admin should decode to zero address")
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"custodia/crypto"
)

// Config is the node configuration loaded from TOML.
type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`
	Backend        string `toml:"Backend"`
	AdminAddress   string `toml:"AdminAddress"`

	ResponseWindowSeconds int64 `toml:"ResponseWindowSeconds"`
	LockDurationSeconds   int64 `toml:"LockDurationSeconds"`
	ClawbackDelaySeconds  int64 `toml:"ClawbackDelaySeconds"`

	AuthTokenSecret string `toml:"AuthTokenSecret"`
	RateLimitPerSec int    `toml:"RateLimitPerSec"`

	LogLevel   string `toml:"LogLevel"`
	LogFile    string `toml:"LogFile"`
	LogMaxSize int    `toml:"LogMaxSizeMB"`
}

const (
	// BackendLevelDB and BackendBolt name the supported storage backends.
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	// BackendMemory is for tests and throwaway nodes only.
	BackendMemory = "memory"
)

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg, path)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.GatewayAddress) == "" {
		cfg.GatewayAddress = "127.0.0.1:8646"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(cfg.Backend) == "" {
		cfg.Backend = BackendLevelDB
	}
	if cfg.ResponseWindowSeconds <= 0 {
		cfg.ResponseWindowSeconds = 7 * 24 * 60 * 60
	}
	if cfg.LockDurationSeconds <= 0 {
		cfg.LockDurationSeconds = 24 * 60 * 60
	}
	if cfg.ClawbackDelaySeconds <= 0 {
		cfg.ClawbackDelaySeconds = 30 * 24 * 60 * 60
	}
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 50
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogMaxSize <= 0 {
		cfg.LogMaxSize = 100
	}
}

// Validate rejects configurations the node cannot run with.
func Validate(cfg *Config) error {
	switch cfg.Backend {
	case BackendLevelDB, BackendBolt, BackendMemory:
	default:
		return fmt.Errorf("config: unknown backend %q", cfg.Backend)
	}
	if trimmed := strings.TrimSpace(cfg.AdminAddress); trimmed != "" {
		if _, err := crypto.DecodeAddress(trimmed); err != nil {
			return fmt.Errorf("config: admin address: %w", err)
		}
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", cfg.LogLevel)
	}
	return nil
}

// Admin decodes the configured admin address. A blank address yields the
// zero address, which disables admin-gated operations.
func (c *Config) Admin() ([20]byte, error) {
	trimmed := strings.TrimSpace(c.AdminAddress)
	if trimmed == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes(), nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg, path)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

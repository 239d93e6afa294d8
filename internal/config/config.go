package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. DAYCAL_* environment variables override the file.

const (
	defaultListen   = "127.0.0.1:8080"
	defaultDataDir  = "/var/lib/daycal"
	defaultLogLevel = "info"
	defaultResync   = "*/5 * * * *"
	defaultGC       = "0 * * * *"
	defaultIssuer   = "daycal"
	defaultTokenTTL = 24 * time.Hour
	defaultFeedName = "Claimed days"
	defaultServer   = "http://127.0.0.1:8080"
)

// AuthConfig controls bearer token verification and minting.
type AuthConfig struct {
	// Issuer is checked on every token and written into minted ones.
	Issuer string `yaml:"issuer" json:"issuer" env:"DAYCAL_AUTH_ISSUER"`

	// Secret is the HS256 signing key. Generated on first run.
	Secret string `yaml:"secret" json:"-" env:"DAYCAL_AUTH_SECRET"`

	// TokenTTL is the lifetime of tokens minted by `daycal token`.
	TokenTTL time.Duration `yaml:"token_ttl" json:"token_ttl" env:"DAYCAL_AUTH_TOKEN_TTL"`
}

// ClientConfig is used by the client-side commands (claim, clear, watch, ...).
type ClientConfig struct {
	// Server is the base URL of a running `daycal serve`.
	Server string `yaml:"server" json:"server" env:"DAYCAL_SERVER"`

	// Token is the bearer token presented to the server.
	Token string `yaml:"token,omitempty" json:"-" env:"DAYCAL_TOKEN"`

	// PrefsPath is where the local profile override is kept. Empty keeps
	// it in memory only.
	PrefsPath string `yaml:"prefs_path" json:"prefs_path" env:"DAYCAL_PREFS_PATH"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"DAYCAL_LISTEN"`

	// DataDir holds the claim database.
	DataDir string `yaml:"data_dir" json:"data_dir" env:"DAYCAL_DATA_DIR"`

	// InMemory keeps claims in RAM only; everything is lost on exit.
	InMemory bool `yaml:"in_memory" json:"in_memory" env:"DAYCAL_IN_MEMORY"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level" env:"DAYCAL_LOG_LEVEL"`

	// ResyncCron is a cron-style schedule (e.g. "*/5 * * * *") on which the
	// full claim set is re-broadcast to every subscriber.
	ResyncCron string `yaml:"resync" json:"resync" env:"DAYCAL_RESYNC"`

	// GCCron schedules value log garbage collection.
	GCCron string `yaml:"gc" json:"gc" env:"DAYCAL_GC"`

	// FeedName is the calendar name shown for /calendar.ics.
	FeedName string `yaml:"feed_name" json:"feed_name" env:"DAYCAL_FEED_NAME"`

	Auth   AuthConfig   `yaml:"auth" json:"auth"`
	Client ClientConfig `yaml:"client" json:"client"`
}

// DefaultConfig returns an in-memory default configuration. The signing
// secret is freshly generated.
func DefaultConfig() *Config {
	return &Config{
		Listen:     defaultListen,
		DataDir:    defaultDataDir,
		LogLevel:   defaultLogLevel,
		ResyncCron: defaultResync,
		GCCron:     defaultGC,
		FeedName:   defaultFeedName,
		Auth: AuthConfig{
			Issuer:   defaultIssuer,
			Secret:   newSecret(),
			TokenTTL: defaultTokenTTL,
		},
		Client: ClientConfig{
			Server: defaultServer,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.ResyncCron == "" {
		c.ResyncCron = defaultResync
	}
	if c.GCCron == "" {
		c.GCCron = defaultGC
	}
	if c.FeedName == "" {
		c.FeedName = defaultFeedName
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = defaultIssuer
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}
	if c.Client.Server == "" {
		c.Client.Server = defaultServer
	}
}

// ApplyEnv overrides c with any DAYCAL_* variables that are set.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults; a missing secret is generated and saved back
//
// Environment overrides are applied last in both cases and never saved.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, cfg.ApplyEnv()
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = newSecret()
		if err := Save(path, &cfg); err != nil {
			return &cfg, err
		}
	}

	return &cfg, cfg.ApplyEnv()
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".daycal-config-*.tmp")
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory, then renames it into place with 0600 permissions.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func newSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms.
		panic(fmt.Sprintf("config: generate secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

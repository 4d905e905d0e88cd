package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.tgvault/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	Telegram       Telegram `toml:"telegram"`
	Sync           Sync     `toml:"sync"`
}

// Telegram holds API credentials for the MTProto client.
// AppID/AppHash come from my.telegram.org and identify the application,
// not the account; the account session lives in the session database.
type Telegram struct {
	AppID   int    `toml:"app_id"`
	AppHash string `toml:"app_hash"`
}

// Sync holds archive engine tuning knobs.
type Sync struct {
	BatchSize        int `toml:"batch_size"`         // messages per history request, capped at 100 by the API
	InterJobDelaySec int `toml:"inter_job_delay_s"`  // pause between drained jobs
	DefaultDepth     int `toml:"default_depth"`      // default backfill target per job
	MetadataTTLDays  int `toml:"metadata_ttl_days"`  // channel metadata staleness bound
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset sync knobs with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Sync.BatchSize <= 0 || c.Sync.BatchSize > 100 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.InterJobDelaySec <= 0 {
		c.Sync.InterJobDelaySec = 2
	}
	if c.Sync.DefaultDepth <= 0 {
		c.Sync.DefaultDepth = 1000
	}
	if c.Sync.MetadataTTLDays <= 0 {
		c.Sync.MetadataTTLDays = 7
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (skipped when path is empty or the file
// does not exist) over Defaults, loads .env if present and then applies
// WAGER_* overrides. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()

	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnv overlays WAGER_* environment variables onto cfg. Unset variables
// leave the existing values alone.
func ParseEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

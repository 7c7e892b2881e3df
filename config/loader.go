package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const defaultConfigPath = "./config.yaml"

// Defaults seeds the settings whose zero value is a valid choice (false, 0).
// They must not carry env-default: cleanenv fills any zero field from that
// tag, which would turn an explicit YAML false back into true.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{Migrate: true},
		Ledger:   LedgerConfig{MaxRetries: 3},
		Audit:    AuditConfig{Enabled: true},
	}
}

// Load builds the configuration in layers, later ones winning:
//
//	Defaults -> env-default tags -> YAML file -> environment variables
//
// The file is CONFIG_PATH, or ./config.yaml when CONFIG_PATH is unset. A
// missing ./config.yaml is fine; a missing CONFIG_PATH file is an error.
// The result is validated before it is returned.
func Load() (*Config, error) {
	cfg := Defaults()

	path, explicit := os.LookupEnv("CONFIG_PATH")
	if !explicit || path == "" {
		path, explicit = defaultConfigPath, false
	}

	switch _, err := os.Stat(path); {
	case err == nil:
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config: file %s: %w", path, err)
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

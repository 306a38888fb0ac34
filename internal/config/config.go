// Package config loads crewd.yaml and environment overrides into the
// model.Config consumed by the daemon and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/crewops/crewd/internal/model"
)

// ConfigFileName is the config file looked up inside the crewd dir.
const ConfigFileName = "crewd.yaml"

// Load reads <crewdDir>/crewd.yaml over the defaults. A missing file
// is not an error: the defaults run as-is. .env files next to the
// working directory are folded into the environment first, and
// DATABASE_URL, when set, overrides the storage DSN.
func Load(crewdDir string) (model.Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(crewdDir, ".env"))

	cfg := model.DefaultConfig()

	data, err := os.ReadFile(filepath.Join(crewdDir, ConfigFileName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Defaults only.
	case err != nil:
		return model.Config{}, fmt.Errorf("read %s: %w", ConfigFileName, err)
	default:
		if err := yamlv3.Unmarshal(data, &cfg); err != nil {
			return model.Config{}, fmt.Errorf("parse %s: %w", ConfigFileName, err)
		}
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Storage.DatabaseURL = dsn
	}

	if err := validate(cfg); err != nil {
		return model.Config{}, err
	}
	return cfg, nil
}

func validate(cfg model.Config) error {
	switch cfg.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Executor.Kind != "simulated" {
		return fmt.Errorf("unknown executor kind %q", cfg.Executor.Kind)
	}
	if cfg.Cost.JobThresholdUSD < 0 || cfg.Cost.DailyThresholdUSD < 0 || cfg.Cost.MonthlyThresholdUSD < 0 {
		return fmt.Errorf("cost thresholds must not be negative")
	}
	if cfg.Safety.AlertThreshold < 0 || cfg.Safety.AlertThreshold > 1 {
		return fmt.Errorf("safety alert_threshold must be in [0,1], got %v", cfg.Safety.AlertThreshold)
	}
	return nil
}

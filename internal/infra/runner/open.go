// Package runner selects and opens a command runner backend from the
// environment.
package runner

import (
	"context"
	"fmt"

	"github.com/caarlos0/env/v11"

	"stratum/internal/infra/runner/memory"
	"stratum/internal/infra/runner/postgres"
	"stratum/internal/infra/runner/sqlite"
	"stratum/pkg/transaction"
)

// Config carries the backend selection, read from the environment.
type Config struct {
	Driver      string `env:"STRATUM_RUNNER_DRIVER" envDefault:"memory"`
	SQLitePath  string `env:"STRATUM_SQLITE_PATH" envDefault:"stratum.db"`
	PostgresDSN string `env:"STRATUM_POSTGRES_DSN"`
}

// LoadConfig reads the runner configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse runner config: %w", err)
	}
	return cfg, nil
}

// Open builds the runner named by the configuration and returns it with a
// release function.
func Open(ctx context.Context, cfg Config) (transaction.Runner, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewRunner(), func() error { return nil }, nil
	case "sqlite":
		r, err := sqlite.NewRunner(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres runner requires STRATUM_POSTGRES_DSN")
		}
		r, err := postgres.NewRunner(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return r, func() error { r.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown runner driver %q", cfg.Driver)
	}
}

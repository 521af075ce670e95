package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// DaemonEnv is the orchestrator daemon's environment.
type DaemonEnv struct {
	RedisURL   string `env:"REDIS_URL,required,notEmpty"`
	Namespace  string `env:"GAMBIT_NAMESPACE"`
	ConfigPath string `env:"GAMBIT_CONFIG"`
	Addr       string `env:"GAMBIT_ADDR"`
}

// LoadEnv parses the daemon environment.
func LoadEnv() (DaemonEnv, error) {
	var e DaemonEnv
	if err := env.Parse(&e); err != nil {
		return DaemonEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Resolve loads gambit.yml (or the defaults when no path is set) and applies
// environment overrides. The namespace must end up non-empty.
func (e DaemonEnv) Resolve() (*GambitConfig, error) {
	cfg := Default()
	if e.ConfigPath != "" {
		loaded, err := Load(e.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if e.Namespace != "" {
		cfg.Namespace = e.Namespace
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("namespace is required: set GAMBIT_NAMESPACE or namespace in gambit.yml")
	}
	if e.Addr != "" {
		cfg.Server.Addr = e.Addr
	}
	return cfg, nil
}

// CLIEnv supplies defaults for the gambit CLI's global flags.
type CLIEnv struct {
	Server    string `env:"GAMBIT_SERVER" envDefault:"http://localhost:8080"`
	RedisURL  string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	Namespace string `env:"GAMBIT_NAMESPACE" envDefault:"default"`
}

// LoadCLIEnv parses the CLI environment.
func LoadCLIEnv() (CLIEnv, error) {
	var e CLIEnv
	if err := env.Parse(&e); err != nil {
		return CLIEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

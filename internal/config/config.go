package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Executor     ExecutorConfig     `yaml:"executor"`
	NATS         NATSConfig         `yaml:"nats"`
	Store        StoreConfig        `yaml:"store"`
	Web          WebConfig          `yaml:"web"`
	Vault        VaultConfig        `yaml:"vault"`
}

type OrchestratorConfig struct {
	Workers     int           `yaml:"workers"`
	PollBackoff time.Duration `yaml:"poll_backoff"`
	// Balancer selects the agent-selection strategy: round_robin,
	// least_loaded, weighted or capability_based.
	Balancer string `yaml:"balancer"`
}

type ExecutorConfig struct {
	// Backend selects the execution capability: "simulated" or "nats".
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type VaultConfig struct {
	Passphrase string `yaml:"passphrase"`
}

func defaults() Config {
	return Config{
		Orchestrator: OrchestratorConfig{
			Workers:     4,
			PollBackoff: 100 * time.Millisecond,
			Balancer:    "least_loaded",
		},
		Executor: ExecutorConfig{
			Backend: "simulated",
			Timeout: 15 * time.Minute,
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/crewd.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CREWD_CONFIG")
	if path == "" {
		path = "config/crewd.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CREWD_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Orchestrator.Workers = n
		}
	}
	if v := os.Getenv("CREWD_EXECUTOR_BACKEND"); v != "" {
		cfg.Executor.Backend = v
	}
	if v := os.Getenv("CREWD_BALANCER"); v != "" {
		cfg.Orchestrator.Balancer = v
	}
	if v := os.Getenv("CREWD_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("CREWD_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("CREWD_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CREWD_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CREWD_VAULT_PASSPHRASE"); v != "" {
		cfg.Vault.Passphrase = v
	}
}

// Package config loads and validates the atrium.yaml project file. The core
// components receive the parsed struct at construction and never touch the
// file themselves.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	World     string           `yaml:"world"`
	Version   int              `yaml:"version"`
	Database  DatabaseConfig   `yaml:"database"`
	Listen    ListenConfig     `yaml:"listen"`
	Backend   BackendConfig    `yaml:"backend"`
	Compose   ComposeConfig    `yaml:"compose"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Providers []ProviderConfig `yaml:"providers"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type ListenConfig struct {
	Addr string `yaml:"addr"`
}

type BackendConfig struct {
	Kind      string `yaml:"kind"` // anthropic or openai
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"api_key_env"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ComposeConfig struct {
	Budget       int `yaml:"budget"`
	HistoryLimit int `yaml:"history_limit"`
}

type GatewayConfig struct {
	CallTimeout   Duration `yaml:"call_timeout"`
	SweepInterval Duration `yaml:"sweep_interval"`
}

type ProviderConfig struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Env     []string `yaml:"env"`
}

// Duration parses yaml scalars like "30s" via time.ParseDuration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	cfg.applyDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Listen.Addr == "" {
		cfg.Listen.Addr = ":4000"
	}
	if cfg.Compose.Budget == 0 {
		cfg.Compose.Budget = 8000
	}
	if cfg.Compose.HistoryLimit == 0 {
		cfg.Compose.HistoryLimit = 200
	}
	if cfg.Gateway.CallTimeout == 0 {
		cfg.Gateway.CallTimeout = Duration(30 * time.Second)
	}
	if cfg.Gateway.SweepInterval == 0 {
		cfg.Gateway.SweepInterval = Duration(5 * time.Second)
	}
	if cfg.Backend.MaxTokens == 0 {
		cfg.Backend.MaxTokens = 4096
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.World) == "" {
		return fmt.Errorf("world name is required")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported version: %d", cfg.Version)
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if !strings.HasPrefix(cfg.Database.DSN, "sqlite://") && !strings.HasPrefix(cfg.Database.DSN, "postgres://") {
		return fmt.Errorf("unsupported database dsn scheme: %s", cfg.Database.DSN)
	}

	switch cfg.Backend.Kind {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("unsupported backend kind: %s", cfg.Backend.Kind)
	}

	seen := make(map[string]struct{})
	for i, p := range cfg.Providers {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("provider %d name is required", i)
		}
		if strings.Contains(p.Name, ":") {
			return fmt.Errorf("provider name %q must not contain ':'", p.Name)
		}
		if strings.TrimSpace(p.Command) == "" {
			return fmt.Errorf("provider %q command is required", p.Name)
		}
		key := strings.ToLower(p.Name)
		if _, exists := seen[key]; exists {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		seen[key] = struct{}{}
	}

	return nil
}

package main

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/crewline/crewline/pkg/models"
)

// ProviderConfig holds one provider's credentials. BaseURL is only used for
// OpenAI-compatible endpoints beyond the built-in providers.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Config is the crewline runtime configuration file.
type Config struct {
	DataDir   string                    `yaml:"data_dir"`
	Providers map[string]ProviderConfig `yaml:"providers"`
	Secrets   map[string]string         `yaml:"secrets"`
	Agents    []*models.AgentConfig     `yaml:"agents"`
	Squads    []*models.SquadConfig     `yaml:"squads"`
}

var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadConfig reads and validates the YAML config. `${VAR}` references in
// provider keys and secrets are resolved from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	for name, pc := range cfg.Providers {
		pc.APIKey = expandEnv(pc.APIKey)
		cfg.Providers[name] = pc
	}
	for k, v := range cfg.Secrets {
		cfg.Secrets[k] = expandEnv(v)
	}

	seen := make(map[string]struct{}, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent with empty id in %s", path)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id %q in %s", a.ID, path)
		}
		seen[a.ID] = struct{}{}
		if a.Provider == "" || a.Model == "" {
			return nil, fmt.Errorf("agent %q needs provider and model", a.ID)
		}
	}
	return &cfg, nil
}

// Agent returns a configured agent by id.
func (c *Config) Agent(id string) (*models.AgentConfig, bool) {
	for _, a := range c.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return nil, false
}

// Squad returns a configured squad by id or name.
func (c *Config) Squad(id string) (*models.SquadConfig, bool) {
	for _, s := range c.Squads {
		if s.ID == id || s.Name == id {
			return s, true
		}
	}
	return nil, false
}

func expandEnv(s string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefRe.FindStringSubmatch(ref)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return ""
	})
}

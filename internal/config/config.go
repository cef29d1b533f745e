package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"crewline/internal/domain"
)

// Config models crewline.yml.
type Config struct {
	Project struct {
		Name         string   `yaml:"name"`
		CurrentPhase string   `yaml:"current_phase"`
		Phases       []string `yaml:"phases"`
	} `yaml:"project"`
	Recommendations struct {
		DefaultLimit int           `yaml:"default_limit"`
		HistoryLimit int           `yaml:"history_limit"`
		Scoring      ScoringConfig `yaml:"scoring"`
	} `yaml:"recommendations"`
	// Capabilities maps a task category to the capability an AI agent
	// must declare to be offered tasks in that category.
	Capabilities map[string]string `yaml:"capabilities"`
	Tasks        struct {
		StrictTransitions bool `yaml:"strict_transitions"`
	} `yaml:"tasks"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ScoringConfig holds the four additive point tables.
type ScoringConfig struct {
	Priority    map[string]int `yaml:"priority"`
	Risk        map[string]int `yaml:"risk"`
	Blocking    int            `yaml:"blocking"`
	Independent int            `yaml:"independent"`
	PhaseMatch  int            `yaml:"phase_match"`
	PhaseOther  int            `yaml:"phase_other"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var knownPriorities = map[string]bool{
	domain.PriorityCritical: true,
	domain.PriorityHigh:     true,
	domain.PriorityMedium:   true,
	domain.PriorityLow:      true,
}

var knownRisks = map[string]bool{
	domain.RiskHigh:   true,
	domain.RiskMedium: true,
	domain.RiskLow:    true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with crew config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Recommendations.DefaultLimit <= 0 {
		return fmt.Errorf("config.recommendations.default_limit must be positive")
	}
	if c.Recommendations.HistoryLimit <= 0 {
		return fmt.Errorf("config.recommendations.history_limit must be positive")
	}
	for key := range c.Recommendations.Scoring.Priority {
		if !knownPriorities[key] {
			return fmt.Errorf("config.recommendations.scoring.priority has unknown key %s", key)
		}
	}
	for key := range c.Recommendations.Scoring.Risk {
		if !knownRisks[key] {
			return fmt.Errorf("config.recommendations.scoring.risk has unknown key %s", key)
		}
	}
	if c.Project.CurrentPhase != "" && len(c.Project.Phases) > 0 {
		found := false
		for _, p := range c.Project.Phases {
			if p == c.Project.CurrentPhase {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("config.project.current_phase %s not in phases list", c.Project.CurrentPhase)
		}
	}
	for i, hook := range c.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectName string) string {
	if projectName == "" {
		projectName = "crewline"
	}
	return fmt.Sprintf(defaultTemplate, projectName)
}

// Default returns the default Config struct for a project.
func Default(projectName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(projectName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Omitted
// scoring tables, limits, and the capability map fall back to defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  name: %s
  current_phase: ""
  phases: []

recommendations:
  default_limit: 3
  history_limit: 50
  scoring:
    priority:
      critical: 10
      high: 7
      medium: 5
      low: 2
    risk:
      high: 8
      medium: 5
      low: 2
    blocking: 8
    independent: 1
    phase_match: 10
    phase_other: 3

capabilities:
  coding: coding
  feature: coding
  testing: testing
  documentation: documentation
  analysis: analysis

tasks:
  strict_transitions: false

webhooks: []
`

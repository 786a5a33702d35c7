package analysis

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// ConfigStore loads and saves scoring table overrides as YAML
type ConfigStore struct {
	path string
}

// NewConfigStore creates a store for the given file path
func NewConfigStore(path string) *ConfigStore {
	return &ConfigStore{path: path}
}

// Path returns the backing file
func (c *ConfigStore) Path() string {
	return c.path
}

// Load returns the defaults merged with the overrides in the file. A missing
// file is not an error.
func (c *ConfigStore) Load() (*ScoringConfig, error) {
	cfg := DefaultScoringConfig()
	if c.path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scoring config: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode scoring config: %w", err)
	}

	// stage keys are matched case-insensitively
	stages := make(map[string]StageThresholds, len(cfg.Stages))
	for name, t := range cfg.Stages {
		stages[strings.ToLower(strings.TrimSpace(name))] = t
	}
	cfg.Stages = stages

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the full effective config to the file
func (c *ConfigStore) Save(cfg *ScoringConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create scoring config directory: %w", err)
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode scoring config: %w", err)
	}
	if err := os.WriteFile(c.path, out, 0644); err != nil {
		return fmt.Errorf("failed to write scoring config: %w", err)
	}
	return nil
}

// Validate rejects tables the scorers cannot use
func Validate(cfg *ScoringConfig) error {
	check := func(name string, t StageThresholds) error {
		if t.Optimal < 0 || t.Warning < t.Optimal || t.Critical < t.Warning {
			return fmt.Errorf("stage %q thresholds must satisfy 0 <= optimal <= warning <= critical", name)
		}
		return nil
	}
	if err := check("default", cfg.DefaultStage); err != nil {
		return err
	}
	for name, t := range cfg.Stages {
		if err := check(name, t); err != nil {
			return err
		}
	}
	for _, set := range []struct {
		label   string
		weights map[types.Signal]float64
	}{
		{"deal", cfg.DealWeights},
		{"relationship", cfg.RelationshipWeights},
	} {
		label := set.label
		total := 0.0
		for signal, w := range set.weights {
			if w < 0 {
				return fmt.Errorf("%s weight for %s must not be negative", label, signal)
			}
			total += w
		}
		if total <= 0 {
			return fmt.Errorf("%s weights must not all be zero", label)
		}
	}
	return nil
}

package rules

import (
	"fmt"
	"os"

	"github.com/opensource-finance/heron/internal/domain"
	"gopkg.in/yaml.v3"
)

// ParseSeed decodes a YAML rule catalog. Rules default to enabled.
func ParseSeed(data []byte) ([]*domain.Rule, error) {
	var file struct {
		Rules []yaml.Node `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule seed: %w", err)
	}

	rules := make([]*domain.Rule, 0, len(file.Rules))
	for i := range file.Rules {
		rule := &domain.Rule{Enabled: true}
		if err := file.Rules[i].Decode(rule); err != nil {
			return nil, fmt.Errorf("failed to parse rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadSeedFile reads a YAML rule catalog from disk.
func LoadSeedFile(path string) ([]*domain.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule seed %s: %w", path, err)
	}
	return ParseSeed(data)
}

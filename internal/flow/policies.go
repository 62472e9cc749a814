// Package flow loads the collection step table from YAML and serves it to
// the engine, optionally through a Redis cache.
package flow

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wolfman30/dental-collections/internal/collections"
)

//go:embed default_policies.yaml
var defaultPolicies []byte

type policyFile struct {
	Steps []collections.FlowStepPolicy `yaml:"steps"`
}

// Parse decodes and validates a step table.
func Parse(data []byte) ([]collections.FlowStepPolicy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("flow: decode policies: %w", err)
	}
	seen := make(map[int]bool, len(f.Steps))
	for _, p := range f.Steps {
		if p.StepNumber < 0 {
			return nil, fmt.Errorf("flow: step %d: negative step number", p.StepNumber)
		}
		if seen[p.StepNumber] {
			return nil, fmt.Errorf("flow: step %d: duplicate step number", p.StepNumber)
		}
		seen[p.StepNumber] = true
		if p.CooldownDays < 0 {
			return nil, fmt.Errorf("flow: step %d: negative cooldown", p.StepNumber)
		}
		for _, ch := range p.Channels {
			if !ch.Valid() {
				return nil, fmt.Errorf("flow: step %d: unknown channel %q", p.StepNumber, ch)
			}
		}
	}
	return f.Steps, nil
}

// Default returns the embedded step table.
func Default() []collections.FlowStepPolicy {
	policies, err := Parse(defaultPolicies)
	if err != nil {
		panic(err)
	}
	return policies
}

// LoadFile reads a step table from path. An empty path yields the default table.
func LoadFile(path string) ([]collections.FlowStepPolicy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("flow: read %s: %w", path, err)
	}
	return Parse(data)
}

// StaticRepository serves a fixed table.
type StaticRepository struct {
	policies []collections.FlowStepPolicy
}

func NewStaticRepository(policies []collections.FlowStepPolicy) *StaticRepository {
	return &StaticRepository{policies: policies}
}

func (r *StaticRepository) ListPolicies(context.Context) ([]collections.FlowStepPolicy, error) {
	out := make([]collections.FlowStepPolicy, len(r.policies))
	copy(out, r.policies)
	return out, nil
}

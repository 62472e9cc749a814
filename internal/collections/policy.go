package collections

import (
	"context"
	"sort"

	"github.com/wolfman30/dental-collections/internal/notify"
)

// FlowStepPolicy configures one step of the collection flow.
type FlowStepPolicy struct {
	StepNumber   int              `json:"step_number" yaml:"step_number"`
	Channels     []notify.Channel `json:"channels" yaml:"channels"`
	CooldownDays int              `json:"cooldown_days" yaml:"cooldown_days"`
	Active       bool             `json:"active" yaml:"active"`
	Description  string           `json:"description,omitempty" yaml:"description,omitempty"`
}

// PolicyRepository loads the full step table.
type PolicyRepository interface {
	ListPolicies(ctx context.Context) ([]FlowStepPolicy, error)
}

// PolicyBook is an immutable, indexed view of the step table.
type PolicyBook struct {
	byStep map[int]FlowStepPolicy
	steps  []int
}

func NewPolicyBook(policies []FlowStepPolicy) *PolicyBook {
	b := &PolicyBook{byStep: make(map[int]FlowStepPolicy, len(policies))}
	for _, p := range policies {
		if _, dup := b.byStep[p.StepNumber]; !dup {
			b.steps = append(b.steps, p.StepNumber)
		}
		b.byStep[p.StepNumber] = p
	}
	sort.Ints(b.steps)
	return b
}

// LoadPolicyBook reads the table from repo.
func LoadPolicyBook(ctx context.Context, repo PolicyRepository) (*PolicyBook, error) {
	policies, err := repo.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return NewPolicyBook(policies), nil
}

// FindByStep returns the policy for step regardless of its active flag.
func (b *PolicyBook) FindByStep(step int) (FlowStepPolicy, bool) {
	p, ok := b.byStep[step]
	return p, ok
}

// GetActive returns the policy for step only when it is active.
func (b *PolicyBook) GetActive(step int) (FlowStepPolicy, bool) {
	p, ok := b.byStep[step]
	if !ok || !p.Active {
		return FlowStepPolicy{}, false
	}
	return p, true
}

// MaxActiveStep returns the highest active step number, or 0 when none is active.
func (b *PolicyBook) MaxActiveStep() int {
	for i := len(b.steps) - 1; i >= 0; i-- {
		if b.byStep[b.steps[i]].Active {
			return b.steps[i]
		}
	}
	return 0
}

// Policies returns the table ordered by step.
func (b *PolicyBook) Policies() []FlowStepPolicy {
	out := make([]FlowStepPolicy, 0, len(b.steps))
	for _, s := range b.steps {
		out = append(out, b.byStep[s])
	}
	return out
}

package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/heron/internal/domain"
)

// Catalog is the queryable set of risk rules.
//
// Iteration order is the order rules were loaded in, which is stable across
// reloads of the same input. Matches in an assessment follow this order.
type Catalog struct {
	mu       sync.RWMutex
	compiler *compiler
	rules    []domain.Rule
	index    map[string]int
	programs map[string]cel.Program
}

// NewCatalog creates an empty catalog.
func NewCatalog() (*Catalog, error) {
	c, err := newCompiler()
	if err != nil {
		return nil, err
	}
	return &Catalog{
		compiler: c,
		index:    make(map[string]int),
		programs: make(map[string]cel.Program),
	}, nil
}

// Validate checks a rule definition and compiles its expression without
// changing the catalog.
func (c *Catalog) Validate(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if rule.RuleID == "" {
		return fmt.Errorf("%w: ruleId is required", domain.ErrInvalidInput)
	}
	if !rule.Category.Valid() {
		return fmt.Errorf("%w: rule %s has unknown category %q", domain.ErrInvalidInput, rule.RuleID, rule.Category)
	}
	if rule.RiskScore < 0 {
		return fmt.Errorf("%w: rule %s has negative risk score", domain.ErrInvalidInput, rule.RuleID)
	}
	if rule.Expression == "" {
		return nil
	}
	_, err := c.compiler.compile(rule)
	return err
}

// Load replaces the catalog with the enabled rules. Every rule, disabled ones
// included, is validated first; on any error the previous catalog stays in
// place.
func (c *Catalog) Load(rules []*domain.Rule) error {
	next := make([]domain.Rule, 0, len(rules))
	index := make(map[string]int, len(rules))
	programs := make(map[string]cel.Program)

	for _, r := range rules {
		if err := c.Validate(r); err != nil {
			return err
		}
		if _, dup := index[r.RuleID]; dup {
			return fmt.Errorf("%w: duplicate rule id %s", domain.ErrInvalidInput, r.RuleID)
		}
		if !r.Enabled {
			index[r.RuleID] = -1
			continue
		}
		if r.Expression != "" {
			program, err := c.compiler.compile(r)
			if err != nil {
				return err
			}
			programs[r.RuleID] = program
		}
		index[r.RuleID] = len(next)
		next = append(next, *r)
	}

	for id, i := range index {
		if i < 0 {
			delete(index, id)
		}
	}

	c.mu.Lock()
	c.rules = next
	c.index = index
	c.programs = programs
	c.mu.Unlock()
	return nil
}

// GetRules returns rules in catalog order, filtered by category when one is given.
func (c *Catalog) GetRules(category domain.RuleCategory) []domain.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if category != "" && r.Category != category {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GetRule looks a rule up by its business key.
func (c *Catalog) GetRule(ruleID string) (domain.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.index[ruleID]
	if !ok {
		return domain.Rule{}, fmt.Errorf("%w: rule %s", domain.ErrNotFound, ruleID)
	}
	return c.rules[i], nil
}

// Triggers returns a fresh predicate set built from the enabled rules'
// expressions. Callers may add or replace entries.
func (c *Catalog) Triggers() Triggers {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(Triggers, len(c.programs))
	for id, program := range c.programs {
		out[id] = predicate(id, program)
	}
	return out
}

// Count returns the number of rules in the catalog.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

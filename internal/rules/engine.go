// Package rules provides the rule catalog and its CEL trigger predicates.
package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/heron/internal/domain"
)

// Predicate reports whether evidence satisfies one rule's trigger condition.
type Predicate func(ctx context.Context, ev *domain.Evidence) (bool, error)

// Triggers maps rule ids to their predicates.
type Triggers map[string]Predicate

// With returns a copy of t with the given predicate set for ruleID.
func (t Triggers) With(ruleID string, p Predicate) Triggers {
	out := make(Triggers, len(t)+1)
	for k, v := range t {
		out[k] = v
	}
	out[ruleID] = p
	return out
}

// Always is a predicate that matches any evidence.
func Always(context.Context, *domain.Evidence) (bool, error) { return true, nil }

// Never is a predicate that matches no evidence.
func Never(context.Context, *domain.Evidence) (bool, error) { return false, nil }

// compiler turns rule expressions into CEL programs.
type compiler struct {
	env *cel.Env
}

func newCompiler() (*compiler, error) {
	// Evidence is exposed to expressions as:
	//   subject_id  the subject under evaluation
	//   category    the category filter, "" when unscoped
	//   factors     factor name -> value
	//   evidence    free-form attributes from the evidence builder
	env, err := cel.NewEnv(
		cel.Variable("subject_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("factors", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("evidence", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &compiler{env: env}, nil
}

func (c *compiler) compile(rule *domain.Rule) (cel.Program, error) {
	ast, issues := c.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: failed to compile rule %s: %v", domain.ErrInvalidInput, rule.RuleID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("%w: rule %s: expression must return bool, got %s", domain.ErrInvalidInput, rule.RuleID, outputType)
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.RuleID, err)
	}
	return program, nil
}

// predicate wraps a compiled program.
func predicate(ruleID string, program cel.Program) Predicate {
	return func(ctx context.Context, ev *domain.Evidence) (bool, error) {
		attrs := ev.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		out, _, err := program.ContextEval(ctx, map[string]any{
			"subject_id": ev.SubjectID,
			"category":   string(ev.Category),
			"factors":    ev.FactorValues(),
			"evidence":   attrs,
		})
		if err != nil {
			return false, fmt.Errorf("rule %s: %w", ruleID, err)
		}

		b, ok := out.(types.Bool)
		if !ok {
			return false, fmt.Errorf("rule %s: expression returned %v, want bool", ruleID, out.Type())
		}
		return bool(b), nil
	}
}

package domain

import "time"

// RuleCategory groups rules by the kind of evidence they inspect.
type RuleCategory string

const (
	CategoryTransaction RuleCategory = "transaction"
	CategoryKYC         RuleCategory = "kyc"
	CategoryBehavioral  RuleCategory = "behavioral"
)

// Valid reports whether c is a known category.
func (c RuleCategory) Valid() bool {
	switch c {
	case CategoryTransaction, CategoryKYC, CategoryBehavioral:
		return true
	}
	return false
}

// Rule is a named risk rule. When its trigger is satisfied it adds
// RiskScore points to an assessment.
type Rule struct {
	ID          string       `json:"id" yaml:"id"`
	RuleID      string       `json:"ruleId" yaml:"ruleId"`
	RuleName    string       `json:"ruleName" yaml:"ruleName"`
	Category    RuleCategory `json:"category" yaml:"category"`
	Description string       `json:"description" yaml:"description"`
	RiskScore   int          `json:"riskScore" yaml:"riskScore"`

	// Expression is a CEL predicate returning bool. Rules without one only
	// match when the caller supplies a trigger for them.
	Expression string `json:"expression,omitempty" yaml:"expression"`

	Enabled   bool      `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"-"`
}

// SameDefinition reports whether r and o score evidence identically. Only
// the enabled flag and timestamps may differ.
func (r Rule) SameDefinition(o Rule) bool {
	return r.RuleName == o.RuleName &&
		r.Category == o.Category &&
		r.Description == o.Description &&
		r.RiskScore == o.RiskScore &&
		r.Expression == o.Expression
}

// RuleMatch records a rule that fired during one evaluation.
// ContributedScore is a snapshot of the rule's score at evaluation time.
type RuleMatch struct {
	RuleID           string       `json:"ruleId"`
	RuleName         string       `json:"ruleName"`
	Category         RuleCategory `json:"category"`
	MatchedAt        time.Time    `json:"matchedAt"`
	ContributedScore int          `json:"contributedScore"`
}

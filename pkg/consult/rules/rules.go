package rules

import (
	"fmt"
	"strings"

	"github.com/cognicore/consult/pkg/consult/internalerr"
)

// Operator combines a rule's conditions.
type Operator string

const (
	And Operator = "AND"
	Or  Operator = "OR"
)

// ParseOperator normalizes an operator string. An empty string means AND.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "AND":
		return And, nil
	case "OR":
		return Or, nil
	default:
		return "", fmt.Errorf("%w: unknown operator %q", internalerr.ErrInvalidConfig, s)
	}
}

// Condition is one (fact, expected value) premise of a rule.
type Condition struct {
	Fact     string `json:"fact_name" yaml:"fact"`
	Expected bool   `json:"expected_value" yaml:"expected"`
}

// Rule is an implication from its conditions to Conclusion=ConclusionValue.
// Higher Priority rules are considered first.
type Rule struct {
	ID              string      `json:"rule_id" yaml:"id"`
	Domain          string      `json:"domain" yaml:"domain"`
	Conclusion      string      `json:"conclusion" yaml:"conclusion"`
	ConclusionValue bool        `json:"conclusion_value" yaml:"conclusion_value"`
	Operator        Operator    `json:"operator" yaml:"operator"`
	Priority        int         `json:"priority" yaml:"priority"`
	Final           bool        `json:"is_final_conclusion" yaml:"final"`
	Conditions      []Condition `json:"conditions" yaml:"conditions"`
}

// Validate checks the structural invariants of a single rule.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is empty", internalerr.ErrInvalidConfig)
	}
	if r.Conclusion == "" {
		return fmt.Errorf("%w: rule %s has no conclusion", internalerr.ErrInvalidConfig, r.ID)
	}
	if r.Operator != And && r.Operator != Or {
		return fmt.Errorf("%w: rule %s has operator %q", internalerr.ErrInvalidConfig, r.ID, r.Operator)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: rule %s has no conditions", internalerr.ErrInvalidConfig, r.ID)
	}
	for _, c := range r.Conditions {
		if c.Fact == "" {
			return fmt.Errorf("%w: rule %s has a condition without a fact", internalerr.ErrInvalidConfig, r.ID)
		}
		if c.Fact == r.Conclusion {
			return fmt.Errorf("%w: rule %s concludes its own condition %q", internalerr.ErrInvalidConfig, r.ID, c.Fact)
		}
	}
	return nil
}

// Clone returns a deep copy so the conditions slice is never shared.
func (r Rule) Clone() Rule {
	out := r
	out.Conditions = make([]Condition, len(r.Conditions))
	copy(out.Conditions, r.Conditions)
	return out
}

// Question is the presentational prompt configured for a fact.
type Question struct {
	Fact     string `json:"fact_name" yaml:"fact"`
	Text     string `json:"question_text" yaml:"text"`
	Domain   string `json:"domain" yaml:"domain"`
	Priority int    `json:"priority" yaml:"priority"`
}

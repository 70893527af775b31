package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/store"
)

// KnowledgeBase is the YAML seed format for rules and questions:
//
//	domains:
//	  - name: loans
//	    rules:
//	      - id: R1
//	        conclusion: approve
//	        operator: AND
//	        conditions:
//	          - {fact: income, expected: true}
//	    questions:
//	      - {fact: income, text: "Do you have a regular income?"}
type KnowledgeBase struct {
	Domains []Domain `yaml:"domains" validate:"required,min=1,dive"`
}

// Domain groups the rules and questions of one domain.
type Domain struct {
	Name      string         `yaml:"name" validate:"required"`
	Rules     []RuleSpec     `yaml:"rules" validate:"required,min=1,dive"`
	Questions []QuestionSpec `yaml:"questions" validate:"dive"`
}

// RuleSpec is a rule as written in YAML. Conclusion value defaults to true.
type RuleSpec struct {
	ID              string          `yaml:"id" validate:"required"`
	Conclusion      string          `yaml:"conclusion" validate:"required"`
	ConclusionValue *bool           `yaml:"conclusion_value"`
	Operator        string          `yaml:"operator" validate:"operator"`
	Priority        int             `yaml:"priority"`
	Final           bool            `yaml:"final"`
	Conditions      []ConditionSpec `yaml:"conditions" validate:"required,min=1,dive"`
}

// ConditionSpec is a condition as written in YAML. Expected defaults to true.
type ConditionSpec struct {
	Fact     string `yaml:"fact" validate:"required"`
	Expected *bool  `yaml:"expected"`
}

// QuestionSpec is a question as written in YAML.
type QuestionSpec struct {
	Fact     string `yaml:"fact" validate:"required"`
	Text     string `yaml:"text"`
	Priority int    `yaml:"priority" validate:"gte=0,lte=100"`
}

// LoadKnowledgeBase reads and validates a knowledge-base file.
func LoadKnowledgeBase(path string) (*KnowledgeBase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKnowledgeBase(data)
}

// ParseKnowledgeBase decodes and validates knowledge-base YAML.
func ParseKnowledgeBase(data []byte) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := yaml.Unmarshal(data, &kb); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := validate.Struct(&kb); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	// Building every catalog catches duplicate ids and self-loops early.
	for _, d := range kb.Domains {
		if _, err := rules.NewCatalog(d.Name, d.RuleSet(), d.QuestionSet()); err != nil {
			return nil, err
		}
	}
	return &kb, nil
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// RuleSet converts the domain's rule specs.
func (d Domain) RuleSet() []rules.Rule {
	out := make([]rules.Rule, 0, len(d.Rules))
	for _, rs := range d.Rules {
		op, _ := rules.ParseOperator(rs.Operator)
		r := rules.Rule{
			ID:              rs.ID,
			Domain:          d.Name,
			Conclusion:      rs.Conclusion,
			ConclusionValue: boolOr(rs.ConclusionValue, true),
			Operator:        op,
			Priority:        rs.Priority,
			Final:           rs.Final,
			Conditions:      make([]rules.Condition, len(rs.Conditions)),
		}
		for i, c := range rs.Conditions {
			r.Conditions[i] = rules.Condition{Fact: c.Fact, Expected: boolOr(c.Expected, true)}
		}
		out = append(out, r)
	}
	return out
}

// QuestionSet converts the domain's question specs.
func (d Domain) QuestionSet() []rules.Question {
	out := make([]rules.Question, len(d.Questions))
	for i, q := range d.Questions {
		out[i] = rules.Question{Fact: q.Fact, Text: q.Text, Domain: d.Name, Priority: q.Priority}
	}
	return out
}

// Seed writes every domain into st. Existing rules with the same ids are
// replaced; with replace set, each domain is cleared first. It returns the
// number of rules and questions written.
func (kb *KnowledgeBase) Seed(ctx context.Context, st store.Store, replace bool) (nRules, nQuestions int, err error) {
	for _, d := range kb.Domains {
		if replace {
			if err := st.DeleteDomain(ctx, d.Name); err != nil && !internalerr.IsNotFound(err) {
				return nRules, nQuestions, fmt.Errorf("clear domain %q: %w", d.Name, err)
			}
		}
		for _, r := range d.RuleSet() {
			if err := st.UpsertRule(ctx, r); err != nil {
				return nRules, nQuestions, fmt.Errorf("seed rule %s/%s: %w", d.Name, r.ID, err)
			}
			nRules++
		}
		for _, q := range d.QuestionSet() {
			if err := st.UpsertQuestion(ctx, q); err != nil {
				return nRules, nQuestions, fmt.Errorf("seed question %s/%s: %w", d.Name, q.Fact, err)
			}
			nQuestions++
		}
	}
	return nRules, nQuestions, nil
}

// DomainNames returns the names of every domain in file order.
func (kb *KnowledgeBase) DomainNames() []string {
	out := make([]string, len(kb.Domains))
	for i, d := range kb.Domains {
		out[i] = d.Name
	}
	return out
}

package session

import (
	"github.com/cognicore/consult/pkg/consult/facts"
	"github.com/cognicore/consult/pkg/consult/rules"
)

// ConditionStatus describes one rule condition against the current facts.
type ConditionStatus string

const (
	StatusSatisfied    ConditionStatus = "satisfied"
	StatusNotSatisfied ConditionStatus = "not_satisfied"
	StatusUnknown      ConditionStatus = "unknown"
	StatusUncertain    ConditionStatus = "uncertain"
)

// VisualCondition is a condition with its evaluation.
type VisualCondition struct {
	Fact      string          `json:"fact_name"`
	Expected  bool            `json:"expected_value"`
	Status    ConditionStatus `json:"status"`
	Derivable bool            `json:"is_derivable"`
	Assumed   bool            `json:"is_assumed"`
}

// VisualRule is a rule with its evaluation.
type VisualRule struct {
	ID                string            `json:"rule_id"`
	Conclusion        string            `json:"conclusion"`
	ConclusionValue   bool              `json:"conclusion_value"`
	Operator          rules.Operator    `json:"operator"`
	Priority          int               `json:"priority"`
	Conditions        []VisualCondition `json:"conditions"`
	ConclusionDerived bool              `json:"conclusion_derived"`
	IsFired           bool              `json:"is_fired"`
	IsFireable        bool              `json:"is_fireable"`
}

// Visualization is the rule network annotated with the session's facts.
type Visualization struct {
	SessionID           string       `json:"session_id"`
	Domain              string       `json:"domain"`
	Rules               []VisualRule `json:"rules"`
	FiredRules          []string     `json:"fired_rules"`
	CurrentQuestionFact string       `json:"current_question_fact"`
	Facts               facts.Export `json:"facts"`
}

// Visualize evaluates every rule of the catalog against the session state.
func (s *Session) Visualize() Visualization {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Visualization{
		SessionID:           s.id,
		Domain:              s.catalog.Domain(),
		Rules:               make([]VisualRule, 0, s.catalog.Len()),
		FiredRules:          nonNil(s.facts.FiredRules()),
		CurrentQuestionFact: s.pending,
		Facts:               s.facts.Export(),
	}
	for _, r := range s.catalog.Rules() {
		vr := VisualRule{
			ID:                r.ID,
			Conclusion:        r.Conclusion,
			ConclusionValue:   r.ConclusionValue,
			Operator:          r.Operator,
			Priority:          r.Priority,
			Conditions:        make([]VisualCondition, len(r.Conditions)),
			ConclusionDerived: s.facts.Matches(r.Conclusion, r.ConclusionValue),
			IsFired:           s.facts.HasFired(r.ID),
			IsFireable:        s.engine.Fireable(s.facts, r),
		}
		for i, c := range r.Conditions {
			vr.Conditions[i] = VisualCondition{
				Fact:      c.Fact,
				Expected:  c.Expected,
				Status:    s.conditionStatus(c),
				Derivable: s.catalog.IsDerivable(c.Fact),
				Assumed:   s.facts.IsFinalized(c.Fact),
			}
		}
		out.Rules = append(out.Rules, vr)
	}
	return out
}

// conditionStatus reports assumed facts as uncertain even after finalization
// so the user can see which conclusions rest on guesses.
func (s *Session) conditionStatus(c rules.Condition) ConditionStatus {
	v, ok := s.facts.Get(c.Fact)
	switch {
	case !ok:
		return StatusUnknown
	case s.facts.IsFinalized(c.Fact), v.State == facts.StateUncertain:
		return StatusUncertain
	case v.State == facts.StateUnknown:
		return StatusUnknown
	case v.Bool == c.Expected:
		return StatusSatisfied
	default:
		return StatusNotSatisfied
	}
}

package inference

import (
	"github.com/cognicore/consult/pkg/consult/facts"
	"github.com/cognicore/consult/pkg/consult/rules"
)

// Engine provides the reasoning over one domain's rule catalog.
// This interface allows swapping implementations without touching sessions.
type Engine interface {
	// Catalog returns the rules the engine reasons over.
	Catalog() *rules.Catalog

	// Forward fires every rule whose conditions hold against confirmed facts
	// until nothing more fires. Returns the IDs fired by this call.
	Forward(st *facts.Store) []string

	// NextQuestion finds the next fact that must be asked to make progress
	// toward goal. ok is false when nothing remains to ask for goal.
	NextQuestion(st *facts.Store, goal string) (fact string, ok bool)

	// Fireable reports whether r can still fire given current facts.
	Fireable(st *facts.Store, r rules.Rule) bool

	// Explain returns the chain of fired rules that confirmed fact.
	Explain(st *facts.Store, fact string) []Step
}

// Step represents one rule application in a derivation.
type Step struct {
	Fact       string            `json:"fact"`       // conclusion confirmed by the rule
	RuleID     string            `json:"rule_id"`    // which rule was applied
	Operator   rules.Operator    `json:"operator"`   // how the conditions were combined
	Conditions []rules.Condition `json:"conditions"` // the rule's premises
	Depth      int               `json:"depth"`      // how many hops from the explained fact
}

// DefaultPriorityThreshold is the question priority at which a derivable
// fact is asked directly instead of through its rules.
const DefaultPriorityThreshold = 80

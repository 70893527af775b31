package rules

import (
	"fmt"
	"sort"

	"github.com/cognicore/consult/pkg/consult/internalerr"
)

// Catalog is an immutable, per-domain view of rules and questions.
// It is safe for concurrent readers and is shared across sessions.
type Catalog struct {
	domain       string
	rules        []Rule
	byID         map[string]int
	byConclusion map[string][]int
	conditionOf  map[string]bool
	questions    map[string]Question
	goals        []string
}

// NewCatalog validates rules and orders them by descending priority, keeping
// insertion order for ties. Questions outside the domain are still accepted;
// fact names are global.
func NewCatalog(domain string, rs []Rule, qs []Question) (*Catalog, error) {
	if len(rs) == 0 {
		return nil, fmt.Errorf("%w: domain %q has no rules", internalerr.ErrInvalidConfig, domain)
	}

	c := &Catalog{
		domain:       domain,
		rules:        make([]Rule, 0, len(rs)),
		byID:         make(map[string]int, len(rs)),
		byConclusion: make(map[string][]int),
		conditionOf:  make(map[string]bool),
		questions:    make(map[string]Question, len(qs)),
	}

	seen := make(map[string]bool, len(rs))
	for _, r := range rs {
		if r.Operator == "" {
			r.Operator = And
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: rule id %q appears twice in domain %q", internalerr.ErrInvalidConfig, r.ID, domain)
		}
		seen[r.ID] = true
		c.rules = append(c.rules, r.Clone())
	}

	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})

	for i, r := range c.rules {
		c.byID[r.ID] = i
		c.byConclusion[r.Conclusion] = append(c.byConclusion[r.Conclusion], i)
		for _, cond := range r.Conditions {
			c.conditionOf[cond.Fact] = true
		}
	}

	for _, q := range qs {
		if q.Fact == "" {
			continue
		}
		c.questions[q.Fact] = q
	}

	c.goals = c.computeGoals()
	return c, nil
}

func (c *Catalog) computeGoals() []string {
	var goals []string
	seen := make(map[string]bool)
	for _, r := range c.rules {
		if r.Final && !seen[r.Conclusion] {
			seen[r.Conclusion] = true
			goals = append(goals, r.Conclusion)
		}
	}
	if len(goals) > 0 {
		return goals
	}
	// No rule is flagged final: every conclusion nothing else depends on is a goal.
	for _, r := range c.rules {
		if !c.conditionOf[r.Conclusion] && !seen[r.Conclusion] {
			seen[r.Conclusion] = true
			goals = append(goals, r.Conclusion)
		}
	}
	return goals
}

// Domain returns the domain tag the catalog was built for.
func (c *Catalog) Domain() string { return c.domain }

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Rules returns all rules in evaluation order. Callers must not modify them.
func (c *Catalog) Rules() []Rule { return c.rules }

// Rule looks up a rule by ID.
func (c *Catalog) Rule(id string) (Rule, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// ByConclusion returns the rules concluding fact, highest priority first.
func (c *Catalog) ByConclusion(fact string) []Rule {
	idx := c.byConclusion[fact]
	out := make([]Rule, len(idx))
	for i, j := range idx {
		out[i] = c.rules[j]
	}
	return out
}

// IsDerivable reports whether some rule concludes fact.
func (c *Catalog) IsDerivable(fact string) bool {
	return len(c.byConclusion[fact]) > 0
}

// Goals returns the domain's top-level conclusions.
func (c *Catalog) Goals() []string {
	out := make([]string, len(c.goals))
	copy(out, c.goals)
	return out
}

// IsGoal reports whether fact is one of the domain's top-level conclusions.
func (c *Catalog) IsGoal(fact string) bool {
	for _, g := range c.goals {
		if g == fact {
			return true
		}
	}
	return false
}

// Question returns the configured question for fact.
func (c *Catalog) Question(fact string) (Question, bool) {
	q, ok := c.questions[fact]
	return q, ok
}

// QuestionPriority returns the configured priority, 0 when unconfigured.
func (c *Catalog) QuestionPriority(fact string) int {
	return c.questions[fact].Priority
}

// QuestionText returns the prompt for fact, falling back to the fact name.
func (c *Catalog) QuestionText(fact string) string {
	if q, ok := c.questions[fact]; ok && q.Text != "" {
		return q.Text
	}
	return fact
}

// Facts returns every fact name mentioned by a rule, in first-seen order.
func (c *Catalog) Facts() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, r := range c.rules {
		add(r.Conclusion)
		for _, cond := range r.Conditions {
			add(cond.Fact)
		}
	}
	return out
}

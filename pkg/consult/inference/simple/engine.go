package simple

import (
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/facts"
	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/rules"
)

// Engine is a pure-Go forward/backward chaining engine over one catalog.
// It holds no per-session state, so one Engine can serve many sessions.
type Engine struct {
	catalog   *rules.Catalog
	threshold int
	logger    *zap.Logger
}

var _ inference.Engine = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithPriorityThreshold sets the question priority at which derivable facts
// are asked directly.
func WithPriorityThreshold(n int) Option {
	return func(e *Engine) { e.threshold = n }
}

// WithLogger sets the logger used for firing traces.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an engine for catalog.
func New(catalog *rules.Catalog, opts ...Option) *Engine {
	e := &Engine{
		catalog:   catalog,
		threshold: inference.DefaultPriorityThreshold,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Catalog returns the engine's rule catalog.
func (e *Engine) Catalog() *rules.Catalog { return e.catalog }

// Forward runs passes over the catalog until a full pass fires nothing.
func (e *Engine) Forward(st *facts.Store) []string {
	var fired []string
	for {
		changed := false
		for _, r := range e.catalog.Rules() {
			if st.HasFired(r.ID) || !satisfied(st, r) {
				continue
			}
			if st.Matches(r.Conclusion, !r.ConclusionValue) {
				e.logger.Debug("rule fired against a confirmed opposite value",
					zap.String("rule", r.ID),
					zap.String("conclusion", r.Conclusion))
			}
			st.Fire(r.ID, r.Conclusion, r.ConclusionValue)
			fired = append(fired, r.ID)
			changed = true
			e.logger.Debug("rule fired",
				zap.String("rule", r.ID),
				zap.String("conclusion", r.Conclusion),
				zap.Bool("value", r.ConclusionValue))
		}
		if !changed {
			return fired
		}
	}
}

// satisfied applies the operator's firing condition to confirmed facts only.
// OR fires on the first matching condition without waiting for the rest.
func satisfied(st *facts.Store, r rules.Rule) bool {
	switch r.Operator {
	case rules.Or:
		for _, c := range r.Conditions {
			if st.Matches(c.Fact, c.Expected) {
				return true
			}
		}
		return false
	default:
		for _, c := range r.Conditions {
			if !st.Matches(c.Fact, c.Expected) {
				return false
			}
		}
		return true
	}
}

// Fireable reports whether r is not statically impossible.
func (e *Engine) Fireable(st *facts.Store, r rules.Rule) bool {
	return !e.impossible(st, r)
}

// impossible: an AND rule with a confirmed mismatch, or an OR rule where no
// condition matches and none is still open.
func (e *Engine) impossible(st *facts.Store, r rules.Rule) bool {
	if r.Operator == rules.Or {
		for _, c := range r.Conditions {
			if st.Matches(c.Fact, c.Expected) || e.open(st, c.Fact) {
				return false
			}
		}
		return true
	}
	for _, c := range r.Conditions {
		if st.Matches(c.Fact, !c.Expected) {
			return true
		}
	}
	return false
}

// open reports whether fact may still become confirmed.
func (e *Engine) open(st *facts.Store, fact string) bool {
	v, ok := st.Get(fact)
	if !ok {
		return true
	}
	switch v.State {
	case facts.StateConfirmed:
		return false
	case facts.StateUnknown:
		return e.catalog.IsDerivable(fact)
	default:
		return true
	}
}

// NextQuestion runs the goal-directed search for goal.
func (e *Engine) NextQuestion(st *facts.Store, goal string) (string, bool) {
	s := &search{
		engine:  e,
		st:      st,
		visited: make(map[string]bool),
	}
	return s.find(goal)
}

// search is the state of one top-level NextQuestion call. visited is shared
// by every recursive step so each goal is expanded at most once.
type search struct {
	engine  *Engine
	st      *facts.Store
	visited map[string]bool
}

func (s *search) find(goal string) (string, bool) {
	if s.visited[goal] {
		return "", false
	}
	s.visited[goal] = true

	if s.st.IsConfirmed(goal) {
		return "", false
	}

	catalog := s.engine.catalog
	candidates := catalog.ByConclusion(goal)
	if len(candidates) == 0 {
		if s.st.IsAsked(goal) {
			return "", false
		}
		return goal, true
	}

	if !s.st.IsAsked(goal) && catalog.QuestionPriority(goal) >= s.engine.threshold {
		return goal, true
	}

	var available, dependent []rules.Rule
	for _, r := range candidates {
		if s.st.HasFired(r.ID) || s.engine.impossible(s.st, r) {
			continue
		}
		if s.hasUnknownCondition(r) {
			dependent = append(dependent, r)
		} else {
			available = append(available, r)
		}
	}

	for _, group := range [][]rules.Rule{available, dependent} {
		for _, r := range group {
			if q, ok := s.fromRule(r); ok {
				return q, true
			}
		}
	}
	return "", false
}

func (s *search) hasUnknownCondition(r rules.Rule) bool {
	for _, c := range r.Conditions {
		if v, ok := s.st.Get(c.Fact); ok && v.State == facts.StateUnknown {
			return true
		}
	}
	return false
}

// fromRule scans conditions in declared order and returns the first fact
// that has to be asked, descending into derivable conditions.
func (s *search) fromRule(r rules.Rule) (string, bool) {
	for _, c := range r.Conditions {
		v, present := s.st.Get(c.Fact)
		switch {
		case v.State == facts.StateConfirmed:
			continue
		case v.State == facts.StateUncertain:
			// An assumed value can neither complete an AND nor decide an OR.
			continue
		case s.engine.catalog.IsDerivable(c.Fact):
			if q, ok := s.find(c.Fact); ok {
				return q, true
			}
		case !present && !s.st.IsAsked(c.Fact):
			return c.Fact, true
		}
	}
	return "", false
}

// Explain walks the fired rules backwards from fact.
func (e *Engine) Explain(st *facts.Store, fact string) []inference.Step {
	var steps []inference.Step
	e.explain(st, fact, 0, make(map[string]bool), &steps)
	return steps
}

func (e *Engine) explain(st *facts.Store, fact string, depth int, visited map[string]bool, steps *[]inference.Step) {
	if visited[fact] || !st.IsDerived(fact) {
		return
	}
	visited[fact] = true

	v, _ := st.Get(fact)
	for _, id := range st.FiredRules() {
		r, ok := e.catalog.Rule(id)
		if !ok || r.Conclusion != fact || r.ConclusionValue != v.Bool {
			continue
		}
		*steps = append(*steps, inference.Step{
			Fact:       fact,
			RuleID:     r.ID,
			Operator:   r.Operator,
			Conditions: r.Conditions,
			Depth:      depth,
		})
		for _, c := range r.Conditions {
			if st.Matches(c.Fact, c.Expected) {
				e.explain(st, c.Fact, depth+1, visited, steps)
			}
		}
		return
	}
}

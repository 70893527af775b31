package session

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/facts"
	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
)

// Result is returned by Start and Answer.
type Result struct {
	NextQuestion        string           `json:"next_question"`
	QuestionText        string           `json:"question_text"`
	Conclusions         []string         `json:"conclusions"`
	IsFinished          bool             `json:"is_finished"`
	UnknownFacts        []string         `json:"unknown_facts"`
	UncertainFacts      []string         `json:"uncertain_facts"`
	AssumedFacts        []string         `json:"assumed_facts"`
	InsufficientInfo    bool             `json:"insufficient_info"`
	MissingCriticalInfo []string         `json:"missing_critical_info"`
	UncertainLogic      []UncertainGroup `json:"uncertain_facts_logic"`
}

// UncertainGroup explains a conclusion that holds only because some of its
// conditions were assumed.
type UncertainGroup struct {
	RuleID              string         `json:"rule_id"`
	Conclusion          string         `json:"conclusion"`
	Operator            rules.Operator `json:"operator"`
	UncertainConditions []string       `json:"uncertain_conditions"`
}

// BackResult is returned by Back.
type BackResult struct {
	CurrentQuestion string `json:"current_question"`
	QuestionText    string `json:"question_text"`
}

// frame is one entry of the undo stack: the fact state after an answer and
// the question that was pending at that point.
type frame struct {
	snap     facts.Snapshot
	pending  string
	finished bool
}

// Session is one consultation over one domain. Its methods serialize on an
// internal mutex; there is no concurrency inside a session.
type Session struct {
	mu        sync.Mutex
	id        string
	engine    inference.Engine
	catalog   *rules.Catalog
	facts     *facts.Store
	frames    []frame
	pending   string
	finished  bool
	createdAt time.Time
	updatedAt time.Time
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates an unstarted session.
func New(id string, engine inference.Engine, opts ...Option) *Session {
	s := &Session{
		id:      id,
		engine:  engine,
		catalog: engine.Catalog(),
		facts:   facts.New(),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("session", id), zap.String("domain", s.catalog.Domain()))
	s.createdAt = s.now()
	s.updatedAt = s.createdAt
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Domain returns the domain the session reasons over.
func (s *Session) Domain() string { return s.catalog.Domain() }

// UpdatedAt returns the time of the last operation.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Start resets the session and returns the first question.
func (s *Session) Start() Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.facts.Reset()
	s.frames = s.frames[:0]
	s.engine.Forward(s.facts)
	res := s.advance()
	s.push()
	s.logger.Debug("consultation started", zap.String("next", res.NextQuestion))
	return res
}

// Answer records the answer to fact and returns the next step. A nil answer
// means the user does not know: a fact no rule can still derive becomes
// unknown, otherwise it becomes uncertain, assuming the conclusion value of
// its first live rule.
func (s *Session) Answer(fact string, answer *bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) == 0 {
		return Result{}, fmt.Errorf("%w: session %s not started", internalerr.ErrInvalidInput, s.id)
	}
	if fact == "" {
		return Result{}, fmt.Errorf("%w: fact name is empty", internalerr.ErrInvalidInput)
	}
	if s.finished {
		return Result{}, fmt.Errorf("%w: consultation %s is finished", internalerr.ErrInvalidInput, s.id)
	}
	if s.facts.IsAsked(fact) || s.facts.IsConfirmed(fact) {
		return Result{}, fmt.Errorf("%w: %q is already resolved", internalerr.ErrInvalidInput, fact)
	}

	if answer != nil {
		s.facts.SetConfirmed(fact, *answer)
	} else if v, ok := s.liveConclusion(fact); ok {
		s.facts.SetUncertain(fact, v)
	} else {
		s.facts.SetUnknown(fact)
	}
	fired := s.engine.Forward(s.facts)

	res := s.advance()
	s.push()
	s.logger.Debug("answer recorded",
		zap.String("fact", fact),
		zap.String("value", describeAnswer(answer)),
		zap.Strings("fired", fired),
		zap.String("next", res.NextQuestion),
		zap.Bool("finished", res.IsFinished))
	return res, nil
}

func describeAnswer(v *bool) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%t", *v)
}

// Back undoes the most recent answer, including everything it derived, and
// returns the question that is pending again. With no answers recorded it
// is a no-op. undone reports whether an answer was removed.
func (s *Session) Back() (res BackResult, undone bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.frames) > 1 {
		s.frames = s.frames[:len(s.frames)-1]
		undone = true
	}
	if len(s.frames) > 0 {
		top := s.frames[len(s.frames)-1]
		s.facts.Restore(top.snap)
		s.pending = top.pending
		s.finished = top.finished
	}
	s.updatedAt = s.now()

	res = BackResult{CurrentQuestion: s.pending}
	if s.pending != "" {
		res.QuestionText = s.catalog.QuestionText(s.pending)
	}
	return res, undone
}

// Answers returns the number of answers currently on the undo stack.
func (s *Session) Answers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return 0
	}
	return len(s.frames) - 1
}

// Facts returns a deterministic rendering of the session's fact store.
func (s *Session) Facts() facts.Export {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facts.Export()
}

// Explain returns the derivation of fact.
func (s *Session) Explain(fact string) []inference.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Explain(s.facts, fact)
}

func (s *Session) push() {
	s.frames = append(s.frames, frame{
		snap:     s.facts.Snapshot(),
		pending:  s.pending,
		finished: s.finished,
	})
	s.updatedAt = s.now()
}

// advance selects the next question and, when none is left, finalizes
// uncertain facts and re-derives.
func (s *Session) advance() Result {
	next, ok := s.selectQuestion()
	if ok {
		s.pending = next
		s.finished = false
	} else {
		s.pending = ""
		s.finished = true
		s.settleUncertain()
		if finalized := s.facts.FinalizeUncertain(); len(finalized) > 0 {
			s.engine.Forward(s.facts)
			s.logger.Debug("uncertain facts finalized", zap.Strings("facts", finalized))
		}
	}
	return s.result()
}

// liveConclusion returns the conclusion value of the highest priority rule
// that concludes fact and can still fire.
func (s *Session) liveConclusion(fact string) (bool, bool) {
	for _, r := range s.catalog.ByConclusion(fact) {
		if !s.facts.HasFired(r.ID) && s.engine.Fireable(s.facts, r) {
			return r.ConclusionValue, true
		}
	}
	return false, false
}

// settleUncertain re-checks every uncertain fact against the answers given
// since it was assumed. A fact whose rules were all ruled out becomes
// unknown; a fact whose surviving rules conclude the other value is assumed
// at that value instead.
func (s *Session) settleUncertain() {
	for _, fact := range s.facts.UncertainFacts() {
		cur, _ := s.facts.Get(fact)
		v, ok := s.liveConclusion(fact)
		switch {
		case !ok:
			s.facts.SetUnknown(fact)
			s.logger.Debug("assumption ruled out", zap.String("fact", fact))
		case v != cur.Bool:
			s.facts.SetUncertain(fact, v)
		}
	}
}

// selectQuestion asks the engine goal by goal. When the goals yield nothing
// but some goal is still open, facts left uncertain are expanded so their
// detail questions get asked.
func (s *Session) selectQuestion() (string, bool) {
	open := false
	for _, goal := range s.catalog.Goals() {
		if q, ok := s.engine.NextQuestion(s.facts, goal); ok {
			return q, true
		}
		if !s.facts.IsConfirmed(goal) {
			open = true
		}
	}
	if !open {
		return "", false
	}
	for _, fact := range s.facts.AskedQuestions() {
		if v, _ := s.facts.Get(fact); v.State != facts.StateUncertain {
			continue
		}
		if q, ok := s.engine.NextQuestion(s.facts, fact); ok {
			return q, true
		}
	}
	return "", false
}

func (s *Session) result() Result {
	res := Result{
		NextQuestion:        s.pending,
		Conclusions:         s.conclusions(),
		IsFinished:          s.finished,
		UnknownFacts:        nonNil(s.facts.UnknownFacts()),
		UncertainFacts:      nonNil(s.facts.UncertainFacts()),
		AssumedFacts:        nonNil(s.facts.Finalized()),
		MissingCriticalInfo: []string{},
		UncertainLogic:      s.uncertainLogic(),
	}
	if s.pending != "" {
		res.QuestionText = s.catalog.QuestionText(s.pending)
	}
	if res.IsFinished && len(res.Conclusions) == 0 && len(res.UnknownFacts) > 0 {
		res.InsufficientInfo = true
		for _, f := range res.UnknownFacts {
			if !s.catalog.IsDerivable(f) {
				res.MissingCriticalInfo = append(res.MissingCriticalInfo, f)
			}
		}
	}
	return res
}

// conclusions returns the goals confirmed true, in goal order.
func (s *Session) conclusions() []string {
	out := []string{}
	for _, g := range s.catalog.Goals() {
		if s.facts.Matches(g, true) {
			out = append(out, g)
		}
	}
	return out
}

func (s *Session) uncertainLogic() []UncertainGroup {
	groups := []UncertainGroup{}
	if len(s.facts.Finalized()) == 0 {
		return groups
	}
	for _, id := range s.facts.FiredRules() {
		r, ok := s.catalog.Rule(id)
		if !ok {
			continue
		}
		var assumed []string
		for _, c := range r.Conditions {
			if s.facts.IsFinalized(c.Fact) {
				assumed = append(assumed, c.Fact)
			}
		}
		if len(assumed) == 0 {
			continue
		}
		groups = append(groups, UncertainGroup{
			RuleID:              r.ID,
			Conclusion:          r.Conclusion,
			Operator:            r.Operator,
			UncertainConditions: assumed,
		})
	}
	return groups
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

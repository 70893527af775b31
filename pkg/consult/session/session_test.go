package session

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cognicore/consult/pkg/consult/facts"
	"github.com/cognicore/consult/pkg/consult/inference/simple"
	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func yes() *bool { b := true; return &b }
func no() *bool  { b := false; return &b }

func conds(facts ...string) []rules.Condition {
	out := make([]rules.Condition, len(facts))
	for i, f := range facts {
		out[i] = rules.Condition{Fact: f, Expected: true}
	}
	return out
}

func rule(id, conclusion string, op rules.Operator, priority int, final bool, facts ...string) rules.Rule {
	return rules.Rule{
		ID:              id,
		Domain:          "T",
		Conclusion:      conclusion,
		ConclusionValue: true,
		Operator:        op,
		Priority:        priority,
		Final:           final,
		Conditions:      conds(facts...),
	}
}

func newSession(t *testing.T, rs []rules.Rule, qs ...rules.Question) *Session {
	t.Helper()
	c, err := rules.NewCatalog("T", rs, qs)
	require.NoError(t, err)
	return New("s1", simple.New(c))
}

// chainRules is A -> B -> E_goal.
func chainRules() []rules.Rule {
	return []rules.Rule{
		rule("R1", "B", rules.And, 50, false, "A"),
		rule("R2", "E_goal", rules.And, 10, false, "B"),
	}
}

// assumedRules derive G from M and C, where M is derivable from D1 and D2
// but is asked directly first because of its question priority.
func assumedRules() ([]rules.Rule, []rules.Question) {
	rs := []rules.Rule{
		rule("R1", "G", rules.And, 10, false, "M", "C"),
		rule("R2", "M", rules.And, 50, false, "D1", "D2"),
	}
	qs := []rules.Question{{Fact: "M", Text: "Is M the case?", Priority: 90}}
	return rs, qs
}

// loanRules has an OR branch and a final goal.
func loanRules() []rules.Rule {
	return []rules.Rule{
		rule("R1", "stable", rules.And, 50, false, "income", "employed"),
		rule("R2", "approve", rules.And, 10, true, "stable", "no_debt"),
		rule("R3", "no_debt", rules.Or, 40, false, "savings", "guarantor"),
	}
}

func TestEndToEndChain(t *testing.T) {
	s := newSession(t, chainRules())

	res := s.Start()
	assert.Equal(t, "A", res.NextQuestion)
	assert.Equal(t, "A", res.QuestionText)
	assert.False(t, res.IsFinished)
	assert.Empty(t, res.Conclusions)

	res, err := s.Answer("A", yes())
	require.NoError(t, err)
	assert.True(t, res.IsFinished)
	assert.Equal(t, "", res.NextQuestion)
	assert.Equal(t, []string{"E_goal"}, res.Conclusions)
	assert.False(t, res.InsufficientInfo)
}

func TestUnknownRootCauseIsReported(t *testing.T) {
	s := newSession(t, chainRules())
	s.Start()

	res, err := s.Answer("A", nil)
	require.NoError(t, err)
	assert.True(t, res.IsFinished)
	assert.Empty(t, res.Conclusions)
	assert.Equal(t, []string{"A"}, res.UnknownFacts)
	assert.True(t, res.InsufficientInfo)
	assert.Equal(t, []string{"A"}, res.MissingCriticalInfo)
}

func TestUnknownThenResolvedByBack(t *testing.T) {
	s := newSession(t, chainRules())
	s.Start()
	_, err := s.Answer("A", nil)
	require.NoError(t, err)

	back, undone := s.Back()
	require.True(t, undone)
	assert.Equal(t, "A", back.CurrentQuestion)

	res, err := s.Answer("A", yes())
	require.NoError(t, err)
	assert.Equal(t, []string{"E_goal"}, res.Conclusions)
	assert.Empty(t, res.UnknownFacts)
}

func TestDontKnowOnDerivableFactExpandsDetails(t *testing.T) {
	rs, qs := assumedRules()
	s := newSession(t, rs, qs...)

	res := s.Start()
	require.Equal(t, "M", res.NextQuestion)
	assert.Equal(t, "Is M the case?", res.QuestionText)

	res, err := s.Answer("M", nil)
	require.NoError(t, err)
	assert.Equal(t, "C", res.NextQuestion)
	assert.Equal(t, []string{"M"}, res.UncertainFacts)

	res, err = s.Answer("C", yes())
	require.NoError(t, err)
	assert.Equal(t, "D1", res.NextQuestion, "detail questions of an uncertain fact follow")

	res, err = s.Answer("D1", nil)
	require.NoError(t, err)
	assert.Equal(t, "D2", res.NextQuestion)

	res, err = s.Answer("D2", nil)
	require.NoError(t, err)
	assert.True(t, res.IsFinished)
	assert.Equal(t, []string{"G"}, res.Conclusions)
	assert.Equal(t, []string{"M"}, res.AssumedFacts)
	assert.Equal(t, []string{"D1", "D2"}, res.UnknownFacts)
	assert.Empty(t, res.UncertainFacts)
	assert.False(t, res.InsufficientInfo)
	assert.Equal(t, []UncertainGroup{{
		RuleID:              "R1",
		Conclusion:          "G",
		Operator:            rules.And,
		UncertainConditions: []string{"M"},
	}}, res.UncertainLogic)
}

func TestRefutedAssumptionIsNotFinalized(t *testing.T) {
	rs, qs := assumedRules()
	s := newSession(t, rs, qs...)
	s.Start()

	_, err := s.Answer("M", nil)
	require.NoError(t, err)
	_, err = s.Answer("C", yes())
	require.NoError(t, err)

	// D1=false rules out R2, the only rule deriving M.
	res, err := s.Answer("D1", no())
	require.NoError(t, err)
	assert.True(t, res.IsFinished)
	assert.Empty(t, res.Conclusions)
	assert.Empty(t, res.AssumedFacts)
	assert.Empty(t, res.UncertainLogic)
	assert.Equal(t, []string{"M"}, res.UnknownFacts)
	assert.True(t, res.InsufficientInfo)
	assert.NotContains(t, s.Facts().Derived, "G")
}

func TestAssumedValueFollowsConclusion(t *testing.T) {
	rs := []rules.Rule{
		{
			ID: "R1", Domain: "T", Conclusion: "G", ConclusionValue: true,
			Operator: rules.And, Priority: 10,
			Conditions: []rules.Condition{{Fact: "M", Expected: false}, {Fact: "C", Expected: true}},
		},
		{
			ID: "R2", Domain: "T", Conclusion: "M", ConclusionValue: false,
			Operator: rules.And, Priority: 50,
			Conditions: conds("D1"),
		},
	}
	s := newSession(t, rs, rules.Question{Fact: "M", Priority: 90})
	res := s.Start()
	require.Equal(t, "M", res.NextQuestion)

	res, err := s.Answer("M", nil)
	require.NoError(t, err)
	assert.Contains(t, s.Facts().Facts, facts.Entry{Name: "M", State: "uncertain", Value: false})
	assert.Equal(t, "C", res.NextQuestion)

	res, err = s.Answer("C", yes())
	require.NoError(t, err)
	require.Equal(t, "D1", res.NextQuestion)

	res, err = s.Answer("D1", nil)
	require.NoError(t, err)
	assert.True(t, res.IsFinished)
	assert.Equal(t, []string{"G"}, res.Conclusions)
	assert.Equal(t, []string{"M"}, res.AssumedFacts)
}

func TestBackRestoresPriorState(t *testing.T) {
	rs, qs := assumedRules()
	answers := []struct {
		fact  string
		value *bool
	}{
		{"M", nil},
		{"C", yes()},
		{"D1", nil},
	}

	full := newSession(t, rs, qs...)
	full.Start()
	for _, a := range answers {
		_, err := full.Answer(a.fact, a.value)
		require.NoError(t, err)
	}
	back, undone := full.Back()
	require.True(t, undone)
	assert.Equal(t, "D1", back.CurrentQuestion)

	prefix := newSession(t, rs, qs...)
	prefix.Start()
	for _, a := range answers[:len(answers)-1] {
		_, err := prefix.Answer(a.fact, a.value)
		require.NoError(t, err)
	}

	if diff := cmp.Diff(prefix.Facts(), full.Facts(), cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("state after back differs (-want +got):\n%s", diff)
	}
	assert.Equal(t, 2, full.Answers())
}

func TestBackUndoesDerivations(t *testing.T) {
	s := newSession(t, chainRules())
	s.Start()
	_, err := s.Answer("A", yes())
	require.NoError(t, err)
	require.Equal(t, []string{"B", "E_goal"}, s.Facts().Derived)

	s.Back()
	got := s.Facts()
	assert.Empty(t, got.Derived)
	assert.Empty(t, got.Fired)
	assert.Empty(t, got.Facts)
}

func TestBackWithoutAnswers(t *testing.T) {
	s := newSession(t, chainRules())
	s.Start()

	back, undone := s.Back()
	assert.False(t, undone)
	assert.Equal(t, "A", back.CurrentQuestion)
	assert.Equal(t, 0, s.Answers())
}

func TestQuestionsAreNeverRepeated(t *testing.T) {
	for _, answer := range []*bool{yes(), no(), nil} {
		s := newSession(t, loanRules())
		res := s.Start()
		seen := make(map[string]bool)
		for !res.IsFinished {
			q := res.NextQuestion
			require.False(t, seen[q], "question %q asked twice", q)
			seen[q] = true
			var err error
			res, err = s.Answer(q, answer)
			require.NoError(t, err)
		}
		assert.NotEmpty(t, seen)
	}
}

func TestLoanDeclinedAsksOrBranch(t *testing.T) {
	s := newSession(t, loanRules())
	res := s.Start()

	var asked []string
	for !res.IsFinished {
		asked = append(asked, res.NextQuestion)
		var err error
		res, err = s.Answer(res.NextQuestion, no())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"income", "savings", "guarantor"}, asked)
	assert.Empty(t, res.Conclusions)
	assert.False(t, res.InsufficientInfo)
}

func TestLoanApproved(t *testing.T) {
	s := newSession(t, loanRules())
	res := s.Start()
	for !res.IsFinished {
		var err error
		res, err = s.Answer(res.NextQuestion, yes())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"approve"}, res.Conclusions)

	steps := s.Explain("approve")
	require.NotEmpty(t, steps)
	assert.Equal(t, "R2", steps[0].RuleID)
}

func TestAnswerErrors(t *testing.T) {
	s := newSession(t, chainRules())
	_, err := s.Answer("A", yes())
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput, "not started")

	s.Start()
	_, err = s.Answer("", yes())
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)

	rs, qs := assumedRules()
	s2 := newSession(t, rs, qs...)
	s2.Start()
	_, err = s2.Answer("M", nil)
	require.NoError(t, err)
	_, err = s2.Answer("M", yes())
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput, "already asked")

	_, err = s.Answer("A", yes())
	require.NoError(t, err)
	_, err = s.Answer("B", yes())
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput, "finished")
}

func TestStartResets(t *testing.T) {
	s := newSession(t, chainRules())
	s.Start()
	_, err := s.Answer("A", yes())
	require.NoError(t, err)

	res := s.Start()
	assert.Equal(t, "A", res.NextQuestion)
	assert.Equal(t, 0, s.Answers())
	assert.Empty(t, s.Facts().Facts)
}

func TestVisualize(t *testing.T) {
	rs, qs := assumedRules()
	s := newSession(t, rs, qs...)
	s.Start()
	for _, a := range []struct {
		fact  string
		value *bool
	}{{"M", nil}, {"C", yes()}, {"D1", nil}, {"D2", nil}} {
		_, err := s.Answer(a.fact, a.value)
		require.NoError(t, err)
	}

	v := s.Visualize()
	assert.Equal(t, "T", v.Domain)
	assert.Equal(t, []string{"R1"}, v.FiredRules)
	assert.Equal(t, "", v.CurrentQuestionFact)
	require.Len(t, v.Rules, 2)

	// Catalog order is priority descending.
	r2, r1 := v.Rules[0], v.Rules[1]
	assert.Equal(t, "R2", r2.ID)
	assert.False(t, r2.IsFired)
	assert.True(t, r2.IsFireable)
	assert.Equal(t, StatusUnknown, r2.Conditions[0].Status)

	assert.True(t, r1.IsFired)
	assert.True(t, r1.ConclusionDerived)
	assert.Equal(t, StatusUncertain, r1.Conditions[0].Status)
	assert.True(t, r1.Conditions[0].Assumed)
	assert.True(t, r1.Conditions[0].Derivable)
	assert.Equal(t, StatusSatisfied, r1.Conditions[1].Status)
}

func TestVisualizeConclusionDerivedNeedsMatchingValue(t *testing.T) {
	rs := []rules.Rule{
		rule("R1", "X", rules.And, 50, false, "A"),
		{
			ID: "R2", Domain: "T", Conclusion: "X", ConclusionValue: false,
			Operator: rules.And, Priority: 10, Conditions: conds("B"),
		},
	}
	s := newSession(t, rs)
	s.Start()

	// Only B holds, so X is derived false by R2.
	s.facts.SetConfirmed("A", false)
	s.facts.SetConfirmed("B", true)
	s.engine.Forward(s.facts)

	v := s.Visualize()
	require.Len(t, v.Rules, 2)
	assert.Equal(t, "R1", v.Rules[0].ID)
	assert.False(t, v.Rules[0].ConclusionDerived, "X=false does not satisfy R1's conclusion")
	assert.Equal(t, "R2", v.Rules[1].ID)
	assert.True(t, v.Rules[1].ConclusionDerived)

	raw, err := json.Marshal(v.Rules[0].Conditions[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"fact_name":"A","expected_value":true,"status":"not_satisfied","is_derivable":false,"is_assumed":false}`, string(raw))
}

func TestVisualizeNotSatisfied(t *testing.T) {
	s := newSession(t, loanRules())
	s.Start()
	_, err := s.Answer("income", no())
	require.NoError(t, err)

	v := s.Visualize()
	assert.Equal(t, "savings", v.CurrentQuestionFact)
	for _, r := range v.Rules {
		if r.ID == "R1" {
			assert.False(t, r.IsFireable)
			assert.Equal(t, StatusNotSatisfied, r.Conditions[0].Status)
		}
	}
}

package validate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/consult/pkg/consult/rules"
)

func r(id, conclusion string, value bool, op rules.Operator, conds ...rules.Condition) rules.Rule {
	return rules.Rule{ID: id, Conclusion: conclusion, ConclusionValue: value, Operator: op, Conditions: conds}
}

func yes(f string) rules.Condition { return rules.Condition{Fact: f, Expected: true} }
func no(f string) rules.Condition  { return rules.Condition{Fact: f, Expected: false} }

func byType(issues []Issue, typ Type) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Type == typ {
			out = append(out, is)
		}
	}
	return out
}

func TestContradictionDetected(t *testing.T) {
	rs := []rules.Rule{
		r("R1", "G", true, rules.And, yes("A"), yes("B")),
		r("R2", "G", false, rules.And, yes("B"), yes("A")),
	}
	issues := byType(Analyzer{}.Analyze(rs), TypeContradiction)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityError, issues[0].Severity)
	assert.Equal(t, []string{"R1", "R2"}, issues[0].Details["rules"])
}

func TestContradictionNeedsSameOperatorAndConditions(t *testing.T) {
	rs := []rules.Rule{
		r("R1", "G", true, rules.And, yes("A"), yes("B")),
		r("R2", "G", false, rules.Or, yes("A"), yes("B")),
		r("R3", "G", false, rules.And, yes("A"), no("B")),
		r("R4", "G", true, rules.And, yes("A"), yes("B")),
	}
	assert.Empty(t, byType(Analyzer{}.Analyze(rs), TypeContradiction))
}

func TestCircularDetected(t *testing.T) {
	rs := []rules.Rule{
		r("RA", "A", true, rules.And, yes("B")),
		r("RB", "B", true, rules.And, yes("A")),
	}
	issues := byType(Analyzer{}.Analyze(rs), TypeCircular)
	require.Len(t, issues, 1)
	assert.Equal(t, []string{"A", "B", "A"}, issues[0].Details["cycle"])
	assert.Contains(t, issues[0].Message, "A -> B -> A")
}

func TestAcyclicDiamondIsNotCircular(t *testing.T) {
	rs := []rules.Rule{
		r("R1", "G", true, rules.And, yes("L"), yes("R")),
		r("R2", "L", true, rules.And, yes("X")),
		r("R3", "R", true, rules.And, yes("X"), yes("Y")),
		r("R4", "S", true, rules.And, yes("L"), yes("R")),
	}
	assert.Empty(t, byType(Analyzer{}.Analyze(rs), TypeCircular))
}

func TestUnreachableThroughCycle(t *testing.T) {
	rs := []rules.Rule{
		r("RA", "A", true, rules.And, yes("B")),
		r("RB", "B", true, rules.And, yes("A")),
		r("RG", "G", true, rules.And, yes("A"), yes("X")),
	}
	issues := byType(Analyzer{}.Analyze(rs), TypeUnreachable)
	require.Len(t, issues, 3)
	assert.Equal(t, "RA", issues[0].Details["rule_id"])
	assert.Equal(t, []string{"A"}, issues[2].Details["unreachable_facts"])
}

func TestUnreachableOppositeValue(t *testing.T) {
	rs := []rules.Rule{
		r("R1", "M", true, rules.And, yes("A")),
		r("R2", "G", true, rules.And, no("M")),
	}
	issues := byType(Analyzer{}.Analyze(rs), TypeUnreachable)
	require.Len(t, issues, 1)
	assert.Equal(t, SeverityWarning, issues[0].Severity)

	askable := Analyzer{Askable: func(f string) bool { return f == "M" }}
	assert.Empty(t, byType(askable.Analyze(rs), TypeUnreachable))
}

func TestReport(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ok := Analyzer{}.Report("E", []rules.Rule{r("R1", "G", true, rules.And, yes("A"))}, now)
	assert.True(t, ok.IsValid)
	assert.Empty(t, ok.Issues)
	assert.Equal(t, now, ok.CheckedAt)

	bad := Analyzer{}.Report("E", []rules.Rule{
		r("RA", "A", true, rules.And, yes("B")),
		r("RB", "B", true, rules.And, yes("A")),
	}, now)
	assert.False(t, bad.IsValid)
}

func TestWarningsKeepReportValid(t *testing.T) {
	rs := []rules.Rule{
		r("R1", "M", true, rules.And, yes("A")),
		r("R2", "G", true, rules.And, no("M")),
	}
	rep := Analyzer{}.Report("E", rs, time.Now())
	assert.True(t, rep.IsValid)
	assert.Len(t, rep.Issues, 1)
}

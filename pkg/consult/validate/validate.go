// Package validate performs static consistency analysis over a rule set:
// contradictory rules, conditions that can never be satisfied, and circular
// conclusion dependencies. Findings are advisory; sessions keep running over
// an inconsistent rule set.
package validate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cognicore/consult/pkg/consult/rules"
)

// Severity of an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Type classifies an issue.
type Type string

const (
	TypeContradiction Type = "contradiction"
	TypeUnreachable   Type = "unreachable"
	TypeCircular      Type = "circular"
)

// Issue is one finding.
type Issue struct {
	Severity Severity       `json:"severity"`
	Type     Type           `json:"validation_type"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details"`
}

// Report is the result of validating one domain.
type Report struct {
	Domain    string    `json:"domain"`
	IsValid   bool      `json:"is_valid"`
	Issues    []Issue   `json:"issues"`
	CheckedAt time.Time `json:"checked_at"`
}

// Analyzer runs the three checks.
type Analyzer struct {
	// Askable reports whether a derivable fact can also be answered
	// directly. Nil means only non-derivable facts are askable.
	Askable func(fact string) bool
}

// Analyze returns every issue found in rs, contradictions first, then
// unreachable conditions, then cycles.
func (a Analyzer) Analyze(rs []rules.Rule) []Issue {
	issues := make([]Issue, 0)
	issues = append(issues, contradictions(rs)...)
	issues = append(issues, a.unreachable(rs)...)
	issues = append(issues, circular(rs)...)
	return issues
}

// Report analyzes rs and stamps the result with now.
func (a Analyzer) Report(domain string, rs []rules.Rule, now time.Time) Report {
	issues := a.Analyze(rs)
	return Report{
		Domain:    domain,
		IsValid:   !HasErrors(issues),
		Issues:    issues,
		CheckedAt: now.UTC(),
	}
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

func conditionsKey(r rules.Rule) string {
	parts := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		parts[i] = fmt.Sprintf("%s=%t", c.Fact, c.Expected)
	}
	sort.Strings(parts)
	// Duplicated conditions collapse; the key is over the set.
	uniq := parts[:0]
	for i, p := range parts {
		if i == 0 || p != parts[i-1] {
			uniq = append(uniq, p)
		}
	}
	return string(r.Operator) + ":" + strings.Join(uniq, "\x00")
}

func contradictions(rs []rules.Rule) []Issue {
	var order []string
	groups := make(map[string][]rules.Rule)
	for _, r := range rs {
		key := conditionsKey(r)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var issues []Issue
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		distinct := make(map[string]bool)
		ids := make([]string, len(group))
		conclusions := make([]string, len(group))
		for i, r := range group {
			c := fmt.Sprintf("%s=%t", r.Conclusion, r.ConclusionValue)
			distinct[c] = true
			ids[i] = r.ID
			conclusions[i] = c
		}
		if len(distinct) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityError,
			Type:     TypeContradiction,
			Message:  fmt.Sprintf("rules %s share conditions but conclude differently", strings.Join(ids, ", ")),
			Details: map[string]any{
				"rules":       ids,
				"conclusions": conclusions,
			},
		})
	}
	return issues
}

type literal struct {
	fact  string
	value bool
}

// unreachable computes the least fixpoint of reachable (fact, value) pairs
// and reports rules whose conditions fall outside it.
func (a Analyzer) unreachable(rs []rules.Rule) []Issue {
	derivable := make(map[string]bool)
	for _, r := range rs {
		derivable[r.Conclusion] = true
	}

	reach := make(map[literal]bool)
	base := func(fact string) bool {
		return !derivable[fact] || (a.Askable != nil && a.Askable(fact))
	}
	holds := func(c rules.Condition) bool {
		return base(c.Fact) || reach[literal{c.Fact, c.Expected}]
	}

	for changed := true; changed; {
		changed = false
		for _, r := range rs {
			lit := literal{r.Conclusion, r.ConclusionValue}
			if reach[lit] {
				continue
			}
			ok := r.Operator != rules.Or
			for _, c := range r.Conditions {
				if r.Operator == rules.Or {
					if holds(c) {
						ok = true
						break
					}
				} else if !holds(c) {
					ok = false
					break
				}
			}
			if ok {
				reach[lit] = true
				changed = true
			}
		}
	}

	var issues []Issue
	for _, r := range rs {
		var bad []string
		seen := make(map[string]bool)
		for _, c := range r.Conditions {
			if holds(c) || seen[c.Fact] {
				continue
			}
			seen[c.Fact] = true
			bad = append(bad, c.Fact)
		}
		if len(bad) == 0 {
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Type:     TypeUnreachable,
			Message:  fmt.Sprintf("rule %s has conditions that can never be satisfied", r.ID),
			Details: map[string]any{
				"rule_id":           r.ID,
				"unreachable_facts": bad,
			},
		})
	}
	return issues
}

const (
	white = iota
	gray
	black
)

// circular reports one issue per back edge of the conclusion -> condition
// graph. Every node is visited once.
func circular(rs []rules.Rule) []Issue {
	var nodes []string
	edges := make(map[string][]string)
	known := make(map[string]bool)
	addNode := func(n string) {
		if !known[n] {
			known[n] = true
			nodes = append(nodes, n)
		}
	}
	for _, r := range rs {
		addNode(r.Conclusion)
		for _, c := range r.Conditions {
			addNode(c.Fact)
			edges[r.Conclusion] = appendUnique(edges[r.Conclusion], c.Fact)
		}
	}

	color := make(map[string]int, len(nodes))
	var stack []string
	var issues []Issue

	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		for _, m := range edges[n] {
			switch color[m] {
			case white:
				visit(m)
			case gray:
				issues = append(issues, cycleIssue(stack, m))
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
	}

	for _, n := range nodes {
		if color[n] == white {
			visit(n)
		}
	}
	return issues
}

func cycleIssue(stack []string, target string) Issue {
	start := 0
	for i, n := range stack {
		if n == target {
			start = i
			break
		}
	}
	path := append(append([]string(nil), stack[start:]...), target)
	return Issue{
		Severity: SeverityError,
		Type:     TypeCircular,
		Message:  "circular dependency: " + strings.Join(path, " -> "),
		Details:  map[string]any{"cycle": path},
	}
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

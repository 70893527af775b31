package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/consult/pkg/consult"
	"github.com/cognicore/consult/pkg/consult/config"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
)

const loanKB = `
domains:
  - name: loan
    rules:
      - id: R1
        conclusion: stable
        priority: 50
        conditions: [{fact: income}, {fact: employed}]
      - id: R2
        conclusion: approve
        priority: 10
        final: true
        conditions: [{fact: stable}, {fact: no_debt}]
      - id: R3
        conclusion: no_debt
        operator: OR
        priority: 40
        conditions: [{fact: savings}, {fact: guarantor}]
    questions:
      - fact: income
        text: Do you have a regular income?
`

func TestParseInput(t *testing.T) {
	cases := []struct {
		in    string
		cmd   command
		isNil bool
	}{
		{in: "y", cmd: cmdAnswer},
		{in: " YES ", cmd: cmdAnswer},
		{in: "n", cmd: cmdAnswer},
		{in: "?", cmd: cmdAnswer, isNil: true},
		{in: "dk", cmd: cmdAnswer, isNil: true},
		{in: "back", cmd: cmdBack, isNil: true},
		{in: "q", cmd: cmdQuit, isNil: true},
	}
	for _, tc := range cases {
		cmd, answer, err := parseInput(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.cmd, cmd, tc.in)
		if tc.isNil {
			assert.Nil(t, answer, tc.in)
		} else {
			require.NotNil(t, answer, tc.in)
		}
	}

	_, yes, _ := parseInput("yes")
	_, no, _ := parseInput("no")
	assert.True(t, *yes)
	assert.False(t, *no)

	_, _, err := parseInput("maybe")
	assert.Error(t, err)
}

func newLoanConsult(t *testing.T) *consult.Consult {
	t.Helper()
	ctx := context.Background()
	kb, err := config.ParseKnowledgeBase([]byte(loanKB))
	require.NoError(t, err)
	st := memstore.New()
	_, _, err = kb.Seed(ctx, st, false)
	require.NoError(t, err)
	c := consult.New(consult.Options{Store: st})
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRunConsultationApproved(t *testing.T) {
	c := newLoanConsult(t)
	var out bytes.Buffer
	in := strings.NewReader("y\ny\ny\n")

	require.NoError(t, runConsultation(context.Background(), c, "loan", in, &out))
	got := out.String()
	assert.Contains(t, got, "Do you have a regular income?")
	assert.Contains(t, got, "Conclusion: approve")
}

func TestRunConsultationBackAndRetry(t *testing.T) {
	c := newLoanConsult(t)
	var out bytes.Buffer
	// "maybe" is rejected, then income=no is undone and answered again.
	in := strings.NewReader("maybe\nn\nback\ny\ny\ny\n")

	require.NoError(t, runConsultation(context.Background(), c, "loan", in, &out))
	got := out.String()
	assert.Contains(t, got, `unrecognized input "maybe"`)
	assert.Contains(t, got, "Conclusion: approve")
}

func TestRunConsultationUnknownDomain(t *testing.T) {
	c := newLoanConsult(t)
	err := runConsultation(context.Background(), c, "nope", strings.NewReader(""), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunConsultationQuit(t *testing.T) {
	c := newLoanConsult(t)
	var out bytes.Buffer
	require.NoError(t, runConsultation(context.Background(), c, "loan", strings.NewReader("q\n"), &out))
	assert.Contains(t, out.String(), "Consultation abandoned.")
	assert.NotContains(t, out.String(), "Conclusion")
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cognicore/consult/pkg/consult"
	"github.com/cognicore/consult/pkg/consult/session"
)

var askCmd = &cobra.Command{
	Use:   "ask <domain>",
	Short: "Run an interactive consultation in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, buildOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		return runConsultation(ctx, a.consult, args[0], cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

type command int

const (
	cmdAnswer command = iota
	cmdBack
	cmdWhy
	cmdQuit
	cmdHelp
)

// parseInput maps a line of user input to a command. For cmdAnswer the
// returned pointer is the answer, nil meaning "don't know".
func parseInput(line string) (command, *bool, error) {
	yes, no := true, false
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return cmdAnswer, &yes, nil
	case "n", "no":
		return cmdAnswer, &no, nil
	case "?", "dk", "don't know", "dont know", "unknown":
		return cmdAnswer, nil, nil
	case "b", "back":
		return cmdBack, nil, nil
	case "w", "why":
		return cmdWhy, nil, nil
	case "q", "quit", "exit":
		return cmdQuit, nil, nil
	case "h", "help":
		return cmdHelp, nil, nil
	default:
		return 0, nil, fmt.Errorf("unrecognized input %q (try 'help')", line)
	}
}

func runConsultation(ctx context.Context, c *consult.Consult, domain string, in io.Reader, out io.Writer) error {
	id, res, err := c.Start(ctx, domain)
	if err != nil {
		return err
	}
	defer c.End(context.WithoutCancel(ctx), id)

	fmt.Fprintf(out, "Consultation %s (%s). Answer y/n/?; 'back' undoes, 'quit' exits.\n", id, domain)

	scanner := bufio.NewScanner(in)
	for !res.IsFinished {
		fmt.Fprintf(out, "\n%s [y/n/?] > ", questionLine(res.QuestionText, res.NextQuestion))
		if !scanner.Scan() {
			break
		}
		cmd, answer, err := parseInput(scanner.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}

		switch cmd {
		case cmdQuit:
			fmt.Fprintln(out, "Consultation abandoned.")
			return nil
		case cmdHelp:
			fmt.Fprintln(out, "y/yes, n/no, ?/dk (don't know), b/back, w/why, q/quit")
		case cmdWhy:
			fmt.Fprintf(out, "Known so far: %s\n", knownFacts(ctx, c, id))
		case cmdBack:
			back, err := c.Back(ctx, id)
			if err != nil {
				return err
			}
			res.NextQuestion, res.QuestionText = back.CurrentQuestion, back.QuestionText
		case cmdAnswer:
			res, err = c.Answer(ctx, id, res.NextQuestion, answer)
			if err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	printOutcome(ctx, c, id, res, out)
	return nil
}

func questionLine(text, fact string) string {
	if text == "" {
		return fact + "?"
	}
	return text
}

func knownFacts(ctx context.Context, c *consult.Consult, id string) string {
	v, err := c.Visualize(ctx, id)
	if err != nil || len(v.Facts.Facts) == 0 {
		return "nothing"
	}
	parts := make([]string, 0, len(v.Facts.Facts))
	for _, f := range v.Facts.Facts {
		switch f.State {
		case "unknown":
			parts = append(parts, f.Name+"=?")
		case "uncertain":
			parts = append(parts, fmt.Sprintf("%s~%t", f.Name, f.Value))
		default:
			parts = append(parts, fmt.Sprintf("%s=%t", f.Name, f.Value))
		}
	}
	return strings.Join(parts, ", ")
}

func printOutcome(ctx context.Context, c *consult.Consult, id string, res session.Result, out io.Writer) {
	if !res.IsFinished {
		return
	}
	fmt.Fprintln(out)
	if len(res.Conclusions) == 0 {
		fmt.Fprintln(out, "No conclusion could be reached.")
	}
	for _, goal := range res.Conclusions {
		fmt.Fprintf(out, "Conclusion: %s\n", goal)
		steps, err := c.Explain(ctx, id, goal)
		if err != nil {
			continue
		}
		for _, st := range steps {
			fmt.Fprintf(out, "  %s%s by %s (%s)\n", strings.Repeat("  ", st.Depth), st.Fact, st.RuleID, st.Operator)
		}
	}
	if len(res.AssumedFacts) > 0 {
		fmt.Fprintf(out, "Assumed: %s\n", strings.Join(res.AssumedFacts, ", "))
	}
	if res.InsufficientInfo {
		fmt.Fprintf(out, "Missing information: %s\n", strings.Join(res.MissingCriticalInfo, ", "))
	}
}

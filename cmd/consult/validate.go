package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <domain>",
	Short: "Check a domain's rules for contradictions, unreachable conditions and cycles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx, buildOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.consult.Validate(ctx, args[0])
		if err != nil {
			return err
		}
		printf(cmd, "domain %s: valid=%t, %d issue(s)\n", rep.Domain, rep.IsValid, len(rep.Issues))
		for _, is := range rep.Issues {
			printf(cmd, "  [%s] %s: %s\n", is.Severity, is.Type, is.Message)
		}
		if !rep.IsValid {
			return fmt.Errorf("domain %s has errors", rep.Domain)
		}
		return nil
	},
}

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var replaceDomains bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a knowledge-base YAML into the configured store",
	Long: `Reads the file given by --kb and upserts every rule and question into the
store from --config (use a sqlite store to keep them). Each imported domain
is validated afterwards and the report is stored.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if knowledgePath == "" {
			return errors.New("--kb is required")
		}
		ctx := cmd.Context()
		a, err := buildApp(ctx, buildOptions{skipSeed: true})
		if err != nil {
			return err
		}
		defer a.Close()

		kb := a.comp.Knowledge
		nRules, nQuestions, err := kb.Seed(ctx, a.store, replaceDomains)
		if err != nil {
			return err
		}
		printf(cmd, "imported %d rules and %d questions into %d domains\n", nRules, nQuestions, len(kb.Domains))

		for _, domain := range kb.DomainNames() {
			a.consult.Reload(domain)
			rep, err := a.consult.Validate(ctx, domain)
			if err != nil {
				return err
			}
			printf(cmd, "  %-20s valid=%t issues=%d\n", domain, rep.IsValid, len(rep.Issues))
		}
		return nil
	},
}

func init() {
	importCmd.Flags().BoolVar(&replaceDomains, "replace", false, "clear each domain before importing")
}

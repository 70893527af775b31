package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult"
	"github.com/cognicore/consult/pkg/consult/config"
	"github.com/cognicore/consult/pkg/consult/metrics"
	"github.com/cognicore/consult/pkg/consult/session"
	"github.com/cognicore/consult/pkg/consult/store"
)

var (
	// Global flags
	configPath    string
	knowledgePath string
	verbose       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "consult",
	Short: "Rule-based expert system with guided consultations",
	Long: `consult runs question-driven consultations over YES/NO rule sets.

Rules and questions are grouped by domain and loaded from a knowledge-base
YAML file or a SQLite store. A consultation asks one question at a time,
derives conclusions by forward chaining, and picks the next question by
backward search from the domain's goals.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "service config YAML (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVarP(&knowledgePath, "kb", "k", "", "knowledge-base YAML to seed the store with")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, importCmd, validateCmd, askCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadComponents reads the global config and knowledge base.
func loadComponents() (*config.Components, error) {
	loader := config.Loader{ConfigPath: configPath, KnowledgePath: knowledgePath}
	comp, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if verbose {
		comp.Config.Log.Level = "debug"
		if comp.Logger, err = comp.Config.Log.Build(); err != nil {
			return nil, err
		}
	}
	return comp, nil
}

// app bundles what every command needs.
type app struct {
	comp     *config.Components
	store    store.Store
	consult  *consult.Consult
	registry *prometheus.Registry
	logger   *zap.Logger
	closers  []func() error
}

type buildOptions struct {
	journal bool

	// skipSeed leaves the knowledge base out of OpenStore so the caller
	// can seed it itself.
	skipSeed bool
}

// buildApp opens the store and, when asked, the session journal, and wires
// them into a Consult instance.
func buildApp(ctx context.Context, bo buildOptions) (*app, error) {
	comp, err := loadComponents()
	if err != nil {
		return nil, err
	}
	a := &app{comp: comp, logger: comp.Logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	kb := comp.Knowledge
	if bo.skipSeed {
		comp.Knowledge = nil
	}
	st, err := comp.OpenStore(ctx)
	comp.Knowledge = kb
	if err != nil {
		return nil, err
	}
	a.store = st

	var journal session.Journal
	if bo.journal {
		j, closeJournal, err := comp.OpenJournal(ctx)
		if err != nil {
			st.Close()
			return nil, err
		}
		a.closers = append(a.closers, closeJournal)
		journal = j
	}

	a.consult = consult.New(consult.Options{
		Store:             st,
		Journal:           journal,
		PriorityThreshold: comp.Config.Engine.PriorityThreshold,
		Metrics:           metrics.New(a.registry),
		Logger:            comp.Logger,
	})
	a.closers = append(a.closers, a.consult.Close)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}

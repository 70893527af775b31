package consult

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/catalog"
	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/inference/simple"
	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/metrics"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/session"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/validate"
)

// Consult is the expert-system facade: it owns the rule catalogs, the live
// consultations and the validation of each domain.
type Consult struct {
	store     store.Store
	catalogs  *catalog.Cache
	sessions  *session.Registry
	threshold int
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// Options configures a Consult instance
type Options struct {
	Store store.Store
	// Journal persists answers so sessions survive restarts. Optional.
	Journal session.Journal
	// PriorityThreshold overrides inference.DefaultPriorityThreshold when > 0.
	PriorityThreshold int
	Metrics           *metrics.Metrics
	Logger            *zap.Logger
	Now               func() time.Time
}

// New creates a Consult instance with the given dependencies
func New(opts Options) *Consult {
	c := &Consult{
		store:     opts.Store,
		threshold: inference.DefaultPriorityThreshold,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if opts.PriorityThreshold > 0 {
		c.threshold = opts.PriorityThreshold
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.catalogs = catalog.New(opts.Store,
		catalog.WithLogger(c.logger),
		catalog.WithEngineFactory(func(cat *rules.Catalog) inference.Engine {
			return simple.New(cat,
				simple.WithPriorityThreshold(c.threshold),
				simple.WithLogger(c.logger.Named("engine")))
		}))

	regOpts := []session.RegistryOption{
		session.WithRegistryLogger(c.logger.Named("session")),
		session.WithRegistryClock(c.now),
		session.WithRestoreHook(func(*session.Session) {
			c.metrics.SetActive(c.sessions.Len())
		}),
	}
	if opts.Journal != nil {
		regOpts = append(regOpts, session.WithJournal(opts.Journal, c.catalogs.Engine))
	}
	c.sessions = session.NewRegistry(regOpts...)
	return c
}

// Close cleanly shuts down the Consult instance
func (c *Consult) Close() error {
	return c.store.Close()
}

// Domains lists the domains that have rules.
func (c *Consult) Domains(ctx context.Context) ([]string, error) {
	return c.store.Domains(ctx)
}

// Start opens a consultation over domain and returns its id and first step.
func (c *Consult) Start(ctx context.Context, domain string) (string, session.Result, error) {
	if domain == "" {
		return "", session.Result{}, fmt.Errorf("%w: domain is required", internalerr.ErrInvalidInput)
	}
	engine, err := c.catalogs.Engine(ctx, domain)
	if err != nil {
		return "", session.Result{}, err
	}
	s, res, err := c.sessions.Start(ctx, engine)
	if err != nil {
		return "", session.Result{}, err
	}

	c.metrics.Started(domain)
	c.metrics.SetActive(c.sessions.Len())
	c.observeFinish(domain, res)
	c.logger.Info("consultation started",
		zap.String("session", s.ID()),
		zap.String("domain", domain),
		zap.String("first_question", res.NextQuestion))
	return s.ID(), res, nil
}

// Answer records an answer. A nil answer means "don't know".
func (c *Consult) Answer(ctx context.Context, id, fact string, answer *bool) (session.Result, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return session.Result{}, err
	}
	res, err := c.sessions.Answer(ctx, id, fact, answer)
	if err != nil {
		return session.Result{}, err
	}

	c.metrics.Answered(s.Domain(), answer)
	c.observeFinish(s.Domain(), res)
	if res.IsFinished {
		c.logger.Info("consultation finished",
			zap.String("session", id),
			zap.Strings("conclusions", res.Conclusions),
			zap.Bool("insufficient_info", res.InsufficientInfo))
	}
	return res, nil
}

func (c *Consult) observeFinish(domain string, res session.Result) {
	if !res.IsFinished {
		return
	}
	outcome := metrics.OutcomeNoConclusion
	switch {
	case len(res.Conclusions) > 0 && len(res.AssumedFacts) > 0:
		outcome = metrics.OutcomeAssumed
	case len(res.Conclusions) > 0:
		outcome = metrics.OutcomeConcluded
	case res.InsufficientInfo:
		outcome = metrics.OutcomeInsufficient
	}
	c.metrics.Done(domain, outcome)
}

// Back undoes the most recent answer of a consultation.
func (c *Consult) Back(ctx context.Context, id string) (session.BackResult, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return session.BackResult{}, err
	}
	res, err := c.sessions.Back(ctx, id)
	if err != nil {
		return session.BackResult{}, err
	}
	c.metrics.Back(s.Domain())
	return res, nil
}

// Visualize returns the rule network annotated with the session's facts.
func (c *Consult) Visualize(ctx context.Context, id string) (session.Visualization, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return session.Visualization{}, err
	}
	return s.Visualize(), nil
}

// Explain returns how fact was derived in a consultation.
func (c *Consult) Explain(ctx context.Context, id, fact string) ([]inference.Step, error) {
	s, err := c.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Explain(fact), nil
}

// End discards a consultation.
func (c *Consult) End(ctx context.Context, id string) error {
	if err := c.sessions.Delete(ctx, id); err != nil {
		return err
	}
	c.metrics.SetActive(c.sessions.Len())
	c.logger.Debug("consultation ended", zap.String("session", id))
	return nil
}

// Evict drops sessions idle for longer than idle from memory.
func (c *Consult) Evict(idle time.Duration) int {
	n := c.sessions.Evict(idle)
	if n > 0 {
		c.metrics.SetActive(c.sessions.Len())
		c.logger.Info("idle sessions evicted", zap.Int("count", n))
	}
	return n
}

// Reload drops the cached catalog of domain so the next consultation sees
// the store's current rules.
func (c *Consult) Reload(domain string) {
	c.catalogs.Invalidate(domain)
}

// Validate analyzes the domain's current rules, stores the report and
// returns it. Findings never block consultations.
func (c *Consult) Validate(ctx context.Context, domain string) (validate.Report, error) {
	started := time.Now()
	rs, err := c.store.GetRules(ctx, domain)
	if err != nil {
		return validate.Report{}, fmt.Errorf("load rules for %q: %w", domain, err)
	}
	if len(rs) == 0 {
		return validate.Report{}, fmt.Errorf("%w: domain %q has no rules", internalerr.ErrInvalidConfig, domain)
	}
	qs, err := c.store.GetQuestions(ctx, domain)
	if err != nil {
		return validate.Report{}, fmt.Errorf("load questions for %q: %w", domain, err)
	}

	// A derivable fact with a high-priority question is asked directly, so
	// it is reachable with either value.
	direct := make(map[string]bool)
	for _, q := range qs {
		if q.Priority >= c.threshold {
			direct[q.Fact] = true
		}
	}
	analyzer := validate.Analyzer{Askable: func(fact string) bool { return direct[fact] }}
	rep := analyzer.Report(domain, rs, c.now())

	if err := c.store.SaveValidation(ctx, rep); err != nil {
		return validate.Report{}, fmt.Errorf("save validation: %w", err)
	}

	counts := map[string]int{
		string(validate.TypeContradiction): 0,
		string(validate.TypeUnreachable):   0,
		string(validate.TypeCircular):      0,
	}
	for _, is := range rep.Issues {
		counts[string(is.Type)]++
	}
	c.metrics.Validated(domain, counts, time.Since(started).Seconds())
	c.logger.Info("domain validated",
		zap.String("domain", domain),
		zap.Bool("valid", rep.IsValid),
		zap.Int("issues", len(rep.Issues)))
	return rep, nil
}

// LatestValidation returns the last stored report for domain.
func (c *Consult) LatestValidation(ctx context.Context, domain string) (validate.Report, error) {
	rep, ok, err := c.store.LatestValidation(ctx, domain)
	if err != nil {
		return validate.Report{}, err
	}
	if !ok {
		return validate.Report{}, fmt.Errorf("%w: no validation for domain %q", internalerr.ErrNotFound, domain)
	}
	return rep, nil
}

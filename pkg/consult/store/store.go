package store

import (
	"context"

	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/validate"
)

// Store is the knowledge-base repository: rules and questions per domain,
// plus the latest validation report of each domain.
type Store interface {
	Close() error

	// Rules, ordered by priority descending then insertion order.
	GetRules(ctx context.Context, domain string) ([]rules.Rule, error)
	UpsertRule(ctx context.Context, r rules.Rule) error

	// Questions
	GetQuestions(ctx context.Context, domain string) ([]rules.Question, error)
	UpsertQuestion(ctx context.Context, q rules.Question) error

	// Domains lists every domain that has at least one rule, sorted.
	Domains(ctx context.Context) ([]string, error)
	// DeleteDomain removes a domain's rules, questions and reports.
	DeleteDomain(ctx context.Context, domain string) error

	// Validation history
	SaveValidation(ctx context.Context, rep validate.Report) error
	LatestValidation(ctx context.Context, domain string) (validate.Report, bool, error)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/validate"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// schema if needed.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	// busy_timeout is per connection, so it goes in the DSN for the pool.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", internalerr.ErrStoreUnavailable, path, err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS rules (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	conclusion TEXT NOT NULL,
	conclusion_value INTEGER NOT NULL,
	operator TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	final INTEGER NOT NULL DEFAULT 0,
	conditions TEXT NOT NULL,
	UNIQUE(domain, rule_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_domain ON rules(domain, priority DESC, seq);

CREATE TABLE IF NOT EXISTS questions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	fact TEXT NOT NULL,
	text TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	UNIQUE(domain, fact)
);

CREATE TABLE IF NOT EXISTS validations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT NOT NULL,
	is_valid INTEGER NOT NULL,
	issues TEXT NOT NULL,
	checked_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_validations_domain ON validations(domain, id);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertRule inserts or replaces a rule keyed by (domain, rule_id). The
// insertion position of an existing rule is kept.
func (s *sqliteStore) UpsertRule(ctx context.Context, r rules.Rule) error {
	if r.Domain == "" {
		return fmt.Errorf("%w: rule %q has no domain", internalerr.ErrInvalidInput, r.ID)
	}
	if r.Operator == "" {
		r.Operator = rules.And
	}
	if err := r.Validate(); err != nil {
		return err
	}
	condJSON, err := json.Marshal(r.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO rules (domain, rule_id, conclusion, conclusion_value, operator, priority, final, conditions)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(domain, rule_id) DO UPDATE SET
	conclusion=excluded.conclusion,
	conclusion_value=excluded.conclusion_value,
	operator=excluded.operator,
	priority=excluded.priority,
	final=excluded.final,
	conditions=excluded.conditions;
`, r.Domain, r.ID, r.Conclusion, boolInt(r.ConclusionValue), string(r.Operator), r.Priority, boolInt(r.Final), string(condJSON))
	if err != nil {
		return fmt.Errorf("upsert rule %s/%s: %w", r.Domain, r.ID, err)
	}
	return nil
}

// GetRules returns the domain's rules, priority descending then insertion.
func (s *sqliteStore) GetRules(ctx context.Context, domain string) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT rule_id, conclusion, conclusion_value, operator, priority, final, conditions
FROM rules
WHERE domain = ?
ORDER BY priority DESC, seq ASC
`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			r          = rules.Rule{Domain: domain}
			value      int
			final      int
			op         string
			conditions string
		)
		if err := rows.Scan(&r.ID, &r.Conclusion, &value, &op, &r.Priority, &final, &conditions); err != nil {
			return nil, err
		}
		r.ConclusionValue = value != 0
		r.Final = final != 0
		if r.Operator, err = rules.ParseOperator(op); err != nil {
			return nil, fmt.Errorf("rule %s/%s: %w", domain, r.ID, err)
		}
		if err := json.Unmarshal([]byte(conditions), &r.Conditions); err != nil {
			return nil, fmt.Errorf("rule %s/%s conditions: %w", domain, r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertQuestion inserts or replaces a question keyed by (domain, fact).
func (s *sqliteStore) UpsertQuestion(ctx context.Context, q rules.Question) error {
	if q.Domain == "" || q.Fact == "" {
		return fmt.Errorf("%w: question needs a domain and a fact", internalerr.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO questions (domain, fact, text, priority) VALUES (?, ?, ?, ?)
ON CONFLICT(domain, fact) DO UPDATE SET text=excluded.text, priority=excluded.priority;
`, q.Domain, q.Fact, q.Text, q.Priority)
	return err
}

// GetQuestions returns the domain's questions in insertion order.
func (s *sqliteStore) GetQuestions(ctx context.Context, domain string) ([]rules.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT fact, COALESCE(text, ''), priority FROM questions WHERE domain = ? ORDER BY seq
`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rules.Question
	for rows.Next() {
		q := rules.Question{Domain: domain}
		if err := rows.Scan(&q.Fact, &q.Text, &q.Priority); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Domains lists domains that have rules.
func (s *sqliteStore) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain FROM rules ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDomain removes everything stored for domain in one transaction.
func (s *sqliteStore) DeleteDomain(ctx context.Context, domain string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM rules WHERE domain = ?`, domain)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: domain %q", internalerr.ErrNotFound, domain)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE domain = ?`, domain); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM validations WHERE domain = ?`, domain); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveValidation appends a report to the domain's history.
func (s *sqliteStore) SaveValidation(ctx context.Context, rep validate.Report) error {
	issues := rep.Issues
	if issues == nil {
		issues = []validate.Issue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("marshal issues: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO validations (domain, is_valid, issues, checked_at) VALUES (?, ?, ?, ?)
`, rep.Domain, boolInt(rep.IsValid), string(issuesJSON), rep.CheckedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// LatestValidation returns the most recently saved report for domain.
func (s *sqliteStore) LatestValidation(ctx context.Context, domain string) (validate.Report, bool, error) {
	var (
		rep       = validate.Report{Domain: domain}
		valid     int
		issues    string
		checkedAt string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT is_valid, issues, checked_at FROM validations WHERE domain = ? ORDER BY id DESC LIMIT 1
`, domain).Scan(&valid, &issues, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return validate.Report{}, false, nil
	}
	if err != nil {
		return validate.Report{}, false, err
	}

	rep.IsValid = valid != 0
	if err := json.Unmarshal([]byte(issues), &rep.Issues); err != nil {
		return validate.Report{}, false, fmt.Errorf("decode issues: %w", err)
	}
	if rep.CheckedAt, err = time.Parse(time.RFC3339Nano, checkedAt); err != nil {
		return validate.Report{}, false, fmt.Errorf("parse checked_at: %w", err)
	}
	return rep, true, nil
}

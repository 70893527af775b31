package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/validate"
)

type storedRule struct {
	seq  int64
	rule rules.Rule
}

// Store is an in-memory implementation of store.Store for tests and
// single-process demos.
type Store struct {
	mu          sync.RWMutex
	nextSeq     int64
	rules       map[string]map[string]storedRule // domain -> id -> rule
	questions   map[string]map[string]rules.Question
	qOrder      map[string][]string
	validations map[string]validate.Report
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextSeq:     1,
		rules:       make(map[string]map[string]storedRule),
		questions:   make(map[string]map[string]rules.Question),
		qOrder:      make(map[string][]string),
		validations: make(map[string]validate.Report),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// UpsertRule inserts or replaces a rule keyed by (domain, id). A replaced
// rule keeps its original insertion position.
func (s *Store) UpsertRule(ctx context.Context, r rules.Rule) error {
	if r.Domain == "" {
		return fmt.Errorf("%w: rule %q has no domain", internalerr.ErrInvalidInput, r.ID)
	}
	if r.Operator == "" {
		r.Operator = rules.And
	}
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.rules[r.Domain]
	if !ok {
		byID = make(map[string]storedRule)
		s.rules[r.Domain] = byID
	}
	seq := s.nextSeq
	if existing, ok := byID[r.ID]; ok {
		seq = existing.seq
	} else {
		s.nextSeq++
	}
	byID[r.ID] = storedRule{seq: seq, rule: r.Clone()}
	return nil
}

// GetRules returns a copy of the domain's rules.
func (s *Store) GetRules(ctx context.Context, domain string) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := make([]storedRule, 0, len(s.rules[domain]))
	for _, sr := range s.rules[domain] {
		stored = append(stored, sr)
	}
	sort.Slice(stored, func(i, j int) bool {
		if stored[i].rule.Priority != stored[j].rule.Priority {
			return stored[i].rule.Priority > stored[j].rule.Priority
		}
		return stored[i].seq < stored[j].seq
	})

	out := make([]rules.Rule, len(stored))
	for i, sr := range stored {
		out[i] = sr.rule.Clone()
	}
	return out, nil
}

// UpsertQuestion inserts or replaces a question keyed by (domain, fact).
func (s *Store) UpsertQuestion(ctx context.Context, q rules.Question) error {
	if q.Domain == "" || q.Fact == "" {
		return fmt.Errorf("%w: question needs a domain and a fact", internalerr.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byFact, ok := s.questions[q.Domain]
	if !ok {
		byFact = make(map[string]rules.Question)
		s.questions[q.Domain] = byFact
	}
	if _, exists := byFact[q.Fact]; !exists {
		s.qOrder[q.Domain] = append(s.qOrder[q.Domain], q.Fact)
	}
	byFact[q.Fact] = q
	return nil
}

// GetQuestions returns the domain's questions in insertion order.
func (s *Store) GetQuestions(ctx context.Context, domain string) ([]rules.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]rules.Question, 0, len(s.qOrder[domain]))
	for _, fact := range s.qOrder[domain] {
		out = append(out, s.questions[domain][fact])
	}
	return out, nil
}

// Domains implements store.Store.
func (s *Store) Domains(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.rules))
	for d, byID := range s.rules {
		if len(byID) > 0 {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeleteDomain implements store.Store.
func (s *Store) DeleteDomain(ctx context.Context, domain string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[domain]; !ok {
		return fmt.Errorf("%w: domain %q", internalerr.ErrNotFound, domain)
	}
	delete(s.rules, domain)
	delete(s.questions, domain)
	delete(s.qOrder, domain)
	delete(s.validations, domain)
	return nil
}

// SaveValidation keeps only the latest report per domain.
func (s *Store) SaveValidation(ctx context.Context, rep validate.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep.Issues = append([]validate.Issue(nil), rep.Issues...)
	s.validations[rep.Domain] = rep
	return nil
}

// LatestValidation implements store.Store.
func (s *Store) LatestValidation(ctx context.Context, domain string) (validate.Report, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.validations[domain]
	if !ok {
		return validate.Report{}, false, nil
	}
	rep.Issues = append([]validate.Issue(nil), rep.Issues...)
	return rep, true, nil
}

var _ store.Store = (*Store)(nil)

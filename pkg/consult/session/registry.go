package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/internalerr"
)

// Resolver returns the engine for a domain. The registry uses it to rebuild
// sessions from a journal.
type Resolver func(ctx context.Context, domain string) (inference.Engine, error)

// Registry owns the live sessions of a process, keyed by ULID.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	journal   Journal
	resolver  Resolver
	onRestore func(*Session)
	now       func() time.Time
	logger    *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithJournal persists answers so sessions survive a restart. A resolver is
// required to rebuild them.
func WithJournal(j Journal, resolver Resolver) RegistryOption {
	return func(r *Registry) {
		r.journal = j
		r.resolver = resolver
	}
}

// WithRestoreHook registers fn to run after a session is rebuilt from the
// journal and added to the registry.
func WithRestoreHook(fn func(*Session)) RegistryOption {
	return func(r *Registry) { r.onRestore = fn }
}

// WithRegistryLogger sets the logger handed to every session.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryClock overrides time.Now for the registry and its sessions.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		entropy:  ulid.Monotonic(rand.Reader, 0),
		journal:  nopJournal{},
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) newID() string {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(r.now()), r.entropy).String()
}

func (r *Registry) sessionOptions() []Option {
	return []Option{WithLogger(r.logger), WithClock(r.now)}
}

// Start creates and starts a session over engine.
func (r *Registry) Start(ctx context.Context, engine inference.Engine) (*Session, Result, error) {
	id := r.newID()
	s := New(id, engine, r.sessionOptions()...)
	res := s.Start()

	if err := r.journal.Append(ctx, id, Entry{Domain: s.Domain()}); err != nil {
		return nil, Result{}, fmt.Errorf("journal start: %w", err)
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s, res, nil
}

// Get returns the session for id, rebuilding it from the journal when it is
// not in memory.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}
	if r.resolver == nil {
		return nil, fmt.Errorf("%w: session %s", internalerr.ErrNotFound, id)
	}

	entries, err := r.journal.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	if len(entries) == 0 || entries[0].Domain == "" {
		return nil, fmt.Errorf("%w: session %s", internalerr.ErrNotFound, id)
	}

	s, err = r.replay(ctx, id, entries)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Info("session restored from journal",
		zap.String("session", id),
		zap.Int("answers", len(entries)-1))
	if r.onRestore != nil {
		r.onRestore(s)
	}
	return s, nil
}

func (r *Registry) replay(ctx context.Context, id string, entries []Entry) (*Session, error) {
	engine, err := r.resolver(ctx, entries[0].Domain)
	if err != nil {
		return nil, fmt.Errorf("resolve domain %q: %w", entries[0].Domain, err)
	}
	s := New(id, engine, r.sessionOptions()...)
	s.Start()
	for _, e := range entries[1:] {
		if _, err := s.Answer(e.Fact, e.Answer); err != nil {
			return nil, fmt.Errorf("replay session %s: %w", id, err)
		}
	}
	return s, nil
}

// Answer forwards to the session and journals the answer. If the journal
// write fails the answer is undone, so memory and journal stay in step and
// the caller can retry.
func (r *Registry) Answer(ctx context.Context, id, fact string, answer *bool) (Result, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	res, err := s.Answer(fact, answer)
	if err != nil {
		return Result{}, err
	}
	if err := r.journal.Append(ctx, id, Entry{Fact: fact, Answer: answer}); err != nil {
		s.Back()
		r.logger.Warn("answer rolled back",
			zap.String("session", id),
			zap.String("fact", fact),
			zap.Error(err))
		return Result{}, fmt.Errorf("journal answer: %w", err)
	}
	return res, nil
}

// Back undoes the last answer of session id.
func (r *Registry) Back(ctx context.Context, id string) (BackResult, error) {
	s, err := r.Get(ctx, id)
	if err != nil {
		return BackResult{}, err
	}
	res, undone := s.Back()
	if undone {
		if err := r.journal.Pop(ctx, id); err != nil {
			return BackResult{}, fmt.Errorf("journal back: %w", err)
		}
	}
	return res, nil
}

// Delete discards session id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	entries, err := r.journal.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("load journal: %w", err)
	}
	if !ok && len(entries) == 0 {
		return fmt.Errorf("%w: session %s", internalerr.ErrNotFound, id)
	}
	return r.journal.Delete(ctx, id)
}

// Evict drops in-memory sessions idle for longer than idle. Journaled
// sessions can still be rebuilt later. It returns the number evicted.
func (r *Registry) Evict(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.UpdatedAt().Before(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of in-memory sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

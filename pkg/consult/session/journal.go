package session

import (
	"context"
	"sync"
)

// Entry is one journal record. The first entry of a session carries the
// domain; each later entry is an answer (nil Answer = don't know).
type Entry struct {
	Domain string `json:"domain,omitempty"`
	Fact   string `json:"fact,omitempty"`
	Answer *bool  `json:"answer"`
}

// Journal is an append-only log of session answers.
type Journal interface {
	Append(ctx context.Context, id string, e Entry) error
	// Pop removes the most recent entry.
	Pop(ctx context.Context, id string) error
	Load(ctx context.Context, id string) ([]Entry, error)
	Delete(ctx context.Context, id string) error
}

type nopJournal struct{}

func (nopJournal) Append(context.Context, string, Entry) error   { return nil }
func (nopJournal) Pop(context.Context, string) error             { return nil }
func (nopJournal) Load(context.Context, string) ([]Entry, error) { return nil, nil }
func (nopJournal) Delete(context.Context, string) error          { return nil }

// MemoryJournal keeps entries in process memory. Useful in tests and for a
// single process that only wants eviction without losing sessions.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string][]Entry)}
}

// Append adds e to the end of the log for id.
func (j *MemoryJournal) Append(_ context.Context, id string, e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[id] = append(j.entries[id], e)
	return nil
}

// Pop drops the newest entry for id. An empty log is left alone.
func (j *MemoryJournal) Pop(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n := len(j.entries[id]); n > 0 {
		j.entries[id] = j.entries[id][:n-1]
	}
	return nil
}

// Load returns a copy of the entries for id, oldest first.
func (j *MemoryJournal) Load(_ context.Context, id string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry(nil), j.entries[id]...), nil
}

// Delete forgets id.
func (j *MemoryJournal) Delete(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	return nil
}

package facts

import (
	"fmt"
	"sort"
)

// State is the knowledge state of a fact that has a value.
type State uint8

const (
	StateConfirmed State = iota + 1
	StateUncertain
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateUncertain:
		return "uncertain"
	case StateUnknown:
		return "unknown"
	default:
		return "absent"
	}
}

// Value is a tagged fact value. The zero Value means the fact is absent.
// For Uncertain, Bool holds the provisionally assumed value.
type Value struct {
	State State
	Bool  bool
}

// Confirmed returns a confirmed value.
func Confirmed(b bool) Value { return Value{State: StateConfirmed, Bool: b} }

// Uncertain returns a provisional value awaiting finalization.
func Uncertain(assumed bool) Value { return Value{State: StateUncertain, Bool: assumed} }

// Unknown returns the value for a fact the user declined to answer.
func Unknown() Value { return Value{State: StateUnknown} }

// Known reports whether v is a confirmed value.
func (v Value) Known() bool { return v.State == StateConfirmed }

func (v Value) String() string {
	switch v.State {
	case StateConfirmed:
		return fmt.Sprintf("%t", v.Bool)
	case StateUncertain:
		return fmt.Sprintf("uncertain(%t)", v.Bool)
	case StateUnknown:
		return "unknown"
	default:
		return "absent"
	}
}

type set map[string]struct{}

func (s set) clone() set {
	out := make(set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// state holds the collections a Store exposes. A state reachable from a
// Snapshot is never mutated again.
type state struct {
	values    map[string]Value
	derived   set
	asked     set
	askOrder  []string
	fired     []string
	firedSet  set
	finalized set
}

func newState() *state {
	return &state{
		values:    make(map[string]Value),
		derived:   make(set),
		asked:     make(set),
		firedSet:  make(set),
		finalized: make(set),
	}
}

func (s *state) clone() *state {
	values := make(map[string]Value, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return &state{
		values:    values,
		derived:   s.derived.clone(),
		asked:     s.asked.clone(),
		askOrder:  append([]string(nil), s.askOrder...),
		fired:     append([]string(nil), s.fired...),
		firedSet:  s.firedSet.clone(),
		finalized: s.finalized.clone(),
	}
}

// Store maps fact names to values plus the consultation bookkeeping.
//
// Snapshot marks the current state as shared and returns it; the next
// mutation copies it first. Snapshot is O(1) and Restore is a pointer swap.
// A Store is not safe for concurrent use.
type Store struct {
	st     *state
	shared bool
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) mutable() *state {
	if s.shared {
		s.st = s.st.clone()
		s.shared = false
	}
	return s.st
}

// Snapshot is an immutable point-in-time view of a Store.
type Snapshot struct {
	st *state
}

// Snapshot captures the current state.
func (s *Store) Snapshot() Snapshot {
	s.shared = true
	return Snapshot{st: s.st}
}

// Restore replaces the live contents with snap.
func (s *Store) Restore(snap Snapshot) {
	if snap.st == nil {
		s.st = newState()
		s.shared = false
		return
	}
	s.st = snap.st
	s.shared = true
}

// Reset clears every collection.
func (s *Store) Reset() {
	s.st = newState()
	s.shared = false
}

func (s *Store) markAsked(st *state, name string) {
	if _, ok := st.asked[name]; ok {
		return
	}
	st.asked[name] = struct{}{}
	st.askOrder = append(st.askOrder, name)
}

// SetConfirmed records a direct answer.
func (s *Store) SetConfirmed(name string, v bool) {
	st := s.mutable()
	st.values[name] = Confirmed(v)
	delete(st.derived, name)
	s.markAsked(st, name)
}

// SetUnknown records that the user declined to answer name.
func (s *Store) SetUnknown(name string) {
	st := s.mutable()
	st.values[name] = Unknown()
	delete(st.derived, name)
	s.markAsked(st, name)
}

// SetUncertain records a declined answer with a provisionally assumed value.
func (s *Store) SetUncertain(name string, assumed bool) {
	st := s.mutable()
	st.values[name] = Uncertain(assumed)
	delete(st.derived, name)
	s.markAsked(st, name)
}

// Fire records ruleID as fired and confirms its conclusion. An existing
// confirmed value is never overwritten. It returns false if the rule had
// already fired.
func (s *Store) Fire(ruleID, conclusion string, v bool) bool {
	if _, ok := s.st.firedSet[ruleID]; ok {
		return false
	}
	st := s.mutable()
	st.firedSet[ruleID] = struct{}{}
	st.fired = append(st.fired, ruleID)
	if cur, ok := st.values[conclusion]; ok && cur.Known() {
		return true
	}
	st.values[conclusion] = Confirmed(v)
	st.derived[conclusion] = struct{}{}
	return true
}

// FinalizeUncertain confirms every uncertain fact at its assumed value and
// returns the finalized names in the order they were asked.
func (s *Store) FinalizeUncertain() []string {
	var names []string
	for _, name := range s.st.askOrder {
		if v := s.st.values[name]; v.State == StateUncertain {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	st := s.mutable()
	for _, name := range names {
		st.values[name] = Confirmed(st.values[name].Bool)
		st.finalized[name] = struct{}{}
	}
	return names
}

// Get returns the value for name and whether it is present.
func (s *Store) Get(name string) (Value, bool) {
	v, ok := s.st.values[name]
	return v, ok
}

// IsConfirmed reports whether name has a confirmed value.
func (s *Store) IsConfirmed(name string) bool {
	return s.st.values[name].Known()
}

// Matches reports whether name is confirmed at expected.
func (s *Store) Matches(name string, expected bool) bool {
	v := s.st.values[name]
	return v.Known() && v.Bool == expected
}

// IsAsked reports whether name was put to the user.
func (s *Store) IsAsked(name string) bool {
	_, ok := s.st.asked[name]
	return ok
}

// IsDerived reports whether name was confirmed by a rule.
func (s *Store) IsDerived(name string) bool {
	_, ok := s.st.derived[name]
	return ok
}

// IsFinalized reports whether name was confirmed by FinalizeUncertain.
func (s *Store) IsFinalized(name string) bool {
	_, ok := s.st.finalized[name]
	return ok
}

// HasFired reports whether ruleID has fired.
func (s *Store) HasFired(ruleID string) bool {
	_, ok := s.st.firedSet[ruleID]
	return ok
}

// FiredRules returns fired rule IDs in firing order.
func (s *Store) FiredRules() []string {
	return append([]string(nil), s.st.fired...)
}

// AskedQuestions returns asked fact names in the order they were asked.
func (s *Store) AskedQuestions() []string {
	return append([]string(nil), s.st.askOrder...)
}

// DerivedFacts returns the names confirmed by rules, sorted.
func (s *Store) DerivedFacts() []string { return s.st.derived.sorted() }

// Finalized returns the names confirmed by FinalizeUncertain, sorted.
func (s *Store) Finalized() []string { return s.st.finalized.sorted() }

// UnknownFacts returns facts in the unknown state, sorted.
func (s *Store) UnknownFacts() []string { return s.byState(StateUnknown) }

// UncertainFacts returns facts in the uncertain state, sorted.
func (s *Store) UncertainFacts() []string { return s.byState(StateUncertain) }

func (s *Store) byState(want State) []string {
	var out []string
	for name, v := range s.st.values {
		if v.State == want {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of facts with a value.
func (s *Store) Len() int { return len(s.st.values) }

package facts

import "sort"

// Entry is one fact in an Export.
type Entry struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Value bool   `json:"value"`
}

// Export is a deterministic, comparable rendering of a Store.
type Export struct {
	Facts     []Entry  `json:"facts"`
	Derived   []string `json:"derived"`
	Asked     []string `json:"asked"`
	Fired     []string `json:"fired"`
	Finalized []string `json:"finalized"`
}

// Export renders the store with facts sorted by name. Asked and Fired keep
// their recorded order.
func (s *Store) Export() Export {
	entries := make([]Entry, 0, len(s.st.values))
	for name, v := range s.st.values {
		entries = append(entries, Entry{Name: name, State: v.State.String(), Value: v.Bool})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return Export{
		Facts:     entries,
		Derived:   s.DerivedFacts(),
		Asked:     s.AskedQuestions(),
		Fired:     s.FiredRules(),
		Finalized: s.Finalized(),
	}
}

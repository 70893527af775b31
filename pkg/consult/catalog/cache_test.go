package catalog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
)

// countingStore counts rule loads.
type countingStore struct {
	store.Store
	loads atomic.Int32
}

func (s *countingStore) GetRules(ctx context.Context, domain string) ([]rules.Rule, error) {
	s.loads.Add(1)
	return s.Store.GetRules(ctx, domain)
}

func seeded(t *testing.T) *countingStore {
	t.Helper()
	ms := memstore.New()
	ctx := context.Background()
	require.NoError(t, ms.UpsertRule(ctx, rules.Rule{
		ID: "R1", Domain: "E", Conclusion: "B", ConclusionValue: true, Priority: 50,
		Conditions: []rules.Condition{{Fact: "A", Expected: true}},
	}))
	require.NoError(t, ms.UpsertRule(ctx, rules.Rule{
		ID: "R2", Domain: "E", Conclusion: "E_goal", ConclusionValue: true, Priority: 10,
		Conditions: []rules.Condition{{Fact: "B", Expected: true}},
	}))
	require.NoError(t, ms.UpsertQuestion(ctx, rules.Question{Domain: "E", Fact: "A", Text: "Is A true?"}))
	return &countingStore{Store: ms}
}

func TestCacheLoadsOnce(t *testing.T) {
	st := seeded(t)
	c := New(st)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Engine(context.Background(), "E")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cat, err := c.Catalog(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, []string{"E_goal"}, cat.Goals())
	assert.Equal(t, "Is A true?", cat.QuestionText("A"))
	assert.LessOrEqual(t, st.loads.Load(), int32(16))
	assert.Equal(t, 1, c.Len())

	before := st.loads.Load()
	_, err = c.Engine(context.Background(), "E")
	require.NoError(t, err)
	assert.Equal(t, before, st.loads.Load(), "cached engines do not hit the store")
}

func TestCacheInvalidate(t *testing.T) {
	st := seeded(t)
	c := New(st)
	ctx := context.Background()

	first, err := c.Engine(ctx, "E")
	require.NoError(t, err)
	c.Invalidate("E")
	assert.Equal(t, 0, c.Len())

	second, err := c.Engine(ctx, "E")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), st.loads.Load())
}

func TestCacheUnknownDomain(t *testing.T) {
	c := New(seeded(t))
	_, err := c.Engine(context.Background(), "nope")
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
	assert.Equal(t, 0, c.Len())
}

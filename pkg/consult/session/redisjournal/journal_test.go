package redisjournal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/consult/pkg/consult/inference"
	"github.com/cognicore/consult/pkg/consult/inference/simple"
	"github.com/cognicore/consult/pkg/consult/rules"
	"github.com/cognicore/consult/pkg/consult/session"
)

func newJournal(t *testing.T, opts ...Option) (*Journal, *miniredis.Miniredis) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(m.Close)
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, opts...), m
}

func TestAppendLoadPop(t *testing.T) {
	ctx := context.Background()
	j, _ := newJournal(t)
	yes := true

	require.NoError(t, j.Append(ctx, "s1", session.Entry{Domain: "E"}))
	require.NoError(t, j.Append(ctx, "s1", session.Entry{Fact: "A", Answer: &yes}))
	require.NoError(t, j.Append(ctx, "s1", session.Entry{Fact: "B"}))

	got, err := j.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "E", got[0].Domain)
	require.NotNil(t, got[1].Answer)
	assert.True(t, *got[1].Answer)
	assert.Nil(t, got[2].Answer, "don't know survives the round trip")

	require.NoError(t, j.Pop(ctx, "s1"))
	got, err = j.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, j.Delete(ctx, "s1"))
	got, err = j.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, j.Pop(ctx, "s1"))
}

func TestTTLAndPrefix(t *testing.T) {
	ctx := context.Background()
	j, m := newJournal(t, WithPrefix("test:"), WithTTL(time.Minute))

	require.NoError(t, j.Append(ctx, "s1", session.Entry{Domain: "E"}))
	assert.True(t, m.Exists("test:s1"))
	assert.Equal(t, time.Minute, m.TTL("test:s1"))

	m.FastForward(2 * time.Minute)
	got, err := j.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRegistryRestartWithRedis(t *testing.T) {
	ctx := context.Background()
	j, _ := newJournal(t)

	c, err := rules.NewCatalog("E", []rules.Rule{
		{ID: "R1", Conclusion: "B", ConclusionValue: true, Priority: 50, Conditions: []rules.Condition{{Fact: "A", Expected: true}}},
		{ID: "R2", Conclusion: "E_goal", ConclusionValue: true, Priority: 10, Conditions: []rules.Condition{{Fact: "B", Expected: true}}},
	}, nil)
	require.NoError(t, err)
	eng := simple.New(c)
	resolve := func(context.Context, string) (inference.Engine, error) { return eng, nil }

	before := session.NewRegistry(session.WithJournal(j, resolve))
	s, _, err := before.Start(ctx, eng)
	require.NoError(t, err)

	after := session.NewRegistry(session.WithJournal(j, resolve))
	yes := true
	res, err := after.Answer(ctx, s.ID(), "A", &yes)
	require.NoError(t, err)
	assert.Equal(t, []string{"E_goal"}, res.Conclusions)
}

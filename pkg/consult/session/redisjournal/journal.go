// Package redisjournal stores session answer logs in Redis lists so that
// consultations survive a process restart or move between replicas.
package redisjournal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognicore/consult/pkg/consult/internalerr"
	"github.com/cognicore/consult/pkg/consult/session"
)

// DefaultPrefix namespaces journal keys.
const DefaultPrefix = "consult:session:"

// Journal is a session.Journal backed by one Redis list per session.
type Journal struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

// Option configures a Journal.
type Option func(*Journal)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(p string) Option {
	return func(j *Journal) { j.prefix = p }
}

// WithTTL expires idle journals. Every write refreshes the deadline. Zero
// keeps journals until deleted.
func WithTTL(ttl time.Duration) Option {
	return func(j *Journal) { j.ttl = ttl }
}

// New wraps an existing client.
func New(rdb redis.Cmdable, opts ...Option) *Journal {
	j := &Journal{rdb: rdb, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) key(id string) string { return j.prefix + id }

// Append pushes e onto the session's list.
func (j *Journal) Append(ctx context.Context, id string, e session.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	key := j.key(id)
	_, err = j.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		if j.ttl > 0 {
			p.Expire(ctx, key, j.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: append %s: %v", internalerr.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Pop drops the newest entry. Popping an empty list is not an error.
func (j *Journal) Pop(ctx context.Context, id string) error {
	err := j.rdb.RPop(ctx, j.key(id)).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("%w: pop %s: %v", internalerr.ErrStoreUnavailable, j.key(id), err)
	}
	return nil
}

// Load returns all entries oldest first.
func (j *Journal) Load(ctx context.Context, id string) ([]session.Entry, error) {
	raw, err := j.rdb.LRange(ctx, j.key(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", internalerr.ErrStoreUnavailable, j.key(id), err)
	}
	entries := make([]session.Entry, 0, len(raw))
	for i, s := range raw {
		var e session.Entry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode entry %d of %s: %w", i, j.key(id), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Delete removes the session's list.
func (j *Journal) Delete(ctx context.Context, id string) error {
	if err := j.rdb.Del(ctx, j.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %v", internalerr.ErrStoreUnavailable, j.key(id), err)
	}
	return nil
}

var _ session.Journal = (*Journal)(nil)

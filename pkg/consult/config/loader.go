package config

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cognicore/consult/pkg/consult/session"
	"github.com/cognicore/consult/pkg/consult/session/redisjournal"
	"github.com/cognicore/consult/pkg/consult/store"
	"github.com/cognicore/consult/pkg/consult/store/memstore"
	"github.com/cognicore/consult/pkg/consult/store/sqlite"
)

// Loader loads the configuration files and constructs components
type Loader struct {
	ConfigPath    string
	KnowledgePath string
}

// Components holds the loaded configuration and what was built from it
type Components struct {
	Config    *Config
	Knowledge *KnowledgeBase
	Logger    *zap.Logger
}

// Load reads every configured file and returns initialized components.
// Missing paths fall back to defaults.
func (l *Loader) Load() (*Components, error) {
	comp := &Components{Config: Default()}

	if l.ConfigPath != "" {
		cfg, err := Load(l.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		comp.Config = cfg
	}

	if l.KnowledgePath != "" {
		kb, err := LoadKnowledgeBase(l.KnowledgePath)
		if err != nil {
			return nil, fmt.Errorf("load knowledge base: %w", err)
		}
		comp.Knowledge = kb
	}

	logger, err := comp.Config.Log.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	comp.Logger = logger
	return comp, nil
}

// OpenStore opens the configured store. A loaded knowledge base is seeded
// into it so a memory store starts usable.
func (c *Components) OpenStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch c.Config.Store.Driver {
	case "sqlite":
		st, err = sqlite.OpenSQLite(ctx, c.Config.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
	default:
		st = memstore.New()
	}

	if c.Knowledge != nil {
		nRules, nQuestions, err := c.Knowledge.Seed(ctx, st, false)
		if err != nil {
			st.Close()
			return nil, err
		}
		c.logger().Info("knowledge base seeded",
			zap.Strings("domains", c.Knowledge.DomainNames()),
			zap.Int("rules", nRules),
			zap.Int("questions", nQuestions))
	}
	return st, nil
}

// OpenJournal connects the Redis session journal. It returns a nil journal
// when Redis is not configured. The returned close func is never nil.
func (c *Components) OpenJournal(ctx context.Context) (session.Journal, func() error, error) {
	rc := c.Config.Redis
	if !rc.Enabled() {
		return nil, func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, func() error { return nil }, fmt.Errorf("connect redis %s: %w", rc.Addr, err)
	}
	var opts []redisjournal.Option
	if rc.Prefix != "" {
		opts = append(opts, redisjournal.WithPrefix(rc.Prefix))
	}
	if rc.TTL > 0 {
		opts = append(opts, redisjournal.WithTTL(rc.TTL))
	}
	return redisjournal.New(rdb, opts...), rdb.Close, nil
}

func (c *Components) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

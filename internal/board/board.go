// Package board wires one store and one instance/session scope into every
// blackboard component.
//
// A Board is the unit a CLI command, hook or MCP server works against. It
// owns the store connection; Close releases it.
package board

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/chalk/internal/aggregator"
	"github.com/dyluth/chalk/internal/config"
	"github.com/dyluth/chalk/internal/contexts"
	"github.com/dyluth/chalk/internal/events"
	"github.com/dyluth/chalk/internal/findings"
	"github.com/dyluth/chalk/internal/logging"
	"github.com/dyluth/chalk/internal/registry"
	"github.com/dyluth/chalk/internal/session"
	"github.com/dyluth/chalk/internal/tasks"
	"github.com/dyluth/chalk/pkg/store"
	"github.com/dyluth/chalk/pkg/store/redisstore"
	"github.com/dyluth/chalk/pkg/store/sqlitestore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// pingTimeout bounds the connectivity check made when opening a redis board.
const pingTimeout = 5 * time.Second

// Board is a fully wired set of components over one store.
type Board struct {
	Config     *config.ChalkConfig
	Store      store.Store
	Log        zerolog.Logger
	Session    *session.Manager
	Registry   *registry.Registry
	Findings   *findings.Manager
	Tasks      *tasks.Manager
	Contexts   *contexts.Manager
	Events     *events.Bus
	Aggregator *aggregator.Aggregator

	// Live is set when the backend can stream events to watchers.
	Live *redisstore.Store
}

// Option configures a Board.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Open connects to the configured backend and wires a board. When no session
// is configured the instance's latest active session is resumed.
func Open(ctx context.Context, cfg *config.ChalkConfig, log zerolog.Logger, opts ...Option) (*Board, error) {
	s, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	b := New(s, cfg, log, opts...)
	if cfg.Session == "" {
		b.Session.Resume(ctx)
	}
	return b, nil
}

// OpenStore opens the configured store backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, nil
	case config.BackendRedis, "":
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		s, err := redisstore.New(redisOpts, cfg.Namespace)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisURL, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// New wires every component over an already open store.
func New(s store.Store, cfg *config.ChalkConfig, log zerolog.Logger, opts ...Option) *Board {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Board{Config: cfg, Store: s, Log: log}

	b.Session = session.New(s, cfg.Instance, cfg.Session, logging.Component(log, "session"), session.WithClock(o.now))

	var busOpts []events.Option
	busOpts = append(busOpts, events.WithClock(o.now))
	if rs, ok := s.(*redisstore.Store); ok {
		b.Live = rs
		busOpts = append(busOpts, events.WithBroadcaster(rs))
	}
	b.Events = events.New(s, b.Session, logging.Component(log, "events"), busOpts...)

	b.Contexts = contexts.New(s, b.Session, logging.Component(log, "contexts"),
		contexts.WithClock(o.now),
		contexts.WithPromoter(b.Session),
	)
	b.Registry = registry.New(s, b.Session, logging.Component(log, "registry"),
		registry.WithClock(o.now),
		registry.WithContextLinker(b.Contexts),
	)
	b.Findings = findings.New(s, b.Session, logging.Component(log, "findings"),
		findings.WithClock(o.now),
		findings.WithDefaultScope(cfg.Findings.DefaultScope),
		findings.WithEmitter(b.Events),
		findings.WithPromoter(b.Session),
		findings.WithContextLinker(b.Contexts),
	)
	b.Tasks = tasks.New(s, b.Session, logging.Component(log, "tasks"),
		tasks.WithClock(o.now),
		tasks.WithDefaultPriority(cfg.Tasks.Priority()),
		tasks.WithEmitter(b.Events),
		tasks.WithPromoter(b.Session),
		tasks.WithContextLinker(b.Contexts),
		tasks.WithFindingLocator(b.Findings.PathOf),
	)
	b.Aggregator = aggregator.New(s, b.Session, b.Findings, b.Tasks, b.Registry, logging.Component(log, "aggregator"),
		aggregator.WithClock(o.now),
		aggregator.WithContexts(b.Contexts),
		aggregator.WithLimits(aggregator.Limits{
			ItemChars: cfg.Summary.ItemChars,
			MaxItems:  cfg.Summary.MaxItems,
			MaxChars:  cfg.Summary.MaxChars,
		}),
	)
	b.Session.SetArchiver(b.Findings)
	return b
}

// Close releases the store.
func (b *Board) Close() error {
	return b.Store.Close()
}

// Package service assembles the pipeline from configuration and runs its
// long-lived parts: one batch worker per queue, the reconciliation
// scheduler and the metrics endpoint.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/config"
	"github.com/roach88/kudos/internal/engine"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/feed"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/notify"
	"github.com/roach88/kudos/internal/queue"
	"github.com/roach88/kudos/internal/reconcile"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/toggle"
)

const shutdownTimeout = 5 * time.Second

// Service holds every component built from one Config.
type Service struct {
	Config   config.Config
	Store    *store.Store
	State    ephemeral.Store
	Bus      *queue.Bus
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Notifier *notify.Dispatcher
	Toggles  *toggle.Handler
	Feed     *feed.Composer
	Sweeper  *reconcile.Sweeper

	logger logrus.FieldLogger
	clock  clockwork.Clock
	redis  redis.UniversalClient

	likes    *engine.LikeFlusher
	follows  *engine.FollowFlusher
	comments *engine.CommentFlusher
}

type options struct {
	sender notify.Sender
	clock  clockwork.Clock
	ids    engine.IDGenerator
	redis  redis.UniversalClient
}

// Option customizes New.
type Option func(*options)

// WithSender replaces the default LogSender.
func WithSender(s notify.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator replaces the UUIDv7 comment id generator.
func WithIDGenerator(g engine.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithRedisClient uses client instead of dialing cfg.Redis.Addr.
// The service does not close a client passed this way.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// New opens the store and builds the ephemeral backend, queues and
// handlers. Redis backs state and queues when cfg.Redis.Addr is set;
// otherwise both live in process.
func New(cfg config.Config, logger logrus.FieldLogger, opts ...Option) (*Service, error) {
	o := options{
		clock: clockwork.NewRealClock(),
		ids:   engine.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sender == nil {
		o.sender = notify.LogSender{Logger: logger}
	}

	policy, err := reconcile.ParsePolicy(cfg.Reconcile.Policy)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path, store.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Service{
		Config:   cfg,
		Store:    st,
		Registry: prometheus.NewRegistry(),
		logger:   logger,
		clock:    o.clock,
	}
	s.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.Metrics = metrics.New(s.Registry)

	switch {
	case o.redis != nil:
		s.State, s.Bus = redisBackend(o.redis, cfg.Redis)
	case cfg.Redis.Enabled():
		s.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.State, s.Bus = redisBackend(s.redis, cfg.Redis)
	default:
		s.State = ephemeral.NewMemory(ephemeral.WithClock(o.clock))
		s.Bus = queue.NewMemoryBus()
	}

	s.Notifier = notify.NewDispatcher(st, o.sender, logger, s.Metrics)
	s.Toggles = toggle.NewHandler(st, s.State, s.Bus, logger, s.Metrics)
	s.Feed = feed.NewComposer(st, s.State, logger,
		feed.WithClock(o.clock),
		feed.WithMetrics(s.Metrics),
		feed.WithDefaultLimit(cfg.Feed.DefaultLimit),
		feed.WithFollowingPage(cfg.Feed.FollowingPage),
		feed.WithFollowingWindow(cfg.Feed.FollowingWindow),
		feed.WithSeenTTL(cfg.Feed.SeenTTL),
	)
	s.Sweeper = reconcile.NewSweeper(st, s.State, logger,
		reconcile.WithPolicy(policy),
		reconcile.WithMetrics(s.Metrics),
	)
	s.likes = engine.NewLikeFlusher(st, s.State, s.Notifier, logger)
	s.follows = engine.NewFollowFlusher(st, s.State, s.Notifier, logger)
	s.comments = engine.NewCommentFlusher(st, o.ids, s.Notifier, logger)
	return s, nil
}

func redisBackend(client redis.UniversalClient, cfg config.RedisConfig) (ephemeral.Store, *queue.Bus) {
	poll := queue.WithPollTimeout(cfg.PollTimeout)
	return ephemeral.NewRedis(client), queue.NewBus(
		queue.NewRedis(client, queue.Likes, poll),
		queue.NewRedis(client, queue.Follows, poll),
		queue.NewRedis(client, queue.Comments, poll),
	)
}

// Ping checks the Redis connection when one is configured.
func (s *Service) Ping(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", s.Config.Redis.Addr, err)
	}
	return nil
}

// Run starts the workers, the sweep scheduler and the metrics endpoint, and
// blocks until ctx is cancelled or one of them fails. Workers flush their
// buffers before Run returns.
func (s *Service) Run(ctx context.Context) error {
	scheduler, err := reconcile.NewScheduler(s.Sweeper, s.Config.Reconcile.Schedule, s.logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	workerOpts := []engine.WorkerOption{
		engine.WithBatchSize(s.Config.Batch.Size),
		engine.WithMaxWait(s.Config.Batch.MaxWait),
		engine.WithClock(s.clock),
		engine.WithLogger(s.logger),
		engine.WithMetrics(s.Metrics),
	}
	likes := engine.NewLikeWorker(s.Bus.Queue(queue.Likes), s.likes, workerOpts...)
	follows := engine.NewFollowWorker(s.Bus.Queue(queue.Follows), s.follows, workerOpts...)
	comments := engine.NewCommentWorker(s.Bus.Queue(queue.Comments), s.comments, workerOpts...)

	g.Go(func() error { return likes.Run(ctx) })
	g.Go(func() error { return follows.Run(ctx) })
	g.Go(func() error { return comments.Run(ctx) })

	if s.Config.Reconcile.Enabled {
		g.Go(func() error { return scheduler.Run(ctx) })
	}
	if s.Config.Metrics.Addr != "" {
		s.serveMetrics(ctx, g)
	}

	s.logger.WithFields(logrus.Fields{
		"redis":      s.Config.Redis.Enabled(),
		"batch_size": s.Config.Batch.Size,
		"max_wait":   s.Config.Batch.MaxWait,
		"reconcile":  s.Config.Reconcile.Enabled,
	}).Info("pipeline running")

	err = g.Wait()
	s.logger.Info("pipeline stopped")
	return err
}

func (s *Service) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry}))
	server := &http.Server{
		Addr:              s.Config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		s.logger.WithField("addr", server.Addr).Info("serving metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
}

// Flush drains every queue once and writes each non-empty batch through its
// flusher. It stands in for the workers when none are running, as in
// one-shot CLI commands against the in-process backend.
func (s *Service) Flush(ctx context.Context) ([]engine.FlushReport, error) {
	var (
		reports []engine.FlushReport
		errs    *multierror.Error
	)
	collect := func(r engine.FlushReport) {
		reports = append(reports, r)
		if r.Err != nil {
			errs = multierror.Append(errs, fmt.Errorf("flush %s: %w", r.Kind, r.Err))
		}
	}

	likes, err := drain(ctx, s, queue.Likes, action.DecodeLike)
	if err != nil {
		return nil, err
	}
	if len(likes) > 0 {
		collect(s.likes.Flush(ctx, likes))
	}
	follows, err := drain(ctx, s, queue.Follows, action.DecodeFollow)
	if err != nil {
		return nil, err
	}
	if len(follows) > 0 {
		collect(s.follows.Flush(ctx, follows))
	}
	comments, err := drain(ctx, s, queue.Comments, action.DecodeComment)
	if err != nil {
		return nil, err
	}
	if len(comments) > 0 {
		collect(s.comments.Flush(ctx, comments))
	}

	for _, r := range reports {
		s.logger.WithFields(r.Fields()).Debug("flushed")
	}
	return reports, errs.ErrorOrNil()
}

// Drain removes and returns every message currently queued.
func Drain(ctx context.Context, q queue.Queue) ([][]byte, error) {
	n, err := q.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}
	msgs := make([][]byte, 0, n)
	for range n {
		msg, err := q.Receive(ctx)
		if err != nil {
			return nil, fmt.Errorf("drain: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func drain[T any](ctx context.Context, s *Service, kind queue.Kind, decode func([]byte) (T, error)) ([]T, error) {
	msgs, err := Drain(ctx, s.Bus.Queue(kind))
	if err != nil {
		return nil, err
	}
	batch := make([]T, 0, len(msgs))
	for _, msg := range msgs {
		a, err := decode(msg)
		if err != nil {
			s.Metrics.DecodeError(string(kind))
			s.logger.WithError(err).WithField("queue", kind).Warn("dropping undecodable message")
			continue
		}
		batch = append(batch, a)
	}
	return batch, nil
}

// Close releases the queues, the Redis client the service dialled and the
// store.
func (s *Service) Close() error {
	var errs *multierror.Error
	if err := s.Bus.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if err := s.Store.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

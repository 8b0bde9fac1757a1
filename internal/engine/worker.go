package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/queue"
)

// receiveBackoff is the pause after a failed queue receive.
const receiveBackoff = time.Second

// Flusher commits one batch and reports what happened.
type Flusher[T any] interface {
	Flush(ctx context.Context, batch []T) FlushReport
}

// Decoder parses one queue message.
type Decoder[T any] func([]byte) (T, error)

// Worker drains one queue into its own Batcher and flushes batches through
// a Flusher. One worker runs per engagement kind.
type Worker[T any] struct {
	kind    queue.Kind
	queue   queue.Queue
	decode  Decoder[T]
	flusher Flusher[T]
	batcher *Batcher[T]
	clock   clockwork.Clock
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

type workerConfig struct {
	batchSize int
	maxWait   time.Duration
	clock     clockwork.Clock
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
}

// WorkerOption configures a Worker.
type WorkerOption func(*workerConfig)

// WithBatchSize sets the flush size threshold. Default: 50.
func WithBatchSize(n int) WorkerOption {
	return func(c *workerConfig) { c.batchSize = n }
}

// WithMaxWait sets how long the first buffered action may wait. Default: 120s.
func WithMaxWait(d time.Duration) WorkerOption {
	return func(c *workerConfig) { c.maxWait = d }
}

// WithClock injects the clock that drives the batch timer.
func WithClock(clock clockwork.Clock) WorkerOption {
	return func(c *workerConfig) { c.clock = clock }
}

// WithLogger sets the worker logger.
func WithLogger(logger logrus.FieldLogger) WorkerOption {
	return func(c *workerConfig) { c.logger = logger }
}

// WithMetrics records flush outcomes in m.
func WithMetrics(m *metrics.Metrics) WorkerOption {
	return func(c *workerConfig) { c.metrics = m }
}

// NewWorker wires a queue, a decoder and a flusher into a worker.
func NewWorker[T any](kind queue.Kind, q queue.Queue, decode Decoder[T], flusher Flusher[T], opts ...WorkerOption) *Worker[T] {
	cfg := workerConfig{
		batchSize: DefaultBatchSize,
		maxWait:   DefaultBatchMaxWait,
		clock:     clockwork.NewRealClock(),
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &Worker[T]{
		kind:    kind,
		queue:   q,
		decode:  decode,
		flusher: flusher,
		clock:   cfg.clock,
		logger:  cfg.logger.WithField("component", "worker").WithField("kind", string(kind)),
		metrics: cfg.metrics,
	}
	w.batcher = NewBatcher(cfg.batchSize, cfg.maxWait, cfg.clock, w.flush)
	return w
}

// NewLikeWorker builds the likes worker.
func NewLikeWorker(q queue.Queue, f Flusher[action.LikeAction], opts ...WorkerOption) *Worker[action.LikeAction] {
	return NewWorker(queue.Likes, q, action.DecodeLike, f, opts...)
}

// NewFollowWorker builds the follows worker.
func NewFollowWorker(q queue.Queue, f Flusher[action.FollowAction], opts ...WorkerOption) *Worker[action.FollowAction] {
	return NewWorker(queue.Follows, q, action.DecodeFollow, f, opts...)
}

// NewCommentWorker builds the comments worker.
func NewCommentWorker(q queue.Queue, f Flusher[action.CommentAction], opts ...WorkerOption) *Worker[action.CommentAction] {
	return NewWorker(queue.Comments, q, action.DecodeComment, f, opts...)
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// drained, then flushes the remaining buffer once. It always returns nil
// on shutdown: flush and decode failures are logged, not returned.
func (w *Worker[T]) Run(ctx context.Context) error {
	w.logger.Info("worker starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer w.batcher.Close()
		return w.consume(gctx)
	})
	g.Go(func() error {
		return w.batcher.Run(gctx)
	})
	err := g.Wait()

	w.logger.Info("worker stopped")
	return err
}

func (w *Worker[T]) consume(ctx context.Context) error {
	for {
		msg, err := w.queue.Receive(ctx)
		if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			w.logger.WithError(err).Warn("queue receive failed")
			select {
			case <-ctx.Done():
				return nil
			case <-w.clock.After(receiveBackoff):
			}
			continue
		}

		item, err := w.decode(msg)
		if err != nil {
			w.metrics.DecodeError(string(w.kind))
			w.logger.WithError(err).WithField("message", string(msg)).Warn("dropping undecodable message")
			continue
		}

		if err := w.batcher.Add(ctx, item); err != nil {
			// Cancelled while the batcher was full; the action is lost.
			w.logger.WithError(err).Warn("action not buffered")
			return nil
		}
	}
}

// flush runs on the batcher goroutine. A panicking flusher is logged and
// the worker keeps going.
func (w *Worker[T]) flush(ctx context.Context, batch []T) {
	start := w.clock.Now()
	var report FlushReport

	func() {
		defer func() {
			if r := recover(); r != nil {
				report = FlushReport{Kind: string(w.kind), Received: len(batch), Dropped: len(batch)}
				report.addErr(fmt.Errorf("flush panic: %v", r))
				w.logger.WithField("stack", string(debug.Stack())).Error("flush panicked")
			}
		}()
		report = w.flusher.Flush(ctx, batch)
	}()

	w.record(report, w.clock.Since(start))
}

func (w *Worker[T]) record(report FlushReport, took time.Duration) {
	kind := string(w.kind)
	w.metrics.Flush(kind, report.Outcome(), took)
	w.metrics.FlushActions(kind, "received", report.Received)
	w.metrics.FlushActions(kind, "superseded", report.Superseded)
	w.metrics.FlushActions(kind, "created", report.Created)
	w.metrics.FlushActions(kind, "duplicate", report.Duplicates)
	w.metrics.FlushActions(kind, "deleted", report.Deleted)
	w.metrics.FlushActions(kind, "dropped", report.Dropped)

	entry := w.logger.WithFields(report.Fields()).WithField("took", took.String())
	if report.Err != nil {
		entry.WithError(report.Err).Error("flush failed")
		return
	}
	entry.Info("flush complete")
}

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultBatchSize is the buffer length that triggers an immediate flush.
	DefaultBatchSize = 50
	// DefaultBatchMaxWait is how long the first buffered item may wait.
	DefaultBatchMaxWait = 120 * time.Second
)

// ErrBatcherClosed is returned by Add after Close.
var ErrBatcherClosed = errors.New("batcher closed")

// FlushFunc receives a full or timed-out batch. It runs on the Batcher's
// goroutine; the slice is not reused after it returns.
type FlushFunc[T any] func(ctx context.Context, batch []T)

// Batcher accumulates items and hands them to a FlushFunc in batches.
//
// Thread-safety model:
//   - Add(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Batcher[T any] struct {
	in      chan T
	size    int
	maxWait time.Duration
	clock   clockwork.Clock
	flush   FlushFunc[T]

	closeOnce sync.Once
	closed    chan struct{}
}

// NewBatcher creates a Batcher. Non-positive size or maxWait fall back to
// the defaults; a nil clock uses the real clock.
func NewBatcher[T any](size int, maxWait time.Duration, clock clockwork.Clock, flush FlushFunc[T]) *Batcher[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if maxWait <= 0 {
		maxWait = DefaultBatchMaxWait
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Batcher[T]{
		in:      make(chan T, size),
		size:    size,
		maxWait: maxWait,
		clock:   clock,
		flush:   flush,
		closed:  make(chan struct{}),
	}
}

// Add hands an item to the batcher. It blocks while the channel is full
// (the batcher is flushing) and returns ctx.Err() if ctx ends first.
func (b *Batcher[T]) Add(ctx context.Context, item T) error {
	select {
	case <-b.closed:
		return ErrBatcherClosed
	default:
	}

	select {
	case b.in <- item:
		return nil
	case <-b.closed:
		return ErrBatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting items. Run flushes what it holds and returns.
// Close must not race with an in-flight Add from the same producer.
func (b *Batcher[T]) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

// Run is the batch loop. It returns nil after Close or when ctx is done;
// either way the remaining buffer is flushed once.
func (b *Batcher[T]) Run(ctx context.Context) error {
	var (
		buf    = make([]T, 0, b.size)
		timer  clockwork.Timer
		timerC <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		timerC = nil
	}

	flushBuf := func(ctx context.Context) {
		stopTimer()
		if len(buf) == 0 {
			return
		}
		batch := buf
		buf = make([]T, 0, b.size)
		b.flush(ctx, batch)
	}

	for {
		select {
		case item := <-b.in:
			buf = append(buf, item)
			if len(buf) == 1 {
				timer = b.clock.NewTimer(b.maxWait)
				timerC = timer.Chan()
			}
			if len(buf) >= b.size {
				flushBuf(ctx)
			}

		case <-timerC:
			timer = nil
			flushBuf(ctx)

		case <-b.closed:
			buf = b.drain(buf)
			flushBuf(context.WithoutCancel(ctx))
			return nil

		case <-ctx.Done():
			buf = b.drain(buf)
			flushBuf(context.WithoutCancel(ctx))
			return nil
		}
	}
}

// drain moves everything already sitting in the channel into buf.
func (b *Batcher[T]) drain(buf []T) []T {
	for {
		select {
		case item := <-b.in:
			buf = append(buf, item)
		default:
			return buf
		}
	}
}

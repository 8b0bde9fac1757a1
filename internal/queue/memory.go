package queue

import (
	"context"
	"sync"
)

// Memory is a thread-safe unbounded FIFO.
//
// Publishers never block. The consumer waits on a signal channel so that
// Receive stays context-aware.
type Memory struct {
	mu     sync.Mutex
	msgs   [][]byte
	closed bool
	signal chan struct{} // buffered, size 1
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		msgs:   make([][]byte, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

var _ Queue = (*Memory)(nil)

func (q *Memory) Publish(_ context.Context, msg []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.msgs = append(q.msgs, msg)

	// Non-blocking; the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryReceive dequeues without blocking. ok is false when the queue is empty.
func (q *Memory) TryReceive() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.msgs) == 0 {
		return nil, false
	}
	msg := q.msgs[0]
	q.msgs[0] = nil // release for GC
	if len(q.msgs) == 1 {
		q.msgs = q.msgs[:0]
	} else {
		q.msgs = q.msgs[1:]
	}
	return msg, true
}

func (q *Memory) Receive(ctx context.Context) ([]byte, error) {
	for {
		if msg, ok := q.TryReceive(); ok {
			return msg, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

func (q *Memory) Len(context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.msgs)), nil
}

// Close stops publishing and wakes any waiting consumer. Messages already
// queued can still be received.
func (q *Memory) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	return nil
}

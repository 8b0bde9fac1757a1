// Package queue provides the per-kind ordered ingress for write intents.
//
// A Queue carries opaque encoded messages; the action package owns the wire
// format. Delivery is at-most-once: a message handed to Receive is gone from
// the queue whether or not the consumer manages to process it.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by Receive once a closed queue is drained and by
// Publish on a closed queue.
var ErrClosed = errors.New("queue closed")

// Kind names one of the engagement queues.
type Kind string

const (
	Likes    Kind = "likes"
	Follows  Kind = "follows"
	Comments Kind = "comments"
)

// Kinds lists every queue kind in worker start order.
var Kinds = []Kind{Likes, Follows, Comments}

// Queue is a FIFO of encoded messages.
type Queue interface {
	// Publish appends a message to the back of the queue.
	Publish(ctx context.Context, msg []byte) error
	// Receive blocks until a message is available, ctx is done, or the
	// queue is closed and empty.
	Receive(ctx context.Context) ([]byte, error)
	// Len returns the number of queued messages.
	Len(ctx context.Context) (int64, error)
	Close() error
}

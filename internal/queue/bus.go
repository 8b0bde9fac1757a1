package queue

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/roach88/kudos/internal/action"
)

// Bus groups the three engagement queues and encodes actions onto them.
type Bus struct {
	queues map[Kind]Queue
}

// NewBus builds a Bus from one queue per kind.
func NewBus(likes, follows, comments Queue) *Bus {
	return &Bus{queues: map[Kind]Queue{
		Likes:    likes,
		Follows:  follows,
		Comments: comments,
	}}
}

// NewMemoryBus builds a Bus over fresh in-memory queues.
func NewMemoryBus() *Bus {
	return NewBus(NewMemory(), NewMemory(), NewMemory())
}

// Queue returns the queue for kind.
func (b *Bus) Queue(kind Kind) Queue {
	return b.queues[kind]
}

// PublishLike enqueues a like or unlike.
func (b *Bus) PublishLike(ctx context.Context, a action.LikeAction) error {
	msg, err := action.EncodeLike(a)
	if err != nil {
		return fmt.Errorf("publish like: %w", err)
	}
	return b.queues[Likes].Publish(ctx, msg)
}

// PublishFollow enqueues a follow or unfollow.
func (b *Bus) PublishFollow(ctx context.Context, a action.FollowAction) error {
	msg, err := action.EncodeFollow(a)
	if err != nil {
		return fmt.Errorf("publish follow: %w", err)
	}
	return b.queues[Follows].Publish(ctx, msg)
}

// PublishComment enqueues a comment.
func (b *Bus) PublishComment(ctx context.Context, a action.CommentAction) error {
	msg, err := action.EncodeComment(a)
	if err != nil {
		return fmt.Errorf("publish comment: %w", err)
	}
	return b.queues[Comments].Publish(ctx, msg)
}

// Close closes every queue and returns all close errors.
func (b *Bus) Close() error {
	var result *multierror.Error
	for _, kind := range Kinds {
		if err := b.queues[kind].Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close %s: %w", kind, err))
		}
	}
	return result.ErrorOrNil()
}

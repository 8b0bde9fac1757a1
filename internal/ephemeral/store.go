package ephemeral

import (
	"context"
	"time"
)

// Store is the ephemeral state contract shared by toggle handlers, batch
// workers, the reconciliation sweep and the feed composer.
type Store interface {
	// Count returns the counter at key. ok is false when no counter exists.
	Count(ctx context.Context, key string) (n int64, ok bool, err error)
	// Incr increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Decr decrements the counter at key, never below zero.
	Decr(ctx context.Context, key string) (int64, error)

	IsMember(ctx context.Context, key, member string) (bool, error)
	AddMembers(ctx context.Context, key string, members ...string) error
	RemoveMembers(ctx context.Context, key string, members ...string) error
	// Members returns the members of the set at key in ascending order.
	Members(ctx context.Context, key string) ([]string, error)
	// AddMembersTTL adds members and resets the set's expiry to ttl.
	// An expired set reads as empty.
	AddMembersTTL(ctx context.Context, key string, ttl time.Duration, members ...string) error

	Delete(ctx context.Context, keys ...string) error
	// Keys returns every live key starting with prefix, in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Toggle runs the like/follow state transition atomically.
	Toggle(ctx context.Context, req ToggleRequest) (ToggleResult, error)
}

// ToggleRequest describes one atomic toggle of Member's relation to a target.
//
// The transition is:
//
//  1. Member in PendingOn: remove it. Result off.
//  2. Member in PendingOff: remove it. Result on.
//  3. Durable is set: add Member to PendingOff. Result off.
//  4. Otherwise: add Member to PendingOn. Result on.
//
// When Counter is set it is initialised to Baseline if absent, then
// incremented on an "on" result and decremented (floored at zero) on "off".
// When Mirror is set, MirrorMember is added to it on "on" and removed on "off".
type ToggleRequest struct {
	Member     string
	PendingOn  string
	PendingOff string
	Durable    bool

	Counter  string
	Baseline int64

	Mirror       string
	MirrorMember string
}

// ToggleResult is the outcome of a Toggle.
type ToggleResult struct {
	// On is true when the toggle resolved to like/follow.
	On bool
	// Count is the counter value after the toggle, zero without a counter.
	Count int64
}

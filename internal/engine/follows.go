package engine

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/notify"
	"github.com/roach88/kudos/internal/store"
)

// FollowStore is the durable side of the follow flush.
type FollowStore interface {
	CreateFollows(ctx context.Context, follows []action.FollowAction) (store.FollowInsertResult, error)
	DeleteFollows(ctx context.Context, keys []action.FollowKey) (int64, error)
}

// FollowFlusher commits a batch of follow/unfollow actions.
type FollowFlusher struct {
	store    FollowStore
	state    ephemeral.Store
	notifier Notifier
	logger   logrus.FieldLogger
}

// NewFollowFlusher returns a flusher writing follow edges to s.
func NewFollowFlusher(s FollowStore, state ephemeral.Store, n Notifier, logger logrus.FieldLogger) *FollowFlusher {
	return &FollowFlusher{
		store:    s,
		state:    state,
		notifier: n,
		logger:   logger.WithField("component", "follow_flusher"),
	}
}

func isFollow(a action.FollowAction) bool { return a.Kind == action.Follow }

// Flush applies the last action per follow edge and notifies the
// followed user of every edge actually inserted.
func (f *FollowFlusher) Flush(ctx context.Context, batch []action.FollowAction) FlushReport {
	report := FlushReport{Kind: "follows", Received: len(batch)}

	survivors, touched, superseded := coalesce(batch)
	report.Superseded = superseded
	creates, deletes := partition(survivors, isFollow)

	var inserted []store.Follow
	if len(creates) > 0 {
		res, err := f.store.CreateFollows(ctx, creates)
		if err != nil {
			report.Dropped += len(creates)
			report.addErr(fmt.Errorf("create follows: %w", err))
		} else {
			inserted = res.Inserted
			report.Created = len(res.Inserted)
			report.Duplicates = len(res.Duplicates)
		}
	}

	if len(deletes) > 0 {
		keys := make([]action.FollowKey, len(deletes))
		for i, d := range deletes {
			keys[i] = d.Key()
		}
		n, err := f.store.DeleteFollows(ctx, keys)
		if err != nil {
			report.Dropped += len(deletes)
			report.addErr(fmt.Errorf("delete follows: %w", err))
		} else {
			report.Deleted = int(n)
		}
	}

	if err := f.clearPending(ctx, touched); err != nil {
		report.addErr(err)
	}

	if len(inserted) > 0 {
		notes := make([]notify.Notification, len(inserted))
		for i, edge := range inserted {
			notes[i] = notify.Follow(edge)
		}
		sent, err := f.notifier.Dispatch(ctx, notes...)
		report.Notified = sent
		if err != nil {
			f.logger.WithError(err).Warn("follow notifications failed")
		}
	}
	return report
}

// clearPending removes the edge from the follower's pending sets and the
// followee's mirror set.
func (f *FollowFlusher) clearPending(ctx context.Context, keys []action.FollowKey) error {
	var result *multierror.Error
	for _, k := range keys {
		if err := f.state.RemoveMembers(ctx, ephemeral.FollowingKey(k.FollowerID), k.FollowingID); err != nil {
			result = multierror.Append(result, fmt.Errorf("clear pending follow %s: %w", k.FollowerID, err))
		}
		if err := f.state.RemoveMembers(ctx, ephemeral.UnfollowingKey(k.FollowerID), k.FollowingID); err != nil {
			result = multierror.Append(result, fmt.Errorf("clear pending unfollow %s: %w", k.FollowerID, err))
		}
		if err := f.state.RemoveMembers(ctx, ephemeral.FollowersKey(k.FollowingID), k.FollowerID); err != nil {
			result = multierror.Append(result, fmt.Errorf("clear follower mirror %s: %w", k.FollowingID, err))
		}
	}
	return result.ErrorOrNil()
}

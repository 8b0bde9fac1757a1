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

// LikeStore is the durable side of the like flush.
type LikeStore interface {
	CreateLikes(ctx context.Context, likes []action.LikeAction) (store.LikeInsertResult, error)
	DeleteLikes(ctx context.Context, keys []action.LikeKey) (int64, error)
}

// Notifier delivers synthesized notifications.
type Notifier interface {
	Dispatch(ctx context.Context, notes ...notify.Notification) (int, error)
}

// LikeFlusher commits a batch of like/unlike actions.
type LikeFlusher struct {
	store    LikeStore
	state    ephemeral.Store
	notifier Notifier
	logger   logrus.FieldLogger
}

// NewLikeFlusher returns a flusher writing likes to s and clearing their
// pending membership in state.
func NewLikeFlusher(s LikeStore, state ephemeral.Store, n Notifier, logger logrus.FieldLogger) *LikeFlusher {
	return &LikeFlusher{
		store:    s,
		state:    state,
		notifier: n,
		logger:   logger.WithField("component", "like_flusher"),
	}
}

func isLike(a action.LikeAction) bool { return a.Kind == action.Like }

// Flush applies the last action per (actor, target) and notifies owners
// of likes actually inserted. Errors are carried in the report.
func (f *LikeFlusher) Flush(ctx context.Context, batch []action.LikeAction) FlushReport {
	report := FlushReport{Kind: "likes", Received: len(batch)}

	survivors, touched, superseded := coalesce(batch)
	report.Superseded = superseded
	creates, deletes := partition(survivors, isLike)

	var inserted []action.LikeAction
	if len(creates) > 0 {
		res, err := f.store.CreateLikes(ctx, creates)
		if err != nil {
			report.Dropped += len(creates)
			report.addErr(fmt.Errorf("create likes: %w", err))
		} else {
			inserted = res.Inserted
			report.Created = len(res.Inserted)
			report.Duplicates = len(res.Duplicates)
			for _, d := range res.Duplicates {
				f.logger.WithFields(logrus.Fields{
					"actor":  d.ActorID,
					"target": d.TargetID,
				}).Debug("like already stored")
			}
		}
	}

	if len(deletes) > 0 {
		keys := make([]action.LikeKey, len(deletes))
		for i, d := range deletes {
			keys[i] = d.Key()
		}
		n, err := f.store.DeleteLikes(ctx, keys)
		if err != nil {
			report.Dropped += len(deletes)
			report.addErr(fmt.Errorf("delete likes: %w", err))
		} else {
			report.Deleted = int(n)
		}
	}

	// Pending state goes regardless of the write outcome.
	if err := f.clearPending(ctx, touched); err != nil {
		report.addErr(err)
	}

	if len(inserted) > 0 {
		notes := make([]notify.Notification, len(inserted))
		for i, l := range inserted {
			notes[i] = notify.Like(l)
		}
		sent, err := f.notifier.Dispatch(ctx, notes...)
		report.Notified = sent
		if err != nil {
			f.logger.WithError(err).Warn("like notifications failed")
		}
	}
	return report
}

func (f *LikeFlusher) clearPending(ctx context.Context, keys []action.LikeKey) error {
	byTarget := make(map[string][]string)
	var targets []string
	for _, k := range keys {
		if _, ok := byTarget[k.TargetID]; !ok {
			targets = append(targets, k.TargetID)
		}
		byTarget[k.TargetID] = append(byTarget[k.TargetID], k.ActorID)
	}

	var result *multierror.Error
	for _, target := range targets {
		actors := byTarget[target]
		if err := f.state.RemoveMembers(ctx, ephemeral.LikedKey(target), actors...); err != nil {
			result = multierror.Append(result, fmt.Errorf("clear pending likes %s: %w", target, err))
		}
		if err := f.state.RemoveMembers(ctx, ephemeral.UnlikedKey(target), actors...); err != nil {
			result = multierror.Append(result, fmt.Errorf("clear pending unlikes %s: %w", target, err))
		}
	}
	return result.ErrorOrNil()
}

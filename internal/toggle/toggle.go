// Package toggle turns user like/follow/comment requests into ephemeral
// state changes and queued actions.
//
// Every toggle is decided by one atomic ephemeral.Store.Toggle call, so two
// concurrent toggles by the same actor on the same target always resolve to
// opposite directions. Durable state is consulted only as an input to that
// decision.
package toggle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/store"
)

// MaxCommentRunes bounds comment length.
const MaxCommentRunes = 2200

var (
	ErrSelfFollow     = errors.New("cannot follow yourself")
	ErrInvalidComment = errors.New("invalid comment")
	ErrMissingActor   = errors.New("actor id required")
	ErrWrongTarget    = errors.New("target type mismatch")
)

// Store is the durable state a toggle decision reads.
type Store interface {
	LookupTarget(ctx context.Context, id string) (store.TargetInfo, error)
	HasLike(ctx context.Context, key action.LikeKey) (bool, error)
	LikeCount(ctx context.Context, targetID string) (int64, error)
	HasFollow(ctx context.Context, key action.FollowKey) (bool, error)
}

// Publisher enqueues actions for the batch workers.
type Publisher interface {
	PublishLike(ctx context.Context, a action.LikeAction) error
	PublishFollow(ctx context.Context, a action.FollowAction) error
	PublishComment(ctx context.Context, a action.CommentAction) error
}

// Handler is the synchronous entry point for user engagement requests.
type Handler struct {
	store   Store
	state   ephemeral.Store
	bus     Publisher
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewHandler wires a Handler. m may be nil.
func NewHandler(s Store, state ephemeral.Store, bus Publisher, logger logrus.FieldLogger, m *metrics.Metrics) *Handler {
	return &Handler{
		store:   s,
		state:   state,
		bus:     bus,
		logger:  logger.WithField("component", "toggle"),
		metrics: m,
	}
}

// LikeResult is what the caller shows the user right away.
type LikeResult struct {
	Action action.LikeAction
	// Count is the live like counter after the toggle.
	Count int64
}

// ToggleLike flips actorID's like on target. The target's owner, and its
// type when target.Type is empty, come from the durable store.
func (h *Handler) ToggleLike(ctx context.Context, actorID string, target action.Target) (LikeResult, error) {
	if actorID == "" {
		return LikeResult{}, ErrMissingActor
	}
	targetID := target.ID
	info, err := h.store.LookupTarget(ctx, targetID)
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}
	if target.Type != "" && target.Type != info.Target.Type {
		return LikeResult{}, fmt.Errorf("toggle like: %w: %s is a %s", ErrWrongTarget, targetID, info.Target.Type)
	}

	key := action.LikeKey{ActorID: actorID, TargetID: targetID}
	durable, err := h.store.HasLike(ctx, key)
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}
	baseline, err := h.store.LikeCount(ctx, targetID)
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}

	res, err := h.state.Toggle(ctx, ephemeral.ToggleRequest{
		Member:     actorID,
		PendingOn:  ephemeral.LikedKey(targetID),
		PendingOff: ephemeral.UnlikedKey(targetID),
		Durable:    durable,
		Counter:    ephemeral.LikeCountKey(targetID),
		Baseline:   baseline,
	})
	if err != nil {
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}

	a := action.LikeAction{
		ActorID:     actorID,
		TargetID:    targetID,
		TargetType:  info.Target.Type,
		Kind:        action.Unlike,
		RecipientID: info.OwnerID,
	}
	if res.On {
		a.Kind = action.Like
	}
	h.metrics.Toggle("like", direction(res.On))

	if err := h.bus.PublishLike(ctx, a); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"actor":  actorID,
			"target": targetID,
		}).Error("like not queued")
		return LikeResult{}, fmt.Errorf("toggle like: %w", err)
	}
	return LikeResult{Action: a, Count: res.Count}, nil
}

// ToggleFollow flips followerID's follow of followingID.
func (h *Handler) ToggleFollow(ctx context.Context, followerID, followingID string) (action.FollowAction, error) {
	if followerID == "" || followingID == "" {
		return action.FollowAction{}, ErrMissingActor
	}
	if followerID == followingID {
		return action.FollowAction{}, ErrSelfFollow
	}

	key := action.FollowKey{FollowerID: followerID, FollowingID: followingID}
	durable, err := h.store.HasFollow(ctx, key)
	if err != nil {
		return action.FollowAction{}, fmt.Errorf("toggle follow: %w", err)
	}

	res, err := h.state.Toggle(ctx, ephemeral.ToggleRequest{
		Member:       followingID,
		PendingOn:    ephemeral.FollowingKey(followerID),
		PendingOff:   ephemeral.UnfollowingKey(followerID),
		Durable:      durable,
		Mirror:       ephemeral.FollowersKey(followingID),
		MirrorMember: followerID,
	})
	if err != nil {
		return action.FollowAction{}, fmt.Errorf("toggle follow: %w", err)
	}

	a := action.FollowAction{FollowerID: followerID, FollowingID: followingID, Kind: action.Unfollow}
	if res.On {
		a.Kind = action.Follow
	}
	h.metrics.Toggle("follow", direction(res.On))

	if err := h.bus.PublishFollow(ctx, a); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"follower":  followerID,
			"following": followingID,
		}).Error("follow not queued")
		return action.FollowAction{}, fmt.Errorf("toggle follow: %w", err)
	}
	return a, nil
}

// SubmitComment validates a comment, resolves who gets notified and queues
// it. The returned action carries the resolved RecipientID.
func (h *Handler) SubmitComment(ctx context.Context, a action.CommentAction) (action.CommentAction, error) {
	if a.AuthorID == "" {
		return action.CommentAction{}, ErrMissingActor
	}
	target, err := a.Target()
	if err != nil {
		return action.CommentAction{}, fmt.Errorf("%w: %v", ErrInvalidComment, err)
	}
	if strings.TrimSpace(a.Text) == "" {
		return action.CommentAction{}, fmt.Errorf("%w: text is empty", ErrInvalidComment)
	}
	if n := utf8.RuneCountInString(a.Text); n > MaxCommentRunes {
		return action.CommentAction{}, fmt.Errorf("%w: text has %d characters, max %d", ErrInvalidComment, n, MaxCommentRunes)
	}

	info, err := h.store.LookupTarget(ctx, target.ID)
	if err != nil {
		return action.CommentAction{}, fmt.Errorf("submit comment: %w", err)
	}
	if info.Target.Type != target.Type {
		return action.CommentAction{}, fmt.Errorf("submit comment: %w: %s is a %s", ErrWrongTarget, target.ID, info.Target.Type)
	}
	a.RecipientID = info.OwnerID

	if err := h.bus.PublishComment(ctx, a); err != nil {
		h.logger.WithError(err).WithField("author", a.AuthorID).Error("comment not queued")
		return action.CommentAction{}, fmt.Errorf("submit comment: %w", err)
	}
	h.metrics.Toggle("comment", "submitted")
	return a, nil
}

func direction(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

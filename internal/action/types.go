package action

import "fmt"

// TargetType identifies the kind of content a like or comment points at.
type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetClip    TargetType = "clip"
	TargetComment TargetType = "comment"
)

// Valid reports whether t is one of the known target types.
func (t TargetType) Valid() bool {
	switch t {
	case TargetPost, TargetClip, TargetComment:
		return true
	}
	return false
}

// Target addresses a likeable or commentable piece of content.
type Target struct {
	ID   string     `json:"id"`
	Type TargetType `json:"type"`
}

// LikeKind is the direction of a like toggle.
type LikeKind string

const (
	Like   LikeKind = "like"
	Unlike LikeKind = "unlike"
)

// FollowKind is the direction of a follow toggle.
type FollowKind string

const (
	Follow   FollowKind = "Follow"
	Unfollow FollowKind = "Unfollow"
)

// LikeAction is a single like/unlike intent. RecipientID is the owner of
// the target and receives the notification for net-new likes.
type LikeAction struct {
	ActorID     string     `json:"actor_id"`
	TargetID    string     `json:"target_id"`
	TargetType  TargetType `json:"target_type"`
	Kind        LikeKind   `json:"kind"`
	RecipientID string     `json:"recipient_id"`
}

// Key returns the natural key used for coalescing.
func (a LikeAction) Key() LikeKey {
	return LikeKey{ActorID: a.ActorID, TargetID: a.TargetID}
}

// FollowAction is a single follow/unfollow intent.
type FollowAction struct {
	FollowerID  string     `json:"follower_id"`
	FollowingID string     `json:"following_id"`
	Kind        FollowKind `json:"kind"`
}

// Key returns the natural key used for coalescing.
func (a FollowAction) Key() FollowKey {
	return FollowKey{FollowerID: a.FollowerID, FollowingID: a.FollowingID}
}

// CommentAction is a new comment on a post, a clip, or another comment.
// Exactly one of PostID, ClipID and ParentCommentID is set.
type CommentAction struct {
	AuthorID        string `json:"author_id"`
	PostID          string `json:"post_id,omitempty"`
	ClipID          string `json:"clip_id,omitempty"`
	ParentCommentID string `json:"parent_comment_id,omitempty"`
	Text            string `json:"text"`
	RecipientID     string `json:"recipient_id"`
}

// Target returns the content the comment is attached to.
func (a CommentAction) Target() (Target, error) {
	var targets []Target
	if a.PostID != "" {
		targets = append(targets, Target{ID: a.PostID, Type: TargetPost})
	}
	if a.ClipID != "" {
		targets = append(targets, Target{ID: a.ClipID, Type: TargetClip})
	}
	if a.ParentCommentID != "" {
		targets = append(targets, Target{ID: a.ParentCommentID, Type: TargetComment})
	}
	if len(targets) != 1 {
		return Target{}, fmt.Errorf("%w: comment needs exactly one of postId, clipId, parentCommentId (got %d)", ErrInvalidMessage, len(targets))
	}
	return targets[0], nil
}

// LikeKey identifies a (actor, target) pair. At most one durable like row
// exists per key.
type LikeKey struct {
	ActorID  string
	TargetID string
}

// FollowKey identifies a (follower, following) edge.
type FollowKey struct {
	FollowerID  string
	FollowingID string
}

package store

import (
	"time"

	"github.com/roach88/kudos/internal/action"
)

// User is an account row. NotificationToken is the push token handed to the
// notification sender; empty means the user cannot be notified.
type User struct {
	ID                string
	DisplayName       string
	NotificationToken string
	IsPrivate         bool
	CreatedAt         time.Time
}

// Post is a feed item row.
type Post struct {
	ID        string
	AuthorID  string
	Caption   string
	IsPublic  bool
	CreatedAt time.Time
}

// Clip is a short video row. Clips can be liked and commented on but are not
// part of the feed.
type Clip struct {
	ID        string
	AuthorID  string
	Caption   string
	CreatedAt time.Time
}

// Comment is a persisted comment row.
type Comment struct {
	ID              string
	AuthorID        string
	PostID          string
	ClipID          string
	ParentCommentID string
	Body            string
	CreatedAt       time.Time
}

// Target returns the content the comment is attached to.
func (c Comment) Target() action.Target {
	switch {
	case c.PostID != "":
		return action.Target{ID: c.PostID, Type: action.TargetPost}
	case c.ClipID != "":
		return action.Target{ID: c.ClipID, Type: action.TargetClip}
	default:
		return action.Target{ID: c.ParentCommentID, Type: action.TargetComment}
	}
}

// FollowStatus is the state of a durable follow edge.
type FollowStatus string

const (
	FollowPending  FollowStatus = "pending"
	FollowAccepted FollowStatus = "accepted"
)

// Follow is a persisted follow edge.
type Follow struct {
	FollowerID  string
	FollowingID string
	Status      FollowStatus
	CreatedAt   time.Time
}

// TargetInfo describes a likeable row and who owns it.
type TargetInfo struct {
	Target  action.Target
	OwnerID string
}

// PostSummary is a post with its durable engagement counts.
type PostSummary struct {
	Post
	LikeCount    int64
	CommentCount int64
}

// LikeInsertResult reports the outcome of a bulk like insert.
// Inserted holds the net-new rows; Duplicates holds actions that hit the
// UNIQUE(actor_id, target_id) constraint.
type LikeInsertResult struct {
	Inserted   []action.LikeAction
	Duplicates []action.LikeAction
}

// FollowInsertResult reports the outcome of a bulk follow insert.
type FollowInsertResult struct {
	Inserted   []Follow
	Duplicates []action.FollowAction
}

// FollowingQuery selects recent posts by followed authors.
type FollowingQuery struct {
	AuthorIDs []string
	Since     time.Time
	Exclude   []string
	Offset    int
	Limit     int
}

// TrendingQuery selects public posts ranked by engagement.
type TrendingQuery struct {
	Exclude []string
	Limit   int
}

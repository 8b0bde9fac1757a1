package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/kudos/internal/action"
)

// User returns the user with the given id, or ErrNotFound.
func (s *Store) User(ctx context.Context, id string) (User, error) {
	var (
		u         User
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, notification_token, is_private, created_at
		FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.DisplayName, &u.NotificationToken, &u.IsPrivate, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// LookupTarget finds a post, clip or comment by id and returns its type and
// owner. Ids are assumed unique across the three tables.
func (s *Store) LookupTarget(ctx context.Context, id string) (TargetInfo, error) {
	var (
		kind  string
		owner string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT 'post', author_id FROM posts WHERE id = ?1
		UNION ALL
		SELECT 'clip', author_id FROM clips WHERE id = ?1
		UNION ALL
		SELECT 'comment', author_id FROM comments WHERE id = ?1
		LIMIT 1
	`, id).Scan(&kind, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return TargetInfo{}, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return TargetInfo{}, fmt.Errorf("lookup target: %w", err)
	}
	return TargetInfo{
		Target:  action.Target{ID: id, Type: action.TargetType(kind)},
		OwnerID: owner,
	}, nil
}

// HasLike reports whether a durable like exists for the key.
func (s *Store) HasLike(ctx context.Context, key action.LikeKey) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM likes WHERE actor_id = ? AND target_id = ?
	`, key.ActorID, key.TargetID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check like: %w", err)
	}
	return count > 0, nil
}

// LikeCount returns the number of durable likes on a target.
func (s *Store) LikeCount(ctx context.Context, targetID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM likes WHERE target_id = ?
	`, targetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count likes: %w", err)
	}
	return count, nil
}

// LikedBy returns the subset of actorIDs that have a durable like on the
// target. Used by the reconciliation sweep to diff ephemeral membership.
func (s *Store) LikedBy(ctx context.Context, targetID string, actorIDs []string) (map[string]bool, error) {
	liked := make(map[string]bool, len(actorIDs))
	if len(actorIDs) == 0 {
		return liked, nil
	}

	ids, err := marshalIDs(actorIDs)
	if err != nil {
		return nil, fmt.Errorf("liked by: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id FROM likes
		WHERE target_id = ? AND actor_id IN (SELECT value FROM json_each(?))
		ORDER BY actor_id ASC
	`, targetID, ids)
	if err != nil {
		return nil, fmt.Errorf("liked by: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return nil, fmt.Errorf("liked by: scan: %w", err)
		}
		liked[actor] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("liked by: iterate: %w", err)
	}
	return liked, nil
}

// Likers returns every actor with a durable like on the target, ordered by id.
func (s *Store) Likers(ctx context.Context, targetID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id FROM likes WHERE target_id = ? ORDER BY actor_id ASC
	`, targetID)
	if err != nil {
		return nil, fmt.Errorf("likers: %w", err)
	}
	defer rows.Close()

	actors := []string{}
	for rows.Next() {
		var actor string
		if err := rows.Scan(&actor); err != nil {
			return nil, fmt.Errorf("likers: scan: %w", err)
		}
		actors = append(actors, actor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("likers: iterate: %w", err)
	}
	return actors, nil
}

// FollowEdge returns the durable follow edge for the key, or ErrNotFound.
func (s *Store) FollowEdge(ctx context.Context, key action.FollowKey) (Follow, error) {
	var (
		f         Follow
		status    string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT follower_id, following_id, status, created_at
		FROM follows WHERE follower_id = ? AND following_id = ?
	`, key.FollowerID, key.FollowingID).Scan(&f.FollowerID, &f.FollowingID, &status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Follow{}, fmt.Errorf("follow %s->%s: %w", key.FollowerID, key.FollowingID, ErrNotFound)
	}
	if err != nil {
		return Follow{}, fmt.Errorf("read follow: %w", err)
	}
	f.Status = FollowStatus(status)
	f.CreatedAt = fromMillis(createdAt)
	return f, nil
}

// HasFollow reports whether any durable edge (pending or accepted) exists.
func (s *Store) HasFollow(ctx context.Context, key action.FollowKey) (bool, error) {
	_, err := s.FollowEdge(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AcceptedFollowing returns the ids the user follows with an accepted edge.
func (s *Store) AcceptedFollowing(ctx context.Context, followerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT following_id FROM follows
		WHERE follower_id = ? AND status = 'accepted'
		ORDER BY following_id ASC
	`, followerID)
	if err != nil {
		return nil, fmt.Errorf("accepted following: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("accepted following: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("accepted following: iterate: %w", err)
	}
	return ids, nil
}

// CommentsOn returns the comments attached directly to a target, oldest first.
func (s *Store) CommentsOn(ctx context.Context, target action.Target) ([]Comment, error) {
	var column string
	switch target.Type {
	case action.TargetPost:
		column = "post_id"
	case action.TargetClip:
		column = "clip_id"
	case action.TargetComment:
		column = "parent_comment_id"
	default:
		return nil, fmt.Errorf("comments on: unknown target type %q", target.Type)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, author_id, COALESCE(post_id, ''), COALESCE(clip_id, ''), COALESCE(parent_comment_id, ''), body, created_at
		FROM comments WHERE `+column+` = ?
		ORDER BY created_at ASC, id ASC
	`, target.ID)
	if err != nil {
		return nil, fmt.Errorf("comments on: %w", err)
	}
	defer rows.Close()

	comments := []Comment{}
	for rows.Next() {
		var (
			c         Comment
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.AuthorID, &c.PostID, &c.ClipID, &c.ParentCommentID, &c.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("comments on: scan: %w", err)
		}
		c.CreatedAt = fromMillis(createdAt)
		comments = append(comments, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("comments on: iterate: %w", err)
	}
	return comments, nil
}

// FollowingPosts returns recent posts by the given authors, newest first,
// skipping excluded ids. Used for the following pool of the feed.
func (s *Store) FollowingPosts(ctx context.Context, q FollowingQuery) ([]PostSummary, error) {
	if len(q.AuthorIDs) == 0 || q.Limit <= 0 {
		return []PostSummary{}, nil
	}

	authors, err := marshalIDs(q.AuthorIDs)
	if err != nil {
		return nil, fmt.Errorf("following posts: %w", err)
	}
	exclude, err := marshalIDs(q.Exclude)
	if err != nil {
		return nil, fmt.Errorf("following posts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, postSummarySelect+`
		WHERE p.author_id IN (SELECT value FROM json_each(?))
		  AND p.created_at >= ?
		  AND p.id NOT IN (SELECT value FROM json_each(?))
		ORDER BY p.created_at DESC, p.id ASC
		LIMIT ? OFFSET ?
	`, authors, q.Since.UnixMilli(), exclude, q.Limit, q.Offset)
	if err != nil {
		return nil, fmt.Errorf("following posts: %w", err)
	}
	defer rows.Close()

	return scanPostSummaries(rows)
}

// TrendingPosts returns public posts outside the exclusion set ordered by
// (like count desc, comment count desc, created_at desc).
func (s *Store) TrendingPosts(ctx context.Context, q TrendingQuery) ([]PostSummary, error) {
	if q.Limit <= 0 {
		return []PostSummary{}, nil
	}

	exclude, err := marshalIDs(q.Exclude)
	if err != nil {
		return nil, fmt.Errorf("trending posts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, postSummarySelect+`
		WHERE p.is_public = 1
		  AND p.id NOT IN (SELECT value FROM json_each(?))
		ORDER BY like_count DESC, comment_count DESC, p.created_at DESC, p.id ASC
		LIMIT ?
	`, exclude, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("trending posts: %w", err)
	}
	defer rows.Close()

	return scanPostSummaries(rows)
}

const postSummarySelect = `
	SELECT p.id, p.author_id, p.caption, p.is_public, p.created_at,
		(SELECT COUNT(*) FROM likes l WHERE l.target_id = p.id) AS like_count,
		(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comment_count
	FROM posts p`

func scanPostSummaries(rows *sql.Rows) ([]PostSummary, error) {
	posts := []PostSummary{}
	for rows.Next() {
		var (
			ps        PostSummary
			createdAt int64
		)
		if err := rows.Scan(&ps.ID, &ps.AuthorID, &ps.Caption, &ps.IsPublic, &createdAt, &ps.LikeCount, &ps.CommentCount); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		ps.CreatedAt = fromMillis(createdAt)
		posts = append(posts, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return posts, nil
}

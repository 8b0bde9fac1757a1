package store

import (
	"context"
	"fmt"

	"github.com/roach88/kudos/internal/action"
)

// UpsertUser inserts a user or updates its mutable fields.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	createdAt := u.CreatedAt.UnixMilli()
	if u.CreatedAt.IsZero() {
		createdAt = s.nowMillis()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, notification_token, is_private, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			notification_token = excluded.notification_token,
			is_private = excluded.is_private
	`, u.ID, u.DisplayName, u.NotificationToken, u.IsPrivate, createdAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// CreatePost inserts a post. Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) CreatePost(ctx context.Context, p Post) error {
	createdAt := p.CreatedAt.UnixMilli()
	if p.CreatedAt.IsZero() {
		createdAt = s.nowMillis()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, caption, is_public, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, p.ID, p.AuthorID, p.Caption, p.IsPublic, createdAt)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// CreateClip inserts a clip. Uses ON CONFLICT(id) DO NOTHING for idempotency.
func (s *Store) CreateClip(ctx context.Context, c Clip) error {
	createdAt := c.CreatedAt.UnixMilli()
	if c.CreatedAt.IsZero() {
		createdAt = s.nowMillis()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clips (id, author_id, caption, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.AuthorID, c.Caption, createdAt)
	if err != nil {
		return fmt.Errorf("create clip: %w", err)
	}
	return nil
}

// CreateLikes bulk-inserts likes in a single transaction.
//
// Each row uses ON CONFLICT(actor_id, target_id) DO NOTHING, so a duplicate
// does not abort the batch: it is reported in Duplicates and the remaining
// rows are still written. Any other error rolls back the whole insert.
func (s *Store) CreateLikes(ctx context.Context, likes []action.LikeAction) (LikeInsertResult, error) {
	var res LikeInsertResult
	if len(likes) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("create likes: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO likes (actor_id, target_id, target_type, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(actor_id, target_id) DO NOTHING
	`)
	if err != nil {
		return res, fmt.Errorf("create likes: prepare: %w", err)
	}
	defer stmt.Close()

	now := s.nowMillis()
	for _, l := range likes {
		result, err := stmt.ExecContext(ctx, l.ActorID, l.TargetID, string(l.TargetType), now)
		if err != nil {
			return LikeInsertResult{}, fmt.Errorf("create likes: insert (%s,%s): %w", l.ActorID, l.TargetID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return LikeInsertResult{}, fmt.Errorf("create likes: rows affected: %w", err)
		}
		if n > 0 {
			res.Inserted = append(res.Inserted, l)
		} else {
			res.Duplicates = append(res.Duplicates, l)
		}
	}

	if err := tx.Commit(); err != nil {
		return LikeInsertResult{}, fmt.Errorf("create likes: commit: %w", err)
	}
	return res, nil
}

// DeleteLikes bulk-deletes likes in a single transaction and returns the
// number of rows removed. Missing rows are not an error.
func (s *Store) DeleteLikes(ctx context.Context, keys []action.LikeKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete likes: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM likes WHERE actor_id = ? AND target_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("delete likes: prepare: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, k := range keys {
		result, err := stmt.ExecContext(ctx, k.ActorID, k.TargetID)
		if err != nil {
			return 0, fmt.Errorf("delete likes: (%s,%s): %w", k.ActorID, k.TargetID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete likes: rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete likes: commit: %w", err)
	}
	return deleted, nil
}

// CreateFollows bulk-inserts follow edges in a single transaction.
//
// Edges to private accounts are stored as pending follow requests; all others
// are accepted immediately. Duplicates are reported, not fatal.
func (s *Store) CreateFollows(ctx context.Context, follows []action.FollowAction) (FollowInsertResult, error) {
	var res FollowInsertResult
	if len(follows) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("create follows: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO follows (follower_id, following_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(follower_id, following_id) DO NOTHING
	`)
	if err != nil {
		return res, fmt.Errorf("create follows: prepare: %w", err)
	}
	defer stmt.Close()

	now := s.nowMillis()
	for _, f := range follows {
		status, err := followStatusFor(ctx, tx, f.FollowingID)
		if err != nil {
			return FollowInsertResult{}, fmt.Errorf("create follows: %w", err)
		}

		result, err := stmt.ExecContext(ctx, f.FollowerID, f.FollowingID, string(status), now)
		if err != nil {
			return FollowInsertResult{}, fmt.Errorf("create follows: insert (%s,%s): %w", f.FollowerID, f.FollowingID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return FollowInsertResult{}, fmt.Errorf("create follows: rows affected: %w", err)
		}
		if n == 0 {
			res.Duplicates = append(res.Duplicates, f)
			continue
		}
		res.Inserted = append(res.Inserted, Follow{
			FollowerID:  f.FollowerID,
			FollowingID: f.FollowingID,
			Status:      status,
			CreatedAt:   fromMillis(now),
		})
	}

	if err := tx.Commit(); err != nil {
		return FollowInsertResult{}, fmt.Errorf("create follows: commit: %w", err)
	}
	return res, nil
}

// DeleteFollows bulk-deletes follow edges (accepted or pending) in a single
// transaction and returns the number of rows removed.
func (s *Store) DeleteFollows(ctx context.Context, keys []action.FollowKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete follows: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM follows WHERE follower_id = ? AND following_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("delete follows: prepare: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, k := range keys {
		result, err := stmt.ExecContext(ctx, k.FollowerID, k.FollowingID)
		if err != nil {
			return 0, fmt.Errorf("delete follows: (%s,%s): %w", k.FollowerID, k.FollowingID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("delete follows: rows affected: %w", err)
		}
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete follows: commit: %w", err)
	}
	return deleted, nil
}

// AcceptFollow turns a pending follow request into an accepted edge.
// Returns false if no pending request exists.
func (s *Store) AcceptFollow(ctx context.Context, key action.FollowKey) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE follows SET status = 'accepted'
		WHERE follower_id = ? AND following_id = ? AND status = 'pending'
	`, key.FollowerID, key.FollowingID)
	if err != nil {
		return false, fmt.Errorf("accept follow: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("accept follow: rows affected: %w", err)
	}
	return n > 0, nil
}

// CreateComments bulk-inserts comments in a single transaction.
// Comment ids are assigned by the caller; a repeated id is skipped.
func (s *Store) CreateComments(ctx context.Context, comments []Comment) ([]Comment, error) {
	if len(comments) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create comments: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO comments (id, author_id, post_id, clip_id, parent_comment_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("create comments: prepare: %w", err)
	}
	defer stmt.Close()

	now := s.nowMillis()
	var inserted []Comment
	for _, c := range comments {
		result, err := stmt.ExecContext(ctx,
			c.ID,
			c.AuthorID,
			nullString(c.PostID),
			nullString(c.ClipID),
			nullString(c.ParentCommentID),
			c.Body,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("create comments: insert %s: %w", c.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("create comments: rows affected: %w", err)
		}
		if n > 0 {
			c.CreatedAt = fromMillis(now)
			inserted = append(inserted, c)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create comments: commit: %w", err)
	}
	return inserted, nil
}

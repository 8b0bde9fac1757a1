package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/store"
)

// Apply writes the seed rows to st. Post ages are relative to now.
func (s Seed) Apply(ctx context.Context, st *store.Store, now time.Time) error {
	for _, u := range s.Users {
		name := u.Name
		if name == "" {
			name = u.ID
		}
		if err := st.UpsertUser(ctx, store.User{
			ID:                u.ID,
			DisplayName:       name,
			NotificationToken: u.Token,
			IsPrivate:         u.Private,
		}); err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, p := range s.Posts {
		if err := st.CreatePost(ctx, store.Post{
			ID:        p.ID,
			AuthorID:  p.Author,
			Caption:   p.Caption,
			IsPublic:  !p.Private,
			CreatedAt: now.Add(-p.Age),
		}); err != nil {
			return fmt.Errorf("seed post %s: %w", p.ID, err)
		}
	}
	for _, c := range s.Clips {
		if err := st.CreateClip(ctx, store.Clip{ID: c.ID, AuthorID: c.Author, Caption: c.Caption}); err != nil {
			return fmt.Errorf("seed clip %s: %w", c.ID, err)
		}
	}

	comments := make([]store.Comment, 0, len(s.Comments))
	for _, c := range s.Comments {
		comments = append(comments, store.Comment{
			ID:              c.ID,
			AuthorID:        c.Author,
			PostID:          c.Post,
			ClipID:          c.Clip,
			ParentCommentID: c.Parent,
			Body:            c.Text,
		})
	}
	if _, err := st.CreateComments(ctx, comments); err != nil {
		return fmt.Errorf("seed comments: %w", err)
	}

	follows := make([]action.FollowAction, 0, len(s.Follows))
	for _, f := range s.Follows {
		follows = append(follows, action.FollowAction{FollowerID: f.Follower, FollowingID: f.Following, Kind: action.Follow})
	}
	if _, err := st.CreateFollows(ctx, follows); err != nil {
		return fmt.Errorf("seed follows: %w", err)
	}

	likes := make([]action.LikeAction, 0, len(s.Likes))
	for _, l := range s.Likes {
		info, err := st.LookupTarget(ctx, l.Target)
		if err != nil {
			return fmt.Errorf("seed like %s->%s: %w", l.Actor, l.Target, err)
		}
		likes = append(likes, action.LikeAction{
			ActorID:     l.Actor,
			TargetID:    l.Target,
			TargetType:  info.Target.Type,
			Kind:        action.Like,
			RecipientID: info.OwnerID,
		})
	}
	if _, err := st.CreateLikes(ctx, likes); err != nil {
		return fmt.Errorf("seed likes: %w", err)
	}
	return nil
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/testutil"
)

func TestFollowFlusher_CreatesAndNotifies(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()
	require.NoError(t, d.state.AddMembers(ctx, ephemeral.FollowingKey("alice"), "bob", "carol"))
	require.NoError(t, d.state.AddMembers(ctx, ephemeral.FollowersKey("bob"), "alice"))

	f := NewFollowFlusher(d.store, d.state, d.notify, d.logger)
	report := f.Flush(ctx, []action.FollowAction{
		followOf("alice", "bob", action.Follow),
		followOf("alice", "carol", action.Follow),
	})

	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 2, report.Notified)

	edge, err := d.store.FollowEdge(ctx, action.FollowKey{FollowerID: "alice", FollowingID: "carol"})
	require.NoError(t, err)
	assert.Equal(t, store.FollowPending, edge.Status)

	assert.Equal(t, []testutil.SentNotification{
		{Token: "tok-bob", Title: "New follower", Body: "Alice started following you"},
		{Token: "tok-carol", Title: "Follow request", Body: "Alice requested to follow you"},
	}, d.sender.Sent())

	for _, key := range []string{ephemeral.FollowingKey("alice"), ephemeral.FollowersKey("bob")} {
		members, err := d.state.Members(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, members, key)
	}
}

func TestFollowFlusher_FollowThenUnfollowWritesNothing(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()

	f := NewFollowFlusher(d.store, d.state, d.notify, d.logger)
	report := f.Flush(ctx, []action.FollowAction{
		followOf("alice", "bob", action.Follow),
		followOf("alice", "bob", action.Unfollow),
	})

	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Superseded)
	assert.Zero(t, report.Deleted)
	has, err := d.store.HasFollow(ctx, action.FollowKey{FollowerID: "alice", FollowingID: "bob"})
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, d.sender.Sent())
}

func TestFollowFlusher_FollowThenUnfollowDeletesStoredEdge(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()
	_, err := d.store.CreateFollows(ctx, []action.FollowAction{followOf("alice", "bob", action.Follow)})
	require.NoError(t, err)

	f := NewFollowFlusher(d.store, d.state, d.notify, d.logger)
	report := f.Flush(ctx, []action.FollowAction{
		followOf("alice", "bob", action.Follow),
		followOf("alice", "bob", action.Unfollow),
	})

	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Deleted)
	has, err := d.store.HasFollow(ctx, action.FollowKey{FollowerID: "alice", FollowingID: "bob"})
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, d.sender.Sent())
}

func TestFollowFlusher_UnfollowDeletesEdge(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()
	_, err := d.store.CreateFollows(ctx, []action.FollowAction{followOf("alice", "bob", action.Follow)})
	require.NoError(t, err)
	require.NoError(t, d.state.AddMembers(ctx, ephemeral.UnfollowingKey("alice"), "bob"))

	f := NewFollowFlusher(d.store, d.state, d.notify, d.logger)
	report := f.Flush(ctx, []action.FollowAction{followOf("alice", "bob", action.Unfollow)})

	require.NoError(t, report.Err)
	assert.Equal(t, 1, report.Deleted)
	assert.Empty(t, d.sender.Sent())

	members, err := d.state.Members(ctx, ephemeral.UnfollowingKey("alice"))
	require.NoError(t, err)
	assert.Empty(t, members)
}

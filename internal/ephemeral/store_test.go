package ephemeral

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// implementations returns a fresh instance of every Store implementation.
func implementations(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"redis":  NewRedis(client),
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, s)
		})
	}
}

func TestStore_Counters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := LikeCountKey("p1")

		_, ok, err := s.Count(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "missing counter reports ok=false")

		n, err := s.Incr(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.Decr(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = s.Decr(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n, "decrement floors at zero")

		n, ok, err = s.Count(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(0), n)
	})
}

func TestStore_Sets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := LikedKey("p1")

		require.NoError(t, s.AddMembers(ctx, key, "b", "a", "c"))
		ok, err := s.IsMember(ctx, key, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.RemoveMembers(ctx, key, "a"))
		members, err := s.Members(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c"}, members)

		members, err = s.Members(ctx, LikedKey("nothing"))
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, s.AddMembers(ctx, key))
		require.NoError(t, s.RemoveMembers(ctx, key))
	})
}

func TestStore_KeysAndDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.AddMembers(ctx, LikedKey("p2"), "a"))
		require.NoError(t, s.AddMembers(ctx, LikedKey("p1"), "a"))
		require.NoError(t, s.AddMembers(ctx, UnlikedKey("p1"), "b"))
		_, err := s.Incr(ctx, LikeCountKey("p1"))
		require.NoError(t, err)

		keys, err := s.Keys(ctx, LikedPrefix)
		require.NoError(t, err)
		assert.Equal(t, []string{"user_liked:p1", "user_liked:p2"}, keys)

		require.NoError(t, s.Delete(ctx, LikedKey("p1"), LikeCountKey("p1")))
		keys, err = s.Keys(ctx, LikedPrefix)
		require.NoError(t, err)
		assert.Equal(t, []string{"user_liked:p2"}, keys)

		_, ok, err := s.Count(ctx, LikeCountKey("p1"))
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestStore_RemovingLastMemberDropsKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.AddMembers(ctx, LikedKey("p1"), "a"))
		require.NoError(t, s.RemoveMembers(ctx, LikedKey("p1"), "a"))

		keys, err := s.Keys(ctx, LikedPrefix)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

func TestStore_ToggleLikeStateMachine(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := func(durable bool) ToggleRequest {
			return ToggleRequest{
				Member:     "alice",
				PendingOn:  LikedKey("p1"),
				PendingOff: UnlikedKey("p1"),
				Durable:    durable,
				Counter:    LikeCountKey("p1"),
				Baseline:   5,
			}
		}

		// No durable row: like. Counter seeds from baseline.
		res, err := s.Toggle(ctx, req(false))
		require.NoError(t, err)
		assert.Equal(t, ToggleResult{On: true, Count: 6}, res)

		// Pending like: unlike.
		res, err = s.Toggle(ctx, req(false))
		require.NoError(t, err)
		assert.Equal(t, ToggleResult{On: false, Count: 5}, res)

		// Durable row: pending unlike.
		res, err = s.Toggle(ctx, req(true))
		require.NoError(t, err)
		assert.Equal(t, ToggleResult{On: false, Count: 4}, res)
		ok, err := s.IsMember(ctx, UnlikedKey("p1"), "alice")
		require.NoError(t, err)
		assert.True(t, ok)

		// Pending unlike: re-like, regardless of the durable row.
		res, err = s.Toggle(ctx, req(true))
		require.NoError(t, err)
		assert.Equal(t, ToggleResult{On: true, Count: 5}, res)
		ok, err = s.IsMember(ctx, UnlikedKey("p1"), "alice")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = s.IsMember(ctx, LikedKey("p1"), "alice")
		require.NoError(t, err)
		assert.False(t, ok, "re-like of a durable row leaves nothing pending")
	})
}

func TestStore_ToggleWithMirrorAndNoCounter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		req := ToggleRequest{
			Member:       "bob",
			PendingOn:    FollowingKey("alice"),
			PendingOff:   UnfollowingKey("alice"),
			Mirror:       FollowersKey("bob"),
			MirrorMember: "alice",
		}

		res, err := s.Toggle(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ToggleResult{On: true}, res)

		followers, err := s.Members(ctx, FollowersKey("bob"))
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, followers)

		res, err = s.Toggle(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.On)

		followers, err = s.Members(ctx, FollowersKey("bob"))
		require.NoError(t, err)
		assert.Empty(t, followers)

		keys, err := s.Keys(ctx, LikeCountPrefix)
		require.NoError(t, err)
		assert.Empty(t, keys, "no counter is created without a counter key")
	})
}

func TestStore_ConcurrentTogglesAreLinearizable(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		const actors = 20
		const perActor = 6 // even: every actor ends where it started

		var wg sync.WaitGroup
		for a := 0; a < actors; a++ {
			for i := 0; i < perActor; i++ {
				wg.Add(1)
				go func(actor string) {
					defer wg.Done()
					_, err := s.Toggle(ctx, ToggleRequest{
						Member:     actor,
						PendingOn:  LikedKey("p1"),
						PendingOff: UnlikedKey("p1"),
						Counter:    LikeCountKey("p1"),
					})
					assert.NoError(t, err)
				}(fmt.Sprintf("actor-%02d", a))
			}
		}
		wg.Wait()

		members, err := s.Members(ctx, LikedKey("p1"))
		require.NoError(t, err)
		assert.Empty(t, members)

		n, _, err := s.Count(ctx, LikeCountKey("p1"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})
}

func TestMemory_TTLExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := NewMemory(WithClock(clock))
	ctx := context.Background()
	key := SeenKey("viewer")

	require.NoError(t, s.AddMembersTTL(ctx, key, 24*time.Hour, "p1"))
	clock.Advance(23 * time.Hour)
	require.NoError(t, s.AddMembersTTL(ctx, key, 24*time.Hour, "p2"))

	clock.Advance(2 * time.Hour)
	members, err := s.Members(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2"}, members, "adding refreshes the TTL")

	clock.Advance(23 * time.Hour)
	members, err = s.Members(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)

	ok, err := s.IsMember(ctx, key, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := s.Keys(ctx, SeenPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedis_TTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := NewRedis(client)
	ctx := context.Background()
	key := SeenKey("viewer")

	require.NoError(t, s.AddMembersTTL(ctx, key, 24*time.Hour, "p1", "p2"))
	assert.Equal(t, 24*time.Hour, mr.TTL(key))

	mr.FastForward(25 * time.Hour)
	members, err := s.Members(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestTargetFromKey(t *testing.T) {
	id, ok := TargetFromKey("user_liked:p1", LikedPrefix)
	assert.True(t, ok)
	assert.Equal(t, "p1", id)

	_, ok = TargetFromKey("user_liked:", LikedPrefix)
	assert.False(t, ok)

	_, ok = TargetFromKey("like_count:p1", LikedPrefix)
	assert.False(t, ok)
}

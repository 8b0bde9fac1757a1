package toggle

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/queue"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/testutil"
)

type fixture struct {
	h     *Handler
	store *store.Store
	state *ephemeral.Memory
	bus   *queue.Bus
	hook  *test.Hook
	reg   *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "toggle.db"), store.WithClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, u := range []store.User{
		{ID: "alice", DisplayName: "Alice"},
		{ID: "bob", DisplayName: "Bob"},
		{ID: "carol", DisplayName: "Carol", IsPrivate: true},
	} {
		require.NoError(t, s.UpsertUser(ctx, u))
	}
	require.NoError(t, s.CreatePost(ctx, store.Post{ID: "p1", AuthorID: "bob", IsPublic: true, CreatedAt: testutil.Epoch}))
	require.NoError(t, s.CreateClip(ctx, store.Clip{ID: "k1", AuthorID: "carol", CreatedAt: testutil.Epoch}))
	_, err = s.CreateComments(ctx, []store.Comment{{ID: "c1", AuthorID: "carol", PostID: "p1", Body: "first"}})
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	state := ephemeral.NewMemory(ephemeral.WithClock(testutil.NewFakeClock()))
	bus := queue.NewMemoryBus()
	return &fixture{
		h:     NewHandler(s, state, bus, logger, metrics.New(reg)),
		store: s,
		state: state,
		bus:   bus,
		hook:  hook,
		reg:   reg,
	}
}

func (f *fixture) receive(t *testing.T, kind queue.Kind) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := f.bus.Queue(kind).Receive(ctx)
	require.NoError(t, err)
	return msg
}

func (f *fixture) members(t *testing.T, key string) []string {
	t.Helper()
	m, err := f.state.Members(context.Background(), key)
	require.NoError(t, err)
	return m
}

func post(id string) action.Target {
	return action.Target{ID: id, Type: action.TargetPost}
}

func TestToggleLike_ColdTargetLikes(t *testing.T) {
	f := newFixture(t)

	res, err := f.h.ToggleLike(context.Background(), "alice", post("p1"))
	require.NoError(t, err)

	assert.Equal(t, action.Like, res.Action.Kind)
	assert.Equal(t, "bob", res.Action.RecipientID)
	assert.Equal(t, int64(1), res.Count)
	assert.Equal(t, []string{"alice"}, f.members(t, ephemeral.LikedKey("p1")))

	got, err := action.DecodeLike(f.receive(t, queue.Likes))
	require.NoError(t, err)
	assert.Equal(t, res.Action, got)
}

func TestToggleLike_SecondToggleUndoesPendingLike(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.h.ToggleLike(ctx, "alice", post("p1"))
	require.NoError(t, err)
	res, err := f.h.ToggleLike(ctx, "alice", post("p1"))
	require.NoError(t, err)

	assert.Equal(t, action.Unlike, res.Action.Kind)
	assert.Zero(t, res.Count)
	assert.Empty(t, f.members(t, ephemeral.LikedKey("p1")))
	assert.Empty(t, f.members(t, ephemeral.UnlikedKey("p1")))

	n, err := f.bus.Queue(queue.Likes).Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "each toggle enqueues exactly once")
}

func TestToggleLike_DurableLikeUnlikesThenRelikes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, actor := range []string{"alice", "bob", "carol"} {
		_, err := f.store.CreateLikes(ctx, []action.LikeAction{{
			ActorID: actor, TargetID: "p1", TargetType: action.TargetPost, Kind: action.Like,
		}})
		require.NoError(t, err)
	}

	res, err := f.h.ToggleLike(ctx, "alice", post("p1"))
	require.NoError(t, err)
	assert.Equal(t, action.Unlike, res.Action.Kind)
	assert.Equal(t, int64(2), res.Count, "counter seeded from the durable count")
	assert.Equal(t, []string{"alice"}, f.members(t, ephemeral.UnlikedKey("p1")))

	res, err = f.h.ToggleLike(ctx, "alice", post("p1"))
	require.NoError(t, err)
	assert.Equal(t, action.Like, res.Action.Kind)
	assert.Equal(t, int64(3), res.Count)
	assert.Empty(t, f.members(t, ephemeral.UnlikedKey("p1")))
	assert.Empty(t, f.members(t, ephemeral.LikedKey("p1")))
}

func TestToggleLike_ResolvesTypeFromStore(t *testing.T) {
	f := newFixture(t)

	res, err := f.h.ToggleLike(context.Background(), "alice", action.Target{ID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, action.TargetComment, res.Action.TargetType)
	assert.Equal(t, "carol", res.Action.RecipientID)
}

func TestToggleLike_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.h.ToggleLike(ctx, "alice", post("missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.h.ToggleLike(ctx, "alice", post("k1"))
	assert.ErrorIs(t, err, ErrWrongTarget)

	_, err = f.h.ToggleLike(ctx, "", post("p1"))
	assert.ErrorIs(t, err, ErrMissingActor)

	keys, err := f.state.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys, "rejected toggles leave no ephemeral state")
}

func TestToggleLike_ConcurrentTogglesCancelOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 40
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		kinds = map[action.LikeKind]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.h.ToggleLike(ctx, "alice", post("p1"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			kinds[res.Action.Kind]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n/2, kinds[action.Like])
	assert.Equal(t, n/2, kinds[action.Unlike])
	assert.Empty(t, f.members(t, ephemeral.LikedKey("p1")))

	count, ok, err := f.state.Count(ctx, ephemeral.LikeCountKey("p1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, count)
}

func TestToggleLike_PublishFailureIsReturned(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.bus.Close())

	_, err := f.h.ToggleLike(context.Background(), "alice", post("p1"))
	require.ErrorIs(t, err, queue.ErrClosed)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "like not queued", entry.Message)
	assert.Equal(t, []string{"alice"}, f.members(t, ephemeral.LikedKey("p1")), "ephemeral state is left for the sweep")
}

func TestToggleFollow_FollowAndUnfollow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.h.ToggleFollow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, action.Follow, a.Kind)
	assert.Equal(t, []string{"bob"}, f.members(t, ephemeral.FollowingKey("alice")))
	assert.Equal(t, []string{"alice"}, f.members(t, ephemeral.FollowersKey("bob")))

	a, err = f.h.ToggleFollow(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, action.Unfollow, a.Kind)
	assert.Empty(t, f.members(t, ephemeral.FollowingKey("alice")))
	assert.Empty(t, f.members(t, ephemeral.FollowersKey("bob")))

	got, err := action.DecodeFollow(f.receive(t, queue.Follows))
	require.NoError(t, err)
	assert.Equal(t, action.Follow, got.Kind)
}

func TestToggleFollow_DurableEdgeUnfollows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateFollows(ctx, []action.FollowAction{{FollowerID: "alice", FollowingID: "carol", Kind: action.Follow}})
	require.NoError(t, err)

	a, err := f.h.ToggleFollow(ctx, "alice", "carol")
	require.NoError(t, err)
	assert.Equal(t, action.Unfollow, a.Kind, "a pending request counts as an edge")
	assert.Equal(t, []string{"carol"}, f.members(t, ephemeral.UnfollowingKey("alice")))
}

func TestToggleFollow_Rejections(t *testing.T) {
	f := newFixture(t)

	_, err := f.h.ToggleFollow(context.Background(), "alice", "alice")
	assert.ErrorIs(t, err, ErrSelfFollow)

	_, err = f.h.ToggleFollow(context.Background(), "alice", "")
	assert.ErrorIs(t, err, ErrMissingActor)
}

func TestToggle_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.h.ToggleLike(ctx, "alice", post("p1"))
	require.NoError(t, err)
	_, err = f.h.ToggleLike(ctx, "alice", post("p1"))
	require.NoError(t, err)
	_, err = f.h.ToggleFollow(ctx, "alice", "bob")
	require.NoError(t, err)

	err = promtest.GatherAndCompare(f.reg, strings.NewReader(`
# HELP kudos_toggles_total Toggle requests by kind and resolved direction
# TYPE kudos_toggles_total counter
kudos_toggles_total{kind="follow",result="on"} 1
kudos_toggles_total{kind="like",result="off"} 1
kudos_toggles_total{kind="like",result="on"} 1
`), "kudos_toggles_total")
	assert.NoError(t, err)
}

func TestSubmitComment_ResolvesRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		comment action.CommentAction
		want    string
	}{
		{"post", action.CommentAction{AuthorID: "alice", PostID: "p1", Text: "nice"}, "bob"},
		{"clip", action.CommentAction{AuthorID: "alice", ClipID: "k1", Text: "nice"}, "carol"},
		{"reply", action.CommentAction{AuthorID: "alice", ParentCommentID: "c1", Text: "agreed"}, "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.h.SubmitComment(ctx, tt.comment)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.RecipientID)

			queued, err := action.DecodeComment(f.receive(t, queue.Comments))
			require.NoError(t, err)
			assert.Equal(t, got, queued)
		})
	}
}

func TestSubmitComment_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		comment action.CommentAction
		wantErr error
	}{
		{"no parent", action.CommentAction{AuthorID: "alice", Text: "hi"}, ErrInvalidComment},
		{"two parents", action.CommentAction{AuthorID: "alice", PostID: "p1", ClipID: "k1", Text: "hi"}, ErrInvalidComment},
		{"blank", action.CommentAction{AuthorID: "alice", PostID: "p1", Text: "  \n"}, ErrInvalidComment},
		{"too long", action.CommentAction{AuthorID: "alice", PostID: "p1", Text: strings.Repeat("é", MaxCommentRunes+1)}, ErrInvalidComment},
		{"no author", action.CommentAction{PostID: "p1", Text: "hi"}, ErrMissingActor},
		{"missing post", action.CommentAction{AuthorID: "alice", PostID: "nope", Text: "hi"}, store.ErrNotFound},
		{"clip as post", action.CommentAction{AuthorID: "alice", PostID: "k1", Text: "hi"}, ErrWrongTarget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.h.SubmitComment(ctx, tt.comment)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	n, err := f.bus.Queue(queue.Comments).Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitComment_MaxLengthAccepted(t *testing.T) {
	f := newFixture(t)
	_, err := f.h.SubmitComment(context.Background(), action.CommentAction{
		AuthorID: "alice", PostID: "p1", Text: strings.Repeat("é", MaxCommentRunes),
	})
	assert.NoError(t, err)
}

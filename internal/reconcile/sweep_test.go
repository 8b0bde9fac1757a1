package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sweep.db"), store.WithClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, id := range []string{"p1", "p2", "p3"} {
		require.NoError(t, s.CreatePost(ctx, store.Post{ID: id, AuthorID: "bob", IsPublic: true, CreatedAt: testutil.Epoch}))
	}
	return s
}

func states(t *testing.T) map[string]ephemeral.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return map[string]ephemeral.Store{
		"memory": ephemeral.NewMemory(),
		"redis":  ephemeral.NewRedis(client),
	}
}

func nullLogger() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

func seedLike(t *testing.T, s *store.Store, actor, target string) {
	t.Helper()
	_, err := s.CreateLikes(context.Background(), []action.LikeAction{{
		ActorID: actor, TargetID: target, TargetType: action.TargetPost, Kind: action.Like,
	}})
	require.NoError(t, err)
}

func hasLike(t *testing.T, s *store.Store, actor, target string) bool {
	t.Helper()
	ok, err := s.HasLike(context.Background(), action.LikeKey{ActorID: actor, TargetID: target})
	require.NoError(t, err)
	return ok
}

func members(t *testing.T, state ephemeral.Store, key string) []string {
	t.Helper()
	m, err := state.Members(context.Background(), key)
	require.NoError(t, err)
	return m
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, ExplicitIntent, p)

	p, err = ParsePolicy("implicit_unlike")
	require.NoError(t, err)
	assert.Equal(t, ImplicitUnlike, p)

	_, err = ParsePolicy("last_writer")
	assert.Error(t, err)
}

func TestSweep_CreatesLostLikes(t *testing.T) {
	for name, state := range states(t) {
		t.Run(name, func(t *testing.T) {
			s := openStore(t)
			ctx := context.Background()
			require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("p1"), "alice", "carol"))

			report, err := NewSweeper(s, state, nullLogger()).Sweep(ctx)
			require.NoError(t, err)

			assert.Equal(t, 1, report.Targets)
			assert.Equal(t, 2, report.Scanned)
			assert.Equal(t, 2, report.Created)
			assert.True(t, hasLike(t, s, "alice", "p1"))
			assert.True(t, hasLike(t, s, "carol", "p1"))
			assert.Empty(t, members(t, state, ephemeral.LikedKey("p1")))
		})
	}
}

func TestSweep_ExplicitIntent(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()
	seedLike(t, s, "alice", "p1")
	seedLike(t, s, "dave", "p1")

	// alice: pending like with a row already written (stale).
	// carol: pending unlike without a row (stale).
	// dave: pending unlike with a row (delete).
	require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("p1"), "alice"))
	require.NoError(t, state.AddMembers(ctx, ephemeral.UnlikedKey("p1"), "carol", "dave"))

	report, err := NewSweeper(s, state, nullLogger()).Sweep(ctx)
	require.NoError(t, err)

	assert.Zero(t, report.Created)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 2, report.Stale)
	assert.True(t, hasLike(t, s, "alice", "p1"), "a stale pending like never deletes")
	assert.False(t, hasLike(t, s, "dave", "p1"))
	assert.Empty(t, members(t, state, ephemeral.UnlikedKey("p1")))
}

func TestSweep_ImplicitUnlike(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()
	seedLike(t, s, "alice", "p1")
	seedLike(t, s, "dave", "p1")
	require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("p1"), "alice", "bob"))
	require.NoError(t, state.AddMembers(ctx, ephemeral.UnlikedKey("p1"), "dave"))

	sweeper := NewSweeper(s, state, nullLogger(), WithPolicy(ImplicitUnlike))
	assert.Equal(t, ImplicitUnlike, sweeper.Policy())
	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Deleted)
	assert.False(t, hasLike(t, s, "alice", "p1"), "a pending like over an existing row is an unlike")
	assert.True(t, hasLike(t, s, "bob", "p1"))
	assert.True(t, hasLike(t, s, "dave", "p1"), "unliked sets are not scanned")
	assert.Equal(t, []string{"dave"}, members(t, state, ephemeral.UnlikedKey("p1")))
}

func TestSweep_Idempotent(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()
	seedLike(t, s, "dave", "p2")
	require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("p1"), "alice"))
	require.NoError(t, state.AddMembers(ctx, ephemeral.UnlikedKey("p2"), "dave"))

	sweeper := NewSweeper(s, state, nullLogger())
	first, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 1, first.Deleted)

	second, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, second)
}

func TestSweep_OrphanedTargetIsForgotten(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()
	require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("deleted-post"), "alice"))

	report, err := NewSweeper(s, state, nullLogger()).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Orphaned)
	assert.Zero(t, report.Created)

	keys, err := state.Keys(ctx, ephemeral.LikedPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSweep_ResetsIdleCounters(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()

	// p1 was flushed normally: counter left, no pending members.
	_, err := state.Incr(ctx, ephemeral.LikeCountKey("p1"))
	require.NoError(t, err)
	// p2 has a pending like the sweep writes, then its counter is idle too.
	_, err = state.Incr(ctx, ephemeral.LikeCountKey("p2"))
	require.NoError(t, err)
	require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("p2"), "alice"))

	report, err := NewSweeper(s, state, nullLogger()).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.CountersReset)

	keys, err := state.Keys(ctx, ephemeral.LikeCountPrefix)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// flakyStore fails writes for one target and can inject a concurrent toggle
// between the scan and the write.
type flakyStore struct {
	*store.Store
	failTarget string
	onLikedBy  func(target string)
}

var errLocked = errors.New("database is locked")

func (f flakyStore) LikedBy(ctx context.Context, target string, actors []string) (map[string]bool, error) {
	if f.onLikedBy != nil {
		f.onLikedBy(target)
	}
	return f.Store.LikedBy(ctx, target, actors)
}

func (f flakyStore) CreateLikes(ctx context.Context, likes []action.LikeAction) (store.LikeInsertResult, error) {
	if len(likes) > 0 && likes[0].TargetID == f.failTarget {
		return store.LikeInsertResult{}, errLocked
	}
	return f.Store.CreateLikes(ctx, likes)
}

func TestSweep_FailedTargetDoesNotStopRun(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()
	for _, target := range []string{"p1", "p2", "p3"} {
		require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey(target), "alice"))
		_, err := state.Incr(ctx, ephemeral.LikeCountKey(target))
		require.NoError(t, err)
	}

	logger, hook := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	sweeper := NewSweeper(flakyStore{Store: s, failTarget: "p2"}, state, logger, WithMetrics(metrics.New(reg)))
	report, err := sweeper.Sweep(ctx)

	require.ErrorIs(t, err, errLocked)
	assert.Contains(t, err.Error(), "target p2")
	assert.Equal(t, 2, report.Created)
	assert.True(t, hasLike(t, s, "alice", "p1"))
	assert.True(t, hasLike(t, s, "alice", "p3"))

	assert.Equal(t, []string{"alice"}, members(t, state, ephemeral.LikedKey("p2")), "failed members are retried next pass")
	_, ok, err := state.Count(ctx, ephemeral.LikeCountKey("p2"))
	require.NoError(t, err)
	assert.True(t, ok, "counters with pending members are kept")

	assert.Equal(t, "sweep finished with errors", hook.LastEntry().Message)
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(`
# HELP kudos_sweep_runs_total Reconciliation sweep runs by outcome
# TYPE kudos_sweep_runs_total counter
kudos_sweep_runs_total{outcome="error"} 1
# HELP kudos_sweep_writes_total Durable writes applied by the reconciliation sweep
# TYPE kudos_sweep_writes_total counter
kudos_sweep_writes_total{op="create"} 2
`), "kudos_sweep_runs_total", "kudos_sweep_writes_total"))
}

func TestSweep_KeepsMembersAddedDuringRun(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	ctx := context.Background()
	require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey("p1"), "alice"))

	racing := flakyStore{Store: s, onLikedBy: func(target string) {
		// A toggle lands after the scan read the set.
		require.NoError(t, state.AddMembers(ctx, ephemeral.LikedKey(target), "carol"))
	}}
	report, err := NewSweeper(racing, state, nullLogger()).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	assert.False(t, hasLike(t, s, "carol", "p1"))
	assert.Equal(t, []string{"carol"}, members(t, state, ephemeral.LikedKey("p1")))
}

func TestSweep_CancelledContext(t *testing.T) {
	s := openStore(t)
	state := ephemeral.NewMemory()
	require.NoError(t, state.AddMembers(context.Background(), ephemeral.LikedKey("p1"), "alice"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSweeper(s, state, nullLogger()).Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, hasLike(t, s, "alice", "p1"))
}

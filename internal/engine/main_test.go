package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/ephemeral"
	"github.com/roach88/kudos/internal/notify"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type deps struct {
	store  *store.Store
	state  *ephemeral.Memory
	sender *testutil.RecordingSender
	notify *notify.Dispatcher
	logger *logrus.Logger
	hook   *test.Hook
}

func newDeps(t *testing.T) *deps {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"), store.WithClock(testutil.NewFakeClock()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, u := range []store.User{
		{ID: "alice", DisplayName: "Alice", NotificationToken: "tok-alice"},
		{ID: "bob", DisplayName: "Bob", NotificationToken: "tok-bob"},
		{ID: "carol", DisplayName: "Carol", NotificationToken: "tok-carol", IsPrivate: true},
	} {
		require.NoError(t, s.UpsertUser(ctx, u))
	}

	logger, hook := test.NewNullLogger()
	sender := testutil.NewRecordingSender()
	return &deps{
		store:  s,
		state:  ephemeral.NewMemory(ephemeral.WithClock(testutil.NewFakeClock())),
		sender: sender,
		notify: notify.NewDispatcher(s, sender, logger, nil),
		logger: logger,
		hook:   hook,
	}
}

func likeOf(actor, target string, kind action.LikeKind) action.LikeAction {
	return action.LikeAction{
		ActorID:     actor,
		TargetID:    target,
		TargetType:  action.TargetPost,
		Kind:        kind,
		RecipientID: "bob",
	}
}

func followOf(follower, following string, kind action.FollowKind) action.FollowAction {
	return action.FollowAction{FollowerID: follower, FollowingID: following, Kind: kind}
}

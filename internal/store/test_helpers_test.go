package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/kudos/internal/action"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new temp-dir store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, _ := createTestStoreWithClock(t)
	return s
}

func createTestStoreWithClock(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func mustCreatePost(t *testing.T, s *Store, id, author string, public bool, createdAt time.Time) {
	t.Helper()
	err := s.CreatePost(context.Background(), Post{ID: id, AuthorID: author, IsPublic: public, CreatedAt: createdAt})
	if err != nil {
		t.Fatalf("CreatePost(%s) failed: %v", id, err)
	}
}

func like(actor, target string) action.LikeAction {
	return action.LikeAction{ActorID: actor, TargetID: target, TargetType: action.TargetPost, Kind: action.Like}
}

package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("comment")
	assert.Equal(t, "comment-0001", g.Generate())
	assert.Equal(t, "comment-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "comment-0001", g.Generate())

	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	g := NewSequentialIDs("x")
	const numGoroutines = 50
	const callsPerGoroutine = 40

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				id := g.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, numGoroutines*callsPerGoroutine, "every id is unique")
}

func TestNewFakeClock_StartsAtEpoch(t *testing.T) {
	assert.Equal(t, Epoch, NewFakeClock().Now())
}

func TestRecordingSender(t *testing.T) {
	s := NewRecordingSender()
	boom := errors.New("boom")
	s.FailFor("bad", boom)

	require.NoError(t, s.SendNotification(context.Background(), "tok", "New like", "ann liked your post"))
	assert.ErrorIs(t, s.SendNotification(context.Background(), "bad", "t", "b"), boom)

	assert.Equal(t, []SentNotification{{Token: "tok", Title: "New like", Body: "ann liked your post"}}, s.Sent())

	s.Reset()
	assert.Empty(t, s.Sent())
}

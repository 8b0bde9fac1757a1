package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/testutil"
)

func TestCommentFlusher_InsertsNormalizedAndNotifies(t *testing.T) {
	d := newDeps(t)
	ctx := context.Background()

	f := NewCommentFlusher(d.store, testutil.NewSequentialIDs("c"), d.notify, d.logger)
	report := f.Flush(ctx, []action.CommentAction{
		{AuthorID: "alice", PostID: "p1", Text: "cafe\u0301", RecipientID: "bob"},
		{AuthorID: "bob", PostID: "p1", Text: "own post", RecipientID: "bob"},
	})

	require.NoError(t, report.Err)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Notified, "authors are not notified of their own comments")

	comments, err := d.store.CommentsOn(ctx, action.Target{ID: "p1", Type: action.TargetPost})
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "c-0001", comments[0].ID)
	assert.Equal(t, "caf\u00e9", comments[0].Body, "text is NFC-normalised")

	assert.Equal(t, []testutil.SentNotification{
		{Token: "tok-bob", Title: "New comment", Body: "Alice commented: caf\u00e9"},
	}, d.sender.Sent())
}

func TestCommentFlusher_DropsCommentsWithoutOneParent(t *testing.T) {
	d := newDeps(t)

	f := NewCommentFlusher(d.store, testutil.NewSequentialIDs("c"), d.notify, d.logger)
	report := f.Flush(context.Background(), []action.CommentAction{
		{AuthorID: "alice", Text: "orphan", RecipientID: "bob"},
		{AuthorID: "alice", PostID: "p1", ClipID: "k1", Text: "two parents", RecipientID: "bob"},
	})

	assert.NoError(t, report.Err)
	assert.Equal(t, 2, report.Dropped)
	assert.Zero(t, report.Created)

	entry := d.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "comment dropped", entry.Message)
}

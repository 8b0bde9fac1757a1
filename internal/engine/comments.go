package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/notify"
	"github.com/roach88/kudos/internal/store"
)

// CommentStore is the durable side of the comment flush.
type CommentStore interface {
	CreateComments(ctx context.Context, comments []store.Comment) ([]store.Comment, error)
}

// CommentFlusher commits a batch of new comments. Comments have no natural
// key, so nothing is coalesced.
type CommentFlusher struct {
	store    CommentStore
	ids      IDGenerator
	notifier Notifier
	logger   logrus.FieldLogger
}

// NewCommentFlusher returns a flusher that assigns ids from ids and
// inserts comments into s.
func NewCommentFlusher(s CommentStore, ids IDGenerator, n Notifier, logger logrus.FieldLogger) *CommentFlusher {
	return &CommentFlusher{
		store:    s,
		ids:      ids,
		notifier: n,
		logger:   logger.WithField("component", "comment_flusher"),
	}
}

// Flush inserts every comment with a single valid target and notifies its
// recipient. Comments do not coalesce.
func (f *CommentFlusher) Flush(ctx context.Context, batch []action.CommentAction) FlushReport {
	report := FlushReport{Kind: "comments", Received: len(batch)}

	rows := make([]store.Comment, 0, len(batch))
	recipients := make(map[string]string, len(batch))
	for _, a := range batch {
		if _, err := a.Target(); err != nil {
			report.Dropped++
			f.logger.WithError(err).WithField("author", a.AuthorID).Warn("comment dropped")
			continue
		}
		id := f.ids.Generate()
		rows = append(rows, store.Comment{
			ID:              id,
			AuthorID:        a.AuthorID,
			PostID:          a.PostID,
			ClipID:          a.ClipID,
			ParentCommentID: a.ParentCommentID,
			Body:            norm.NFC.String(a.Text),
		})
		recipients[id] = a.RecipientID
	}
	if len(rows) == 0 {
		return report
	}

	inserted, err := f.store.CreateComments(ctx, rows)
	if err != nil {
		report.Dropped += len(rows)
		report.addErr(fmt.Errorf("create comments: %w", err))
		return report
	}
	report.Created = len(inserted)
	report.Duplicates = len(rows) - len(inserted)

	notes := make([]notify.Notification, len(inserted))
	for i, c := range inserted {
		notes[i] = notify.Comment(c, recipients[c.ID])
	}
	sent, err := f.notifier.Dispatch(ctx, notes...)
	report.Notified = sent
	if err != nil {
		f.logger.WithError(err).Warn("comment notifications failed")
	}
	return report
}

// Package notify turns net-new engagement rows into push notifications.
//
// Delivery transport is an external collaborator behind Sender. The
// Dispatcher resolves recipient tokens and actor names from the durable
// store and never fails a flush: every problem is logged and counted.
package notify

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/metrics"
	"github.com/roach88/kudos/internal/store"
)

// Sender delivers one push notification to a device token.
type Sender interface {
	SendNotification(ctx context.Context, token, title, body string) error
}

// Users resolves users by id.
type Users interface {
	User(ctx context.Context, id string) (store.User, error)
}

// Notification is a synthesized payload before token resolution.
type Notification struct {
	RecipientID string
	ActorID     string
	Title       string
	// Body follows the actor's display name, e.g. "liked your post".
	Body string
}

const previewRunes = 80

// Like builds the notification sent to a target's owner for a new like.
func Like(a action.LikeAction) Notification {
	return Notification{
		RecipientID: a.RecipientID,
		ActorID:     a.ActorID,
		Title:       "New like",
		Body:        "liked your " + string(a.TargetType),
	}
}

// Follow builds the payload for a new edge. Pending edges are follow requests.
func Follow(f store.Follow) Notification {
	n := Notification{
		RecipientID: f.FollowingID,
		ActorID:     f.FollowerID,
		Title:       "New follower",
		Body:        "started following you",
	}
	if f.Status == store.FollowPending {
		n.Title = "Follow request"
		n.Body = "requested to follow you"
	}
	return n
}

// Comment builds the notification for a stored comment. recipientID is
// the post or clip owner, or the parent comment's author for replies.
func Comment(c store.Comment, recipientID string) Notification {
	return Notification{
		RecipientID: recipientID,
		ActorID:     c.AuthorID,
		Title:       "New comment",
		Body:        "commented: " + preview(c.Body),
	}
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	r := []rune(s)
	return string(r[:previewRunes-1]) + "…"
}

// Dispatcher resolves and sends notifications.
type Dispatcher struct {
	users   Users
	sender  Sender
	logger  logrus.FieldLogger
	metrics *metrics.Metrics
}

// NewDispatcher returns a Dispatcher that resolves device tokens through
// users and delivers through sender.
func NewDispatcher(users Users, sender Sender, logger logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		users:   users,
		sender:  sender,
		logger:  logger.WithField("component", "notify"),
		metrics: m,
	}
}

// Dispatch sends each notification and returns how many were delivered.
// Self-notifications and recipients without a token are skipped. Send
// failures are aggregated into the returned error.
func (d *Dispatcher) Dispatch(ctx context.Context, notes ...Notification) (int, error) {
	var (
		sent   int
		result *multierror.Error
	)
	for _, n := range notes {
		ok, err := d.dispatch(ctx, n)
		switch {
		case err != nil:
			d.metrics.Notification("failed")
			result = multierror.Append(result, err)
		case ok:
			d.metrics.Notification("sent")
			sent++
		default:
			d.metrics.Notification("skipped")
		}
	}
	return sent, result.ErrorOrNil()
}

func (d *Dispatcher) dispatch(ctx context.Context, n Notification) (bool, error) {
	if n.RecipientID == "" || n.RecipientID == n.ActorID {
		return false, nil
	}

	recipient, err := d.users.User(ctx, n.RecipientID)
	if errors.Is(err, store.ErrNotFound) {
		d.logger.WithField("recipient", n.RecipientID).Debug("notification skipped: unknown recipient")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notify %s: %w", n.RecipientID, err)
	}
	if recipient.NotificationToken == "" {
		d.logger.WithField("recipient", n.RecipientID).Debug("notification skipped: no token")
		return false, nil
	}

	body := d.displayName(ctx, n.ActorID) + " " + n.Body
	if err := d.sender.SendNotification(ctx, recipient.NotificationToken, n.Title, body); err != nil {
		return false, fmt.Errorf("notify %s: %w", n.RecipientID, err)
	}
	return true, nil
}

func (d *Dispatcher) displayName(ctx context.Context, userID string) string {
	u, err := d.users.User(ctx, userID)
	if err != nil || u.DisplayName == "" {
		return userID
	}
	return u.DisplayName
}

// LogSender writes notifications to the log instead of a push transport.
type LogSender struct {
	Logger logrus.FieldLogger
}

func (s LogSender) SendNotification(_ context.Context, token, title, body string) error {
	s.Logger.WithFields(logrus.Fields{
		"token": token,
		"title": title,
	}).Info(body)
	return nil
}

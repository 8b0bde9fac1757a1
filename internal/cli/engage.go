package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kudos/internal/action"
	"github.com/roach88/kudos/internal/engine"
	"github.com/roach88/kudos/internal/service"
	"github.com/roach88/kudos/internal/store"
	"github.com/roach88/kudos/internal/toggle"
)

// LikeOutput is the result of the like command.
type LikeOutput struct {
	Actor   string         `json:"actor"`
	Target  string         `json:"target"`
	Type    string         `json:"type"`
	Action  string         `json:"action"`
	Count   int64          `json:"count"`
	Flushed []FlushSummary `json:"flushed,omitempty"`
}

func (o LikeOutput) String() string {
	return fmt.Sprintf("%s: %s %s %s (%d likes)%s", o.Action, o.Actor, o.Type, o.Target, o.Count, flushedText(o.Flushed))
}

// FollowOutput is the result of the follow command. Action is "follow" or
// "unfollow".
type FollowOutput struct {
	Follower  string         `json:"follower"`
	Following string         `json:"following"`
	Action    string         `json:"action"`
	Flushed   []FlushSummary `json:"flushed,omitempty"`
}

func (o FollowOutput) String() string {
	return fmt.Sprintf("%s: %s -> %s%s", o.Action, o.Follower, o.Following, flushedText(o.Flushed))
}

// CommentOutput is the result of the comment command.
type CommentOutput struct {
	Author    string         `json:"author"`
	Target    string         `json:"target"`
	Recipient string         `json:"recipient"`
	Flushed   []FlushSummary `json:"flushed,omitempty"`
}

func (o CommentOutput) String() string {
	return fmt.Sprintf("comment: %s on %s (notifies %s)%s", o.Author, o.Target, o.Recipient, flushedText(o.Flushed))
}

// FlushSummary is one flushed batch, reported when a command writes
// through the in-process queues.
type FlushSummary struct {
	Kind       string `json:"kind"`
	Created    int    `json:"created"`
	Deleted    int    `json:"deleted"`
	Duplicates int    `json:"duplicates"`
	Dropped    int    `json:"dropped"`
	Notified   int    `json:"notified"`
}

func summarize(reports []engine.FlushReport) []FlushSummary {
	out := make([]FlushSummary, 0, len(reports))
	for _, r := range reports {
		out = append(out, FlushSummary{
			Kind:       r.Kind,
			Created:    r.Created,
			Deleted:    r.Deleted,
			Duplicates: r.Duplicates,
			Dropped:    r.Dropped,
			Notified:   r.Notified,
		})
	}
	return out
}

func flushedText(flushed []FlushSummary) string {
	if len(flushed) == 0 {
		return ""
	}
	parts := make([]string, 0, len(flushed))
	for _, s := range flushed {
		parts = append(parts, fmt.Sprintf("%s created=%d deleted=%d notified=%d", s.Kind, s.Created, s.Deleted, s.Notified))
	}
	return "\n  flushed " + strings.Join(parts, "; ")
}

// NewLikeCommand creates the like command.
func NewLikeCommand(rootOpts *RootOptions) *cobra.Command {
	var targetType string

	cmd := &cobra.Command{
		Use:   "like <actor> <target>",
		Short: "Toggle a like on a post, clip or comment",
		Long: `Toggle actor's like on target. Running the command twice undoes the like.

Without Redis the queues live in-process, so the batch is flushed to the
database before the command exits.

Example:
  kudos like alice p1
  kudos like alice c7 --type comment`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			svc, err := rootOpts.openService(cmd, f)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx := commandContext(cmd)
			res, err := svc.Toggles.ToggleLike(ctx, args[0], action.Target{
				ID:   args[1],
				Type: action.TargetType(targetType),
			})
			if err != nil {
				return actionError(f, "like rejected", err)
			}
			flushed, err := flushInProcess(cmd, svc)
			if err != nil {
				return f.fail(ExitFailure, CodeBackend, "flush failed", err)
			}
			return f.Success(LikeOutput{
				Actor:   res.Action.ActorID,
				Target:  res.Action.TargetID,
				Type:    string(res.Action.TargetType),
				Action:  string(res.Action.Kind),
				Count:   res.Count,
				Flushed: flushed,
			})
		},
	}

	cmd.Flags().StringVar(&targetType, "type", "", "target type (post|clip|comment), looked up when empty")
	return cmd
}

// NewFollowCommand creates the follow command.
func NewFollowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow <follower> <following>",
		Short: "Toggle a follow",
		Long: `Toggle follower's follow of following. Following a private account
creates a pending request.

Example:
  kudos follow alice bob`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			svc, err := rootOpts.openService(cmd, f)
			if err != nil {
				return err
			}
			defer svc.Close()

			a, err := svc.Toggles.ToggleFollow(commandContext(cmd), args[0], args[1])
			if err != nil {
				return actionError(f, "follow rejected", err)
			}
			flushed, err := flushInProcess(cmd, svc)
			if err != nil {
				return f.fail(ExitFailure, CodeBackend, "flush failed", err)
			}
			return f.Success(FollowOutput{
				Follower:  a.FollowerID,
				Following: a.FollowingID,
				Action:    strings.ToLower(string(a.Kind)),
				Flushed:   flushed,
			})
		},
	}
	return cmd
}

// NewCommentCommand creates the comment command.
func NewCommentCommand(rootOpts *RootOptions) *cobra.Command {
	var a action.CommentAction

	cmd := &cobra.Command{
		Use:   "comment <author>",
		Short: "Submit a comment on a post, clip or comment",
		Long: `Submit a comment. Exactly one of --post, --clip and --parent names the
target.

Example:
  kudos comment alice --post p1 --text "nice shot"
  kudos comment bob --parent c1 --text "agreed"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			svc, err := rootOpts.openService(cmd, f)
			if err != nil {
				return err
			}
			defer svc.Close()

			req := a
			req.AuthorID = args[0]
			res, err := svc.Toggles.SubmitComment(commandContext(cmd), req)
			if err != nil {
				return actionError(f, "comment rejected", err)
			}
			flushed, err := flushInProcess(cmd, svc)
			if err != nil {
				return f.fail(ExitFailure, CodeBackend, "flush failed", err)
			}
			target, _ := res.Target()
			return f.Success(CommentOutput{
				Author:    res.AuthorID,
				Target:    target.ID,
				Recipient: res.RecipientID,
				Flushed:   flushed,
			})
		},
	}

	cmd.Flags().StringVar(&a.PostID, "post", "", "post to comment on")
	cmd.Flags().StringVar(&a.ClipID, "clip", "", "clip to comment on")
	cmd.Flags().StringVar(&a.ParentCommentID, "parent", "", "comment to reply to")
	cmd.Flags().StringVar(&a.Text, "text", "", "comment text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

// flushInProcess writes queued actions straight away when the queues live in
// this process. With Redis the running workers pick them up.
func flushInProcess(cmd *cobra.Command, svc *service.Service) ([]FlushSummary, error) {
	if svc.Config.Redis.Enabled() {
		return nil, nil
	}
	reports, err := svc.Flush(commandContext(cmd))
	return summarize(reports), err
}

// actionError maps toggle failures to exit codes: rejected input and
// unknown targets fail with ExitFailure, anything else is a backend error.
func actionError(f *OutputFormatter, message string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return f.fail(ExitFailure, CodeNotFound, message, err)
	case errors.Is(err, toggle.ErrSelfFollow),
		errors.Is(err, toggle.ErrInvalidComment),
		errors.Is(err, toggle.ErrMissingActor),
		errors.Is(err, toggle.ErrWrongTarget):
		return f.fail(ExitFailure, CodeRejected, message, err)
	}
	return f.fail(ExitCommandError, CodeBackend, message, err)
}

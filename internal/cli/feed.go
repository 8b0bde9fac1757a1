package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kudos/internal/feed"
)

// FeedItem is one post in the feed command's output.
type FeedItem struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Caption   string    `json:"caption,omitempty"`
	Source    string    `json:"source"`
	Likes     int64     `json:"likes"`
	Comments  int64     `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
}

// FeedOutput is the result of the feed command.
type FeedOutput struct {
	Viewer string     `json:"viewer"`
	Page   int        `json:"page"`
	Items  []FeedItem `json:"items"`
}

func (o FeedOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feed for %s, page %d: %d item(s)", o.Viewer, o.Page, len(o.Items))
	for _, it := range o.Items {
		fmt.Fprintf(&b, "\n  %-10s %-9s %-10s likes=%d comments=%d", it.ID, it.Source, it.Author, it.Likes, it.Comments)
		if it.Caption != "" {
			fmt.Fprintf(&b, "  %s", it.Caption)
		}
	}
	return b.String()
}

// NewFeedCommand creates the feed command.
func NewFeedCommand(rootOpts *RootOptions) *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "feed <viewer>",
		Short: "Compose a page of a viewer's feed",
		Long: `Compose one page of the viewer's feed: recent posts from accounts the
viewer follows, topped up with trending posts. Posts served are remembered
so later pages do not repeat them.

Example:
  kudos feed alice
  kudos feed alice --page 1 --limit 10 --format json`,
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

			items, err := svc.Feed.Compose(commandContext(cmd), args[0], page, limit)
			if errors.Is(err, feed.ErrInvalidPage) {
				return f.fail(ExitCommandError, CodeRejected, "invalid page", err)
			}
			if err != nil {
				return f.fail(ExitFailure, CodeBackend, "failed to compose feed", err)
			}

			out := FeedOutput{Viewer: args[0], Page: page, Items: make([]FeedItem, 0, len(items))}
			for _, it := range items {
				out.Items = append(out.Items, FeedItem{
					ID:        it.ID,
					Author:    it.AuthorID,
					Caption:   it.Caption,
					Source:    string(it.Source),
					Likes:     it.LikeCount,
					Comments:  it.CommentCount,
					CreatedAt: it.CreatedAt,
				})
			}
			return f.Success(out)
		},
	}

	cmd.Flags().IntVar(&page, "page", 0, "page number, starting at 0")
	cmd.Flags().IntVar(&limit, "limit", 0, "items per page (0 uses feed.default_limit)")
	return cmd
}

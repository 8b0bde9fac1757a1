package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kudos/internal/harness"
)

// SeedOutput is the result of the seed command.
type SeedOutput struct {
	File     string `json:"file"`
	Users    int    `json:"users"`
	Posts    int    `json:"posts"`
	Clips    int    `json:"clips"`
	Comments int    `json:"comments"`
	Follows  int    `json:"follows"`
	Likes    int    `json:"likes"`
}

func (o SeedOutput) String() string {
	return fmt.Sprintf("Seeded %s: %d user(s), %d post(s), %d clip(s), %d comment(s), %d follow(s), %d like(s)",
		o.File, o.Users, o.Posts, o.Clips, o.Comments, o.Follows, o.Likes)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file>",
		Short: "Load users, posts and engagement into the database",
		Long: `Write the rows in a YAML seed file straight to the database. The file
uses the same format as the seed section of a test scenario; post ages are
relative to now.

Example:
  kudos seed ./fixtures/demo.yaml --config kudos.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			seed, err := harness.LoadSeed(args[0])
			if err != nil {
				return f.fail(ExitCommandError, CodeConfig, "failed to load seed", err)
			}

			svc, err := rootOpts.openService(cmd, f)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := seed.Apply(commandContext(cmd), svc.Store, time.Now()); err != nil {
				return f.fail(ExitFailure, CodeRejected, "failed to apply seed", err)
			}
			return f.Success(SeedOutput{
				File:     args[0],
				Users:    len(seed.Users),
				Posts:    len(seed.Posts),
				Clips:    len(seed.Clips),
				Comments: len(seed.Comments),
				Follows:  len(seed.Follows),
				Likes:    len(seed.Likes),
			})
		},
	}
	return cmd
}

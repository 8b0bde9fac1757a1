package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kudos/internal/reconcile"
)

// SweepOutput is the result of the sweep command.
type SweepOutput struct {
	Policy        string `json:"policy"`
	Targets       int    `json:"targets"`
	Scanned       int    `json:"scanned"`
	Created       int    `json:"created"`
	Deleted       int    `json:"deleted"`
	Stale         int    `json:"stale"`
	Orphaned      int    `json:"orphaned"`
	CountersReset int    `json:"counters_reset"`
}

func newSweepOutput(policy reconcile.Policy, r reconcile.Report) SweepOutput {
	return SweepOutput{
		Policy:        string(policy),
		Targets:       r.Targets,
		Scanned:       r.Scanned,
		Created:       r.Created,
		Deleted:       r.Deleted,
		Stale:         r.Stale,
		Orphaned:      r.Orphaned,
		CountersReset: r.CountersReset,
	}
}

func (o SweepOutput) String() string {
	return fmt.Sprintf("Sweep (%s): %d target(s), %d scanned, %d created, %d deleted, %d stale, %d orphaned, %d counter(s) reset",
		o.Policy, o.Targets, o.Scanned, o.Created, o.Deleted, o.Stale, o.Orphaned, o.CountersReset)
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reconciliation pass",
		Long: `Compare the pending like sets in the ephemeral store with the database
and write whatever the queues lost. The policy comes from reconcile.policy.

Exit codes:
  0 - Sweep completed
  1 - One or more targets failed and were kept for the next pass
  2 - Command error

Example:
  kudos sweep --config kudos.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			svc, err := rootOpts.openService(cmd, f)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.Sweeper.Sweep(commandContext(cmd))
			if err != nil {
				return f.fail(ExitFailure, CodeBackend, "sweep incomplete", err)
			}
			return f.Success(newSweepOutput(svc.Sweeper.Policy(), report))
		},
	}
	return cmd
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kudos/internal/harness"
)

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trace <scenario-file>",
		Short: "Run one scenario and print its trace",
		Long: `Run a scenario against a fresh in-memory pipeline and print every step
with its arguments and result. With --format json the output is the same
snapshot that golden files hold.

Example:
  kudos trace ./scenarios/like_notifies_owner.yaml
  kudos trace ./scenarios/feed_pages_never_repeat.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			scenario, err := harness.LoadScenario(args[0])
			if err != nil {
				return f.fail(ExitCommandError, CodeConfig, "failed to load scenario", err)
			}
			result, err := harness.Run(commandContext(cmd), scenario)
			if err != nil {
				return f.fail(ExitCommandError, CodeBackend, "failed to run scenario", err)
			}

			if f.Format == "json" {
				if err := f.Success(harness.TraceSnapshot{ScenarioName: scenario.Name, Trace: result.Trace}); err != nil {
					return err
				}
			} else {
				printTrace(f.Writer, scenario, result)
			}

			if !result.Pass {
				return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
			}
			return nil
		},
	}
	return cmd
}

func printTrace(w io.Writer, scenario *harness.Scenario, result *harness.Result) {
	fmt.Fprintf(w, "Scenario: %s\n", scenario.Name)
	fmt.Fprintf(w, "  %s\n\n", scenario.Description)
	for _, ev := range result.Trace {
		fmt.Fprintf(w, "[%d] %s %s\n", ev.Seq, ev.Step, compactJSON(ev.Args))
		if ev.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", ev.Error)
			continue
		}
		fmt.Fprintf(w, "    => %s\n", compactJSON(ev.Result))
	}
	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "✗ %s\n", e)
		}
		return
	}
	fmt.Fprintln(w, "\n✓ passed")
}

func compactJSON(v map[string]any) string {
	if len(v) == 0 {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

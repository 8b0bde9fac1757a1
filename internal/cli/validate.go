package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/kudos/internal/config"
	"github.com/roach88/kudos/internal/reconcile"
)

// ValidateOutput is the result of the validate command.
type ValidateOutput struct {
	Source    string    `json:"source"`
	Backend   string    `json:"backend"`
	Database  string    `json:"database"`
	Policy    string    `json:"policy"`
	Schedule  string    `json:"schedule"`
	NextSweep time.Time `json:"next_sweep"`
	Effective string    `json:"effective"`
}

func (o ValidateOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Config valid (%s)\n", o.Source)
	fmt.Fprintf(&b, "  backend:    %s\n", o.Backend)
	fmt.Fprintf(&b, "  database:   %s\n", o.Database)
	fmt.Fprintf(&b, "  policy:     %s\n", o.Policy)
	fmt.Fprintf(&b, "  next sweep: %s\n", o.NextSweep.Format(time.RFC3339))
	b.WriteString("\n")
	b.WriteString(strings.TrimRight(o.Effective, "\n"))
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		Long: `Load the config file named by --config, apply KUDOS_* environment
overrides, check the result against the schema and print the effective
configuration.

Example:
  kudos validate --config kudos.yaml
  kudos validate --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd, time.Now())
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command, now time.Time) error {
	f := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return f.fail(ExitFailure, CodeConfig, "invalid config", err)
	}
	logger, err := opts.newLogger(cmd, cfg)
	if err != nil {
		return f.fail(ExitFailure, CodeConfig, "invalid config", err)
	}
	policy, err := reconcile.ParsePolicy(cfg.Reconcile.Policy)
	if err != nil {
		return f.fail(ExitFailure, CodeConfig, "invalid config", err)
	}
	scheduler, err := reconcile.NewScheduler(nil, cfg.Reconcile.Schedule, logger)
	if err != nil {
		return f.fail(ExitFailure, CodeConfig, "invalid config", err)
	}
	effective, err := yaml.Marshal(cfg)
	if err != nil {
		return f.fail(ExitCommandError, CodeConfig, "failed to encode config", err)
	}

	return f.Success(ValidateOutput{
		Source:    configSource(opts.Config),
		Backend:   backendName(cfg),
		Database:  cfg.Database.Path,
		Policy:    string(policy),
		Schedule:  cfg.Reconcile.Schedule,
		NextSweep: scheduler.Next(now),
		Effective: string(effective),
	})
}

func configSource(path string) string {
	if path == "" {
		return "defaults"
	}
	return path
}

func backendName(cfg config.Config) string {
	if cfg.Redis.Enabled() {
		return "redis " + cfg.Redis.Addr
	}
	return "memory"
}

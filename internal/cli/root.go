package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/kudos/internal/config"
	"github.com/roach88/kudos/internal/service"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // path to the YAML config file, empty for defaults

	// ServiceOptions are passed to every service the commands build
	// (for testing).
	ServiceOptions []service.Option

	// LookupEnv replaces os.LookupEnv for KUDOS_* overrides (for testing).
	LookupEnv func(string) (string, bool)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the kudos CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kudos",
		Short: "kudos - engagement event pipeline",
		Long: `Likes, follows and comments are acknowledged in a fast ephemeral store,
queued per kind, written to SQLite in batches by background workers, and
repaired by a periodic reconciliation sweep.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLikeCommand(opts))
	cmd.AddCommand(NewFollowCommand(opts))
	cmd.AddCommand(NewCommentCommand(opts))
	cmd.AddCommand(NewFeedCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) loadConfig() (config.Config, error) {
	var loadOpts []config.LoadOption
	if o.LookupEnv != nil {
		loadOpts = append(loadOpts, config.WithLookupEnv(o.LookupEnv))
	}
	return config.Load(o.Config, loadOpts...)
}

// newLogger writes to stderr so JSON output on stdout stays parseable.
func (o *RootOptions) newLogger(cmd *cobra.Command, cfg config.Config) (*logrus.Logger, error) {
	logger, err := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	if o.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger, nil
}

// openService loads the config and builds the pipeline. Failures are
// reported through f and returned as ExitCommandError.
func (o *RootOptions) openService(cmd *cobra.Command, f *OutputFormatter) (*service.Service, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, f.fail(ExitCommandError, CodeConfig, "failed to load config", err)
	}
	logger, err := o.newLogger(cmd, cfg)
	if err != nil {
		return nil, f.fail(ExitCommandError, CodeConfig, "failed to build logger", err)
	}
	svc, err := service.New(cfg, logger, o.ServiceOptions...)
	if err != nil {
		return nil, f.fail(ExitCommandError, CodeBackend, "failed to open pipeline", err)
	}
	if err := svc.Ping(commandContext(cmd)); err != nil {
		svc.Close()
		return nil, f.fail(ExitCommandError, CodeBackend, "redis unreachable", err)
	}
	return svc, nil
}

// commandContext returns the command's context, or Background when the
// command was executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

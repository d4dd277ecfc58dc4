package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/maxgio92/pyrospy/internal/settings"
	"github.com/maxgio92/pyrospy/pkg/cmd/fold"
	"github.com/maxgio92/pyrospy/pkg/cmd/options"
	"github.com/maxgio92/pyrospy/pkg/cmd/run"
	"github.com/maxgio92/pyrospy/pkg/cmd/status"
	"github.com/maxgio92/pyrospy/pkg/cmd/stop"
	"github.com/maxgio92/pyrospy/pkg/cmd/wait"
)

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   settings.CmdName,
		Short: fmt.Sprintf("%s is a sampling profiler agent", settings.CmdName),
		Long: fmt.Sprintf(`
%s samples the stack traces of a running process, aggregates them into folded profiles
and ships them to a Pyroscope-compatible collector on a fixed cadence.
`, settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}
	cmd.PersistentFlags().String(options.LogLevelFlag, options.DefaultLogLevel, "Log level (trace, debug, info, warn, error, fatal, panic)")

	cmd.AddCommand(run.NewCommand(o.CommonOptions))
	cmd.AddCommand(fold.NewCommand(o.CommonOptions))
	cmd.AddCommand(status.NewCommand(o.CommonOptions))
	cmd.AddCommand(stop.NewCommand(o.CommonOptions))
	cmd.AddCommand(wait.NewCommand(o.CommonOptions))

	return cmd
}

// Execute runs the root command until it returns or a termination signal
// is received. It is called by main.main().
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	opts := NewOptions(
		WithContext(ctx),
		WithLogger(logger),
	)

	if err := NewCommand(opts).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

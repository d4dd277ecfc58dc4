package wait

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/maxgio92/pyrospy/internal/settings"
	"github.com/maxgio92/pyrospy/pkg/cmd/options"
	"github.com/maxgio92/pyrospy/pkg/healthcheck"
)

const CmdName = "wait"

type Options struct {
	socketPath string
	timeout    time.Duration

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{CommonOptions: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Wait for the %s agent to be profiling", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.HealthCheckSockPath, fmt.Sprintf("Path to the %s socket file", settings.CmdName))
	cmd.Flags().DurationVar(&o.timeout, "timeout", time.Second*120, "Timeout")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.SetupLogger(cmd, CmdName); err != nil {
		return err
	}

	o.Logger.Info().Msg("waiting for the agent to be ready")
	if err := healthcheck.Wait(o.Context(), o.socketPath, o.timeout, o.Logger); err != nil {
		return err
	}
	o.Logger.Info().Msg("agent is ready")

	return nil
}

package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maxgio92/pyrospy/internal/settings"
	"github.com/maxgio92/pyrospy/pkg/cmd/common"
	"github.com/maxgio92/pyrospy/pkg/cmd/options"
)

const CmdName = "status"

type Options struct {
	pidFile string

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{CommonOptions: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Check the %s daemon status", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}
	cmd.Flags().StringVar(&o.pidFile, "pid-file", settings.PidFile, "Path to the daemon PID file")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.SetupLogger(cmd, CmdName); err != nil {
		return err
	}

	if !common.IsDaemonRunning(o.pidFile) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is not running\n", settings.CmdName)
		return nil
	}

	pid, err := common.ReadPid(o.pidFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is running (PID %d)\n", settings.CmdName, pid)

	return nil
}

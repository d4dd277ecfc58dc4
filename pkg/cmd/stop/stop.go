package stop

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/pyrospy/internal/settings"
	"github.com/maxgio92/pyrospy/pkg/cmd/common"
	"github.com/maxgio92/pyrospy/pkg/cmd/options"
)

const (
	CmdName = "stop"

	pollInterval = 100 * time.Millisecond
)

type Options struct {
	pidFile string
	timeout time.Duration

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{CommonOptions: opts}
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Stop the %s daemon", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		RunE:              o.Run,
	}
	cmd.Flags().StringVar(&o.pidFile, "pid-file", settings.PidFile, "Path to the daemon PID file")
	// The daemon flushes the last window before exiting.
	cmd.Flags().DurationVar(&o.timeout, "timeout", 10*time.Second, "Time to wait for the daemon to exit before killing it")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.SetupLogger(cmd, CmdName); err != nil {
		return err
	}

	pid, err := common.ReadPid(o.pidFile)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "%s not running or PID file not found\n", settings.CmdName)
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, "process not found")
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			os.Remove(o.pidFile)
			fmt.Fprintf(cmd.OutOrStdout(), "%s not running\n", settings.CmdName)
			return nil
		}
		return errors.Wrap(err, "failed to stop daemon")
	}

	for deadline := time.Now().Add(o.timeout); time.Now().Before(deadline); time.Sleep(pollInterval) {
		if !common.IsDaemonRunning(o.pidFile) {
			os.Remove(o.pidFile)
			fmt.Fprintf(cmd.OutOrStdout(), "%s stopped (PID %d)\n", settings.CmdName, pid)
			return nil
		}
	}

	o.Logger.Warn().Int("pid", pid).Msg("daemon did not exit in time")
	if err := process.Kill(); err != nil {
		return errors.Wrap(err, "failed to kill daemon")
	}
	os.Remove(o.pidFile)
	fmt.Fprintf(cmd.OutOrStdout(), "%s force killed (PID %d)\n", settings.CmdName, pid)

	return nil
}

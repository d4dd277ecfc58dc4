package run

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/pyrospy/internal/settings"
	"github.com/maxgio92/pyrospy/pkg/agent"
	"github.com/maxgio92/pyrospy/pkg/cmd/common"
	"github.com/maxgio92/pyrospy/pkg/cmd/options"
	"github.com/maxgio92/pyrospy/pkg/healthcheck"
	"github.com/maxgio92/pyrospy/pkg/ingest"
)

const CmdName = "run"

type Options struct {
	detach bool
	status bool

	session *options.SessionOptions

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{
		session:       options.NewSessionOptions(true),
		CommonOptions: opts,
	}
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Profile a process and ship its profiles to a collector",
		Long: fmt.Sprintf(`
%s %s samples the target process and ingests a folded profile into the collector every report interval.
On termination the last window is flushed before exiting.
`, settings.CmdName, CmdName),
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}

	o.session.AddFlags(cmd.Flags())
	cmd.Flags().BoolVarP(&o.detach, "detach", "d", false, fmt.Sprintf("Run %s as daemon", settings.CmdName))
	cmd.Flags().BoolVar(&o.status, "status", false, "Periodically print a status of the profiling")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.SetupLogger(cmd, CmdName); err != nil {
		return err
	}

	cfg, err := o.session.Resolve(cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	if o.detach {
		return o.daemonize(cmd)
	}

	if err := common.WritePid(settings.PidFile, os.Getpid()); err != nil {
		o.Logger.Warn().Err(err).Msg("failed to write PID file")
	}
	defer os.Remove(settings.PidFile)

	hc := healthcheck.NewServer(settings.HealthCheckSockPath, o.Logger)
	if err := hc.Listen(o.Context()); err != nil {
		return err
	}
	defer hc.Shutdown()

	b, err := cfg.Backend(o.Logger)
	if err != nil {
		return err
	}

	client, err := ingest.NewClient(
		ingest.WithEndpoint(cfg.ServerAddress),
		ingest.WithAuthToken(cfg.AuthToken),
		ingest.WithLogger(o.Logger),
	)
	if err != nil {
		return err
	}

	agentOpts := []agent.Option{
		agent.WithAppName(cfg.ApplicationName),
		agent.WithTags(cfg.Tags),
		agent.WithReportInterval(cfg.ReportInterval),
		agent.WithReadyNotifier(hc.NotifyReadiness),
		agent.WithStatus(o.status),
		agent.WithLogger(o.Logger),
	}
	if cfg.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		agentOpts = append(agentOpts, agent.WithMetrics(reg, cfg.MetricsAddress))
	}

	a, err := agent.New(b, client, agentOpts...)
	if err != nil {
		return err
	}

	if err := a.Run(o.Context()); err != nil {
		return errors.Wrap(err, "profiling failed")
	}

	return nil
}

// daemonize re-executes the command in a new session with the same flags,
// logging to settings.LogFile.
func (o *Options) daemonize(cmd *cobra.Command) error {
	if common.IsDaemonRunning(settings.PidFile) {
		fmt.Fprintln(cmd.OutOrStdout(), "Daemon already running")
		return nil
	}

	args := append([]string{CmdName}, o.session.Args(cmd.Flags(), "detach", options.LogLevelFlag)...)
	args = append(args, fmt.Sprintf("--%s=%s", options.LogLevelFlag, o.LogLevel))

	daemon := exec.Command(os.Args[0], args...)
	daemon.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if settings.LogFile != "" {
		f, err := os.OpenFile(settings.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err != nil {
			return errors.Wrap(err, "failed to open log file")
		}
		defer f.Close()
		daemon.Stdout = f
		daemon.Stderr = f
	}

	if err := daemon.Start(); err != nil {
		return errors.Wrapf(err, "failed to start %s", settings.CmdName)
	}

	if err := common.WritePid(settings.PidFile, daemon.Process.Pid); err != nil {
		return errors.Wrap(err, "failed to write PID file")
	}
	o.Logger.Info().Int("pid", daemon.Process.Pid).Str("log", settings.LogFile).Msg("daemon started")

	return nil
}

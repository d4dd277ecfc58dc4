package fold

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/pyrospy/internal/settings"
	"github.com/maxgio92/pyrospy/pkg/backend"
	"github.com/maxgio92/pyrospy/pkg/cmd/options"
	"github.com/maxgio92/pyrospy/pkg/summary"
)

const (
	CmdName = "fold"

	FormatFolded = "folded"
	FormatPprof  = "pprof"

	stdout        = "-"
	drainInterval = time.Second
)

var ErrUnknownFormat = errors.New("unknown output format")

type Options struct {
	duration    time.Duration
	format      string
	output      string
	summaryPath string

	session *options.SessionOptions

	*options.CommonOptions
}

func NewCommand(opts *options.CommonOptions) *cobra.Command {
	o := &Options{
		session:       options.NewSessionOptions(false),
		CommonOptions: opts,
	}
	cmd := &cobra.Command{
		Use:   CmdName,
		Short: "Profile a process for a while and write the profile locally",
		Long: fmt.Sprintf(`
%s %s samples the target process for the given duration and writes the aggregated profile,
in folded or pprof format, without shipping it to a collector.
`, settings.CmdName, CmdName),
		DisableAutoGenTag: true,
		RunE:              o.Run,
	}

	o.session.AddFlags(cmd.Flags())
	cmd.Flags().DurationVar(&o.duration, "duration", 10*time.Second, "Profiling duration")
	cmd.Flags().StringVarP(&o.format, "format", "f", FormatFolded, fmt.Sprintf("Output format (%s, %s)", FormatFolded, FormatPprof))
	cmd.Flags().StringVarP(&o.output, "output", "o", stdout, "Output file, - for stdout")
	cmd.Flags().StringVar(&o.summaryPath, "summary", "", "Write a JSON summary of the session to this file")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.SetupLogger(cmd, CmdName); err != nil {
		return err
	}
	if o.format != FormatFolded && o.format != FormatPprof {
		return errors.Wrapf(ErrUnknownFormat, "%q", o.format)
	}

	cfg, err := o.session.Resolve(cmd.Flags())
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	b, err := cfg.Backend(o.Logger)
	if err != nil {
		return err
	}

	from := time.Now()
	if err := o.profile(o.Context(), b); err != nil {
		return err
	}
	until := time.Now()

	w, closeOutput, err := o.openOutput(cmd)
	if err != nil {
		return err
	}
	defer closeOutput()

	buffer := b.Buffer()
	s := summary.New(
		summary.WithApplication(cfg.ApplicationName),
		summary.WithSpyName(b.SpyName()),
		summary.WithSampleRate(b.SampleRate()),
		summary.WithSamples(buffer.Total(), buffer.Len()),
		summary.WithWindow(from, until),
	)

	switch o.format {
	case FormatPprof:
		err = buffer.WriteProfile(w, b.SampleRate(), from, s.Duration())
	default:
		err = buffer.Fold(w, cfg.ThreadNames)
	}
	if err != nil {
		return errors.Wrap(err, "failed to write profile")
	}

	o.Logger.Info().
		Str("application", s.Application).
		Uint64("samples", s.Samples).
		Int("stacks", s.Stacks).
		Dur("duration", s.Duration()).
		Float64("coverage", s.Coverage()).
		Msg("profile written")

	if o.summaryPath == "" {
		return nil
	}

	return o.writeSummary(s)
}

// profile runs the backend for the configured duration, draining the
// sampler into the backend buffer periodically.
func (o *Options) profile(ctx context.Context, b *backend.Sampling) error {
	if err := b.Initialize(); err != nil {
		return errors.Wrap(err, "failed to initialize backend")
	}
	defer b.Close()

	if err := b.Start(); err != nil {
		return errors.Wrap(err, "failed to start backend")
	}

	ctx, cancel := context.WithTimeout(ctx, o.duration)
	defer cancel()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if _, err := b.StopAndDrain(); err != nil {
				return errors.Wrap(err, "failed to collect profile")
			}
			return nil
		case <-ticker.C:
			if _, err := b.Drain(); err != nil {
				return errors.Wrap(err, "failed to collect profile")
			}
		}
	}
}

func (o *Options) openOutput(cmd *cobra.Command) (io.Writer, func(), error) {
	if o.output == stdout {
		return cmd.OutOrStdout(), func() {}, nil
	}

	f, err := os.Create(o.output)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create output file")
	}

	return f, func() { f.Close() }, nil
}

func (o *Options) writeSummary(s *summary.Summary) error {
	f, err := os.Create(o.summaryPath)
	if err != nil {
		return errors.Wrap(err, "failed to create summary file")
	}
	defer f.Close()

	if err := s.WriteSummary(f); err != nil {
		return errors.Wrap(err, "failed to write summary")
	}

	return nil
}

package options

import (
	"fmt"
	"sort"

	"github.com/spf13/pflag"

	"github.com/maxgio92/pyrospy/pkg/config"
)

const ConfigFlag = "config"

// SessionOptions binds the profiling settings to command line flags.
// Flags set explicitly override the config file, which overrides the
// defaults.
type SessionOptions struct {
	ConfigPath string

	flags  *config.Config
	ingest bool
}

// NewSessionOptions returns the options of a session. With ingest, the
// collector settings are bound too and the application name is required.
func NewSessionOptions(ingest bool) *SessionOptions {
	return &SessionOptions{
		flags:  config.Default(),
		ingest: ingest,
	}
}

func (s *SessionOptions) AddFlags(fs *pflag.FlagSet) {
	f := s.flags

	fs.StringVarP(&s.ConfigPath, ConfigFlag, "c", "", "Path to a YAML config file")
	fs.IntVarP(&f.Pid, "pid", "p", f.Pid, "PID of the process to profile")
	fs.Uint32VarP(&f.SampleRate, "sample-rate", "r", f.SampleRate, "Samples per second")
	fs.BoolVar(&f.LockProcess, "lock-process", f.LockProcess, "Stop the process while it is sampled")
	fs.DurationVar(&f.TimeLimit, "time-limit", f.TimeLimit, "Stop sampling after this duration, 0 for no limit")
	fs.BoolVar(&f.WithSubprocesses, "with-subprocesses", f.WithSubprocesses, "Sample the descendants of the process too")
	fs.BoolVar(&f.ThreadNames, "thread-names", f.ThreadNames, "Prefix stacks with the thread name")
	fs.StringVar(&f.Spy, "spy", f.Spy, "Sampling technique (procspy, gospy)")
	fs.StringVarP(&f.ApplicationName, "application-name", "n", f.ApplicationName, "Application name the profiles belong to")

	if !s.ingest {
		return
	}
	fs.StringToStringVarP(&f.Tags, "tag", "t", f.Tags, "Tag the profiles with key=value")
	fs.StringVarP(&f.ServerAddress, "server-address", "s", f.ServerAddress, "Address of the collector")
	fs.StringVar(&f.AuthToken, "auth-token", f.AuthToken, "Bearer token for the collector")
	fs.DurationVar(&f.ReportInterval, "report-interval", f.ReportInterval, "Interval between reports")
	fs.StringVar(&f.MetricsAddress, "metrics-address", f.MetricsAddress, "Serve the agent metrics on this address")
}

// Resolve merges the config file and the flags set in fs.
func (s *SessionOptions) Resolve(fs *pflag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if s.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(s.ConfigPath); err != nil {
			return nil, err
		}
	}

	f := s.flags
	fs.Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "pid":
			cfg.Pid = f.Pid
		case "sample-rate":
			cfg.SampleRate = f.SampleRate
		case "lock-process":
			cfg.LockProcess = f.LockProcess
		case "time-limit":
			cfg.TimeLimit = f.TimeLimit
		case "with-subprocesses":
			cfg.WithSubprocesses = f.WithSubprocesses
		case "thread-names":
			cfg.ThreadNames = f.ThreadNames
		case "spy":
			cfg.Spy = f.Spy
		case "application-name":
			cfg.ApplicationName = f.ApplicationName
		case "tag":
			cfg.Tags = f.Tags
		case "server-address":
			cfg.ServerAddress = f.ServerAddress
		case "auth-token":
			cfg.AuthToken = f.AuthToken
		case "report-interval":
			cfg.ReportInterval = f.ReportInterval
		case "metrics-address":
			cfg.MetricsAddress = f.MetricsAddress
		}
	})

	if err := cfg.Validate(s.ingest); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Args renders the flags set in fs back to command line arguments, to
// re-execute a command with the same settings.
func (s *SessionOptions) Args(fs *pflag.FlagSet, skip ...string) []string {
	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	var args []string
	fs.Visit(func(flag *pflag.Flag) {
		switch {
		case skipped[flag.Name]:
		case flag.Name == "tag":
			keys := make([]string, 0, len(s.flags.Tags))
			for k := range s.flags.Tags {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				args = append(args, fmt.Sprintf("--tag=%s=%s", k, s.flags.Tags[k]))
			}
		default:
			args = append(args, fmt.Sprintf("--%s=%s", flag.Name, flag.Value.String()))
		}
	})

	return args
}

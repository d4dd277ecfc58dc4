// Package config holds the settings of a profiling session, as read from
// a YAML file and overridden by command line flags.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/maxgio92/pyrospy/pkg/backend"
	"github.com/maxgio92/pyrospy/pkg/sampler"
	"github.com/maxgio92/pyrospy/pkg/sampler/goroutine"
	"github.com/maxgio92/pyrospy/pkg/sampler/procfs"
)

const (
	DefaultServerAddress = "http://localhost:4040"
	DefaultSpy           = procfs.SpyName
)

type Config struct {
	Pid              int               `yaml:"pid"`
	SampleRate       uint32            `yaml:"sample_rate"`
	LockProcess      bool              `yaml:"lock_process"`
	TimeLimit        time.Duration     `yaml:"time_limit"`
	WithSubprocesses bool              `yaml:"with_subprocesses"`
	ApplicationName  string            `yaml:"application_name"`
	Tags             map[string]string `yaml:"tags"`
	ServerAddress    string            `yaml:"server_address"`
	AuthToken        string            `yaml:"auth_token"`
	ReportInterval   time.Duration     `yaml:"report_interval"`
	ThreadNames      bool              `yaml:"thread_names"`
	Spy              string            `yaml:"spy"`
	MetricsAddress   string            `yaml:"metrics_address"`
}

// Default returns a configuration with every optional setting at its
// default value.
func Default() *Config {
	return &Config{
		SampleRate:     backend.DefaultSampleRate,
		ServerAddress:  DefaultServerAddress,
		ReportInterval: 10 * time.Second,
		Spy:            DefaultSpy,
	}
}

// Load reads the YAML file at path on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config file")
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}

	return cfg, nil
}

// Decode reads a YAML document on top of the defaults. Unknown keys are
// rejected.
func Decode(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return cfg, nil
}

// Validate checks the settings needed to run a session. Profiling only
// commands skip the ingestion settings with ingest false.
func (c *Config) Validate(ingest bool) error {
	if c.Pid <= 0 {
		return ErrMissingTarget
	}
	if c.SampleRate == 0 {
		return ErrInvalidSampleRate
	}
	if c.TimeLimit < 0 {
		return ErrNegativeTimeLimit
	}
	if _, err := c.SamplerFactory(log.Nop()); err != nil {
		return err
	}
	if !ingest {
		return nil
	}
	if c.ApplicationName == "" {
		return ErrNoAppName
	}
	if c.ServerAddress == "" {
		return ErrNoServerAddress
	}
	if c.ReportInterval <= 0 {
		return ErrInvalidInterval
	}

	return nil
}

// SamplerFactory returns the factory of the configured spy.
func (c *Config) SamplerFactory(logger log.Logger) (sampler.Factory, error) {
	switch c.Spy {
	case procfs.SpyName:
		return procfs.Factory(procfs.WithLogger(logger)), nil
	case goroutine.SpyName:
		return goroutine.Factory(goroutine.WithLogger(logger)), nil
	default:
		return nil, errors.Wrapf(ErrUnknownSpy, "%q", c.Spy)
	}
}

// Backend builds the sampling backend described by the configuration.
func (c *Config) Backend(logger log.Logger) (*backend.Sampling, error) {
	factory, err := c.SamplerFactory(logger)
	if err != nil {
		return nil, err
	}

	return backend.New(c.Spy, factory,
		backend.WithPid(c.Pid),
		backend.WithSampleRate(c.SampleRate),
		backend.WithLockProcess(c.LockProcess),
		backend.WithTimeLimit(c.TimeLimit),
		backend.WithSubprocesses(c.WithSubprocesses),
		backend.WithThreadNames(c.ThreadNames),
		backend.WithLogger(logger),
	), nil
}

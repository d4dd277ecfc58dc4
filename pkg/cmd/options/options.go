package options

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	LogLevelFlag    = "log-level"
	DefaultLogLevel = "info"
)

type CommonOptions struct {
	Ctx      context.Context
	Logger   log.Logger
	LogLevel string
}

// SetupLogger applies the persistent log level to the logger, tagging it
// with component.
func (o *CommonOptions) SetupLogger(cmd *cobra.Command, component string) error {
	var err error
	o.LogLevel, err = cmd.Flags().GetString(LogLevelFlag)
	if err != nil {
		return errors.Wrap(err, "failed to get log level")
	}

	level, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", o.LogLevel)
	}
	o.Logger = o.Logger.Level(level).With().Str("component", component).Logger()

	return nil
}

func (o *CommonOptions) Context() context.Context {
	if o.Ctx == nil {
		return context.Background()
	}
	return o.Ctx
}

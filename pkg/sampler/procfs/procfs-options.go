package procfs

import (
	log "github.com/rs/zerolog"
)

type Option func(*Sampler)

// WithProcRoot sets the mount point of procfs.
func WithProcRoot(root string) Option {
	return func(s *Sampler) {
		s.procRoot = root
	}
}

func WithLogger(logger log.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// Package goroutine implements a sampler of the goroutine stacks of the
// running process, for self profiling.
package goroutine

import (
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"

	"github.com/maxgio92/pyrospy/pkg/sampler"
)

const (
	SpyName = "gospy"

	// Stacks of the sampler itself are left out of the profile.
	ownPackage = "github.com/maxgio92/pyrospy/pkg/sampler/goroutine."
)

var (
	ErrForeignProcess = errors.New("goroutine sampler can only sample its own process")
	ErrAlreadyStarted = errors.New("sampler already started")
)

type Option func(*Sampler)

func WithLogger(logger log.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

type Sampler struct {
	cfg    sampler.Config
	logger log.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg sampler.Config, opts ...Option) *Sampler {
	s := &Sampler{
		cfg:    cfg,
		logger: log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", SpyName).Logger()

	return s
}

func Factory(opts ...Option) sampler.Factory {
	return func(cfg sampler.Config) sampler.Sampler {
		return New(cfg, opts...)
	}
}

func (s *Sampler) Start(traces chan<- *sampler.StackTrace, errs sampler.ErrorSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh != nil {
		return ErrAlreadyStarted
	}
	if s.cfg.Pid != os.Getpid() {
		return errors.Wrapf(ErrForeignProcess, "pid %d", s.cfg.Pid)
	}
	if s.cfg.LockProcess || s.cfg.WithSubprocesses {
		s.logger.Debug().Msg("process locking and subprocesses are not supported, ignoring")
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run(traces, errs, s.stopCh, s.doneCh)

	return nil
}

func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.doneCh = nil
}

func (s *Sampler) run(traces chan<- *sampler.StackTrace, errs sampler.ErrorSink, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.cfg.TimeLimit > 0 {
		timer := time.NewTimer(s.cfg.TimeLimit)
		defer timer.Stop()
		deadline = timer.C
	}

	pid := os.Getpid()
	for {
		select {
		case <-stop:
			return
		case <-deadline:
			return
		case <-ticker.C:
			records, err := goroutineProfile()
			if err != nil {
				errs.Send(err)
				continue
			}
			for _, record := range records {
				frames := resolve(record.Stack())
				if frames == nil {
					continue
				}
				select {
				case traces <- &sampler.StackTrace{Pid: &pid, Frames: frames}:
				case <-stop:
					return
				}
			}
		}
	}
}

func goroutineProfile() ([]runtime.StackRecord, error) {
	records := make([]runtime.StackRecord, runtime.NumGoroutine()+16)
	// The number of goroutines may grow between the two calls.
	for i := 0; i < 3; i++ {
		n, ok := runtime.GoroutineProfile(records)
		if ok {
			return records[:n], nil
		}
		records = make([]runtime.StackRecord, n+16)
	}

	return nil, errors.New("error taking goroutine profile: too many goroutines")
}

// resolve symbolizes program counters, innermost first. It returns nil
// for the stacks of the sampler itself.
func resolve(pcs []uintptr) []sampler.StackFrame {
	if len(pcs) == 0 {
		return nil
	}

	var result []sampler.StackFrame
	frames := runtime.CallersFrames(pcs)
	for {
		frame, more := frames.Next()
		if strings.HasPrefix(frame.Function, ownPackage) {
			return nil
		}
		file := frame.File
		result = append(result, sampler.StackFrame{
			Name:         frame.Function,
			RelativePath: relative(file),
			AbsolutePath: &file,
			Lineno:       uint32(frame.Line),
		})
		if !more {
			break
		}
	}

	return result
}

// relative trims the file path to its last two elements, which is what
// Go tooling shows for most frames.
func relative(file string) string {
	i := strings.LastIndexByte(file, '/')
	if i <= 0 {
		return file
	}
	if j := strings.LastIndexByte(file[:i], '/'); j >= 0 {
		return file[j+1:]
	}
	return file
}

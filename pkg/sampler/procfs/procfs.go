// Package procfs implements a sampler of the kernel stacks of the threads
// of a process, as exposed by /proc/<pid>/task/<tid>/stack.
package procfs

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"

	"github.com/maxgio92/pyrospy/pkg/sampler"
)

const (
	SpyName = "procspy"

	defaultProcRoot = "/proc"
)

type Sampler struct {
	cfg      sampler.Config
	procRoot string
	logger   log.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(cfg sampler.Config, opts ...Option) *Sampler {
	s := &Sampler{
		cfg:      cfg,
		procRoot: defaultProcRoot,
		logger:   log.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", SpyName).Int("pid", cfg.Pid).Logger()

	return s
}

// Factory returns a sampler.Factory building procfs samplers with the
// given options.
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
	if s.cfg.Pid <= 0 {
		return ErrNoPid
	}

	exists, err := process.PidExists(int32(s.cfg.Pid))
	if err != nil {
		return errors.Wrapf(err, "error looking up process %d", s.cfg.Pid)
	}
	if !exists {
		return errors.Wrapf(ErrProcessNotFound, "pid %d", s.cfg.Pid)
	}

	// Fail fast when the stacks are not readable, e.g. without
	// CAP_SYS_ADMIN.
	if _, err := os.ReadFile(s.stackPath(s.cfg.Pid, s.cfg.Pid)); err != nil {
		return errors.Wrapf(err, "error reading stack of process %d", s.cfg.Pid)
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Debug().
		Uint32("sample_rate", s.cfg.SampleRate).
		Bool("lock_process", s.cfg.LockProcess).
		Bool("with_subprocesses", s.cfg.WithSubprocesses).
		Dur("time_limit", s.cfg.TimeLimit).
		Msg("starting sampler")

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

	s.logger.Debug().Msg("sampler stopped")
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

	for {
		select {
		case <-stop:
			return
		case <-deadline:
			s.logger.Debug().Msg("time limit reached")
			return
		case <-ticker.C:
			if !s.sample(traces, errs, stop) {
				return
			}
		}
	}
}

// sample takes one sample of every target thread. It returns false when
// sampling must end.
func (s *Sampler) sample(traces chan<- *sampler.StackTrace, errs sampler.ErrorSink, stop chan struct{}) bool {
	exists, err := process.PidExists(int32(s.cfg.Pid))
	if err == nil && !exists {
		errs.Send(errors.Wrapf(ErrProcessExited, "pid %d", s.cfg.Pid))
		return false
	}

	for _, pid := range s.targets(errs) {
		for _, trace := range s.sampleProcess(pid, errs) {
			select {
			case traces <- trace:
			case <-stop:
				return false
			}
		}
	}

	return true
}

// targets returns the target pid followed by its descendants, when
// subprocesses are sampled.
func (s *Sampler) targets(errs sampler.ErrorSink) []int {
	pids := []int{s.cfg.Pid}
	if !s.cfg.WithSubprocesses {
		return pids
	}

	proc, err := process.NewProcess(int32(s.cfg.Pid))
	if err != nil {
		errs.Send(errors.Wrap(err, "error looking up target process"))
		return pids
	}

	queue := []*process.Process{proc}
	for len(queue) > 0 {
		children, err := queue[0].Children()
		queue = queue[1:]
		if err != nil {
			// gopsutil reports a childless process as an error.
			if !errors.Is(err, process.ErrorNoChildren) {
				errs.Send(errors.Wrap(err, "error listing subprocesses"))
			}
			continue
		}
		for _, child := range children {
			pids = append(pids, int(child.Pid))
			queue = append(queue, child)
		}
	}

	return pids
}

// sampleProcess reads the stacks of all the threads of the process. The
// traces are sent only after the process is resumed, so that a full
// channel never keeps a locked process stopped.
func (s *Sampler) sampleProcess(pid int, errs sampler.ErrorSink) []*sampler.StackTrace {
	if s.cfg.LockProcess {
		if err := unix.Kill(pid, unix.SIGSTOP); err != nil {
			errs.Send(errors.Wrapf(err, "error locking process %d", pid))
			return nil
		}
		defer func() {
			if err := unix.Kill(pid, unix.SIGCONT); err != nil {
				errs.Send(errors.Wrapf(err, "error unlocking process %d", pid))
			}
		}()
	}

	tids, err := s.threads(pid)
	if err != nil {
		errs.Send(errors.Wrapf(err, "error listing threads of process %d", pid))
		return nil
	}

	traces := make([]*sampler.StackTrace, 0, len(tids))
	for _, tid := range tids {
		data, err := os.ReadFile(s.stackPath(pid, tid))
		if err != nil {
			// The thread may have exited in the meantime.
			if !errors.Is(err, os.ErrNotExist) {
				errs.Send(errors.Wrapf(err, "error reading stack of thread %d", tid))
			}
			continue
		}

		pid, tid := pid, tid
		trace := &sampler.StackTrace{
			Pid:      &pid,
			ThreadID: &tid,
			Frames:   ParseStack(data),
		}
		if comm, err := os.ReadFile(filepath.Join(s.taskPath(pid), strconv.Itoa(tid), "comm")); err == nil {
			name := strings.TrimSpace(string(comm))
			trace.ThreadName = &name
		}
		traces = append(traces, trace)
	}

	return traces
}

func (s *Sampler) threads(pid int) ([]int, error) {
	entries, err := os.ReadDir(s.taskPath(pid))
	if err != nil {
		return nil, err
	}

	tids := make([]int, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}

	return tids, nil
}

func (s *Sampler) taskPath(pid int) string {
	return filepath.Join(s.procRoot, strconv.Itoa(pid), "task")
}

func (s *Sampler) stackPath(pid, tid int) string {
	return filepath.Join(s.taskPath(pid), strconv.Itoa(tid), "stack")
}

// ParseStack parses the content of a /proc stack file, whose lines look
// like:
//
//	[<0>] ext4_file_read_iter+0x4a/0x1a0 [ext4]
//
// Frames are returned innermost first, as the kernel writes them.
func ParseStack(data []byte) []sampler.StackFrame {
	var frames []sampler.StackFrame

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Drop the address, masked as [<0>] to unprivileged readers.
		if strings.HasPrefix(line, "[<") {
			if i := strings.Index(line, "]"); i >= 0 {
				line = strings.TrimSpace(line[i+1:])
			}
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		name := fields[0]
		if i := strings.IndexByte(name, '+'); i > 0 {
			name = name[:i]
		}
		frame := sampler.StackFrame{Name: name}
		if len(fields) > 1 && strings.HasPrefix(fields[1], "[") && strings.HasSuffix(fields[1], "]") {
			module := strings.Trim(fields[1], "[]")
			frame.Module = &module
		}
		frames = append(frames, frame)
	}

	return frames
}

// Package common holds the daemon bookkeeping shared by the commands.
package common

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

var ErrInvalidPidFile = errors.New("invalid PID file")

// ReadPid returns the PID stored in pidFile.
func ReadPid(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.Wrapf(ErrInvalidPidFile, "%s", pidFile)
	}

	return pid, nil
}

// WritePid stores pid in pidFile.
func WritePid(pidFile string, pid int) error {
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644)
}

// IsDaemonRunning reports whether the process in pidFile is alive.
func IsDaemonRunning(pidFile string) bool {
	pid, err := ReadPid(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}

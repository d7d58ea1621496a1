// Package daemonlife implements the Daemon Lifecycle (spec.md §4.6):
// determining whether a daemon is already running via a pid file and a
// signal-zero liveness probe, starting one (directly or via a detaching
// Daemonizer), and stopping one by signaling its pid.
package daemonlife

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/ryym/locald/internal/config"
)

// IsRunning reports whether a daemon described by cfg is currently
// alive (spec.md §4.6): the pid file must exist, contain a valid
// integer, and signal 0 must be deliverable to that pid.
func IsRunning(cfg *config.DaemonConfig) bool {
	pid, err := readPID(cfg.PidPath)
	if err != nil {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

func readPID(pidPath string) (int, error) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("daemonlife: malformed pid file %s: %w", pidPath, err)
	}
	return pid, nil
}

// Daemonizer detaches the current process and runs entry in the
// background, recording its pid at pidPath. It is an external
// collaborator per spec.md §1; the core only depends on this interface.
type Daemonizer interface {
	Daemonize(appName, pidPath string, entry func() error) error
}

// EnsureStarted starts the daemon described by cfg if it is not already
// running (spec.md §4.6 ensure_started). When noDaemonize is true, the
// current process writes its own pid and runs entry in the foreground,
// best-effort removing the pid file on exit (normal or exceptional).
// Otherwise entry is handed to the Daemonizer.
func EnsureStarted(cfg *config.DaemonConfig, noDaemonize bool, daemonizer Daemonizer, entry func() error) error {
	if IsRunning(cfg) {
		return nil
	}

	if noDaemonize {
		if err := os.WriteFile(cfg.PidPath, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			return fmt.Errorf("daemonlife: write pid file: %w", err)
		}
		defer os.Remove(cfg.PidPath)

		return entry()
	}

	return daemonizer.Daemonize("locald", cfg.PidPath, entry)
}

// Stop sends SIGINT to the pid recorded in cfg's pid file (spec.md
// §4.6 stop). It reports false when the pid file is missing or the
// signal could not be delivered; it does not wait for the daemon to
// actually exit.
func Stop(cfg *config.DaemonConfig) bool {
	pid, err := readPID(cfg.PidPath)
	if err != nil {
		return false
	}
	return syscall.Kill(pid, syscall.SIGINT) == nil
}

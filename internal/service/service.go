// Package service implements the Service record: a per-child-process state
// machine that owns at most one live child process at a time (spec.md
// §3, §4.1).
package service

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/ryym/locald/internal/config"
)

// State is one of the externally-visible service states (spec.md §3, §9).
type State string

const (
	// StateNotStarted is the state of a Service record that has never
	// had a child spawned.
	StateNotStarted State = "NOT_STARTED"
	// StateRunning means the child process is alive.
	StateRunning State = "RUNNING"
	// StateStopped means the most recent exit was caused by the engine
	// (a stop or restart request).
	StateStopped State = "STOPPED"
	// StateDead means the most recent exit was unexpected (spec.md §9's
	// resolved deviation: this is reported distinctly from STOPPED).
	StateDead State = "DEAD"
)

// Service is a runtime entity: one per configured service that has ever
// been referenced by a start request.
type Service struct {
	mu sync.Mutex

	Name   string
	config *config.ServiceConfig

	cmd *exec.Cmd

	hasEverStarted bool
	deadSince      *time.Time
	wasKilled      bool
}

// New creates a Service bound to the given configuration. Service records
// are lazily created on first start request and retained for the lifetime
// of the daemon (spec.md §3 Lifecycle).
func New(cfg *config.ServiceConfig) *Service {
	return &Service{
		Name:   cfg.Name,
		config: cfg,
	}
}

// Config returns the service's bound configuration.
func (s *Service) Config() *config.ServiceConfig {
	return s.config
}

// Start spawns the child process if one is not already alive. No-op if a
// child is already running.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return nil
	}

	var logFile *os.File
	if s.config.LogPath != "" {
		f, err := os.OpenFile(s.config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("service %s: open log file: %w", s.Name, err)
		}
		logFile = f
	}

	cmd := exec.Command(s.config.Command[0], s.config.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return fmt.Errorf("service %s: spawn: %w", s.Name, err)
	}

	// The child inherited the log file descriptor at fork/exec time; the
	// parent's copy is closed immediately and never revisited (spec.md
	// §9's resolved log-handle-ownership deviation).
	if logFile != nil {
		logFile.Close()
	}

	s.cmd = cmd
	s.hasEverStarted = true
	s.deadSince = nil
	s.wasKilled = false

	return nil
}

// Kill sends SIGKILL to the child and every descendant process in its tree.
// No-op if no child is alive. The exit is not awaited here; it is observed
// by the next Tend call.
func (s *Service) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return
	}

	killTree(s.cmd.Process.Pid)
	s.wasKilled = true
}

// Restart is equivalent to Kill followed by Start, except that wasKilled
// remains true across the kill and is cleared only by the subsequent
// spawn (spec.md §4.1). Unlike the normal kill-then-tend path, nothing
// else is going to poll the old child's exit here, so Restart reaps it
// itself before dropping the reference; otherwise the killed process
// would linger as a zombie for the daemon's lifetime.
func (s *Service) Restart() error {
	s.mu.Lock()
	var oldPID int
	if s.cmd != nil && s.cmd.Process != nil {
		oldPID = s.cmd.Process.Pid
	}
	s.mu.Unlock()

	s.Kill()

	if oldPID != 0 {
		reapPID(oldPID)
	}

	// The exit has not been observed yet (no Tend has run), so cmd is
	// still non-nil; Start's "already running" guard only checks that,
	// so we must clear it here to force a fresh spawn.
	s.mu.Lock()
	s.cmd = nil
	s.mu.Unlock()

	return s.Start()
}

// reapPID blocks, within a bounded number of attempts, until pid has
// been reaped (SIGKILL is not blockable, so the child should become
// reapable almost immediately). If it gives up after the bound, the pid
// stays unreaped: nothing else in this package waits on it afterwards,
// since Tend only polls the current child's pid.
func reapPID(pid int) {
	var ws syscall.WaitStatus
	for i := 0; i < 100; i++ {
		p, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if p == pid || err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Tend performs a single-step state progression: it polls whether the
// child has exited (non-blocking) and, if a restart is due, starts a new
// child (spec.md §4.1).
func (s *Service) Tend(now time.Time) {
	s.mu.Lock()

	if s.cmd != nil {
		exited, _ := s.pollExited()
		if exited {
			killed := s.wasKilled
			s.cmd = nil
			if !killed {
				t := now
				s.deadSince = &t
			}
		}
	}

	shouldRestart := false
	if s.cmd == nil && s.deadSince != nil && s.config.Restart == config.RestartAlways {
		deadline := s.deadSince.Add(time.Duration(s.config.RestartSeconds) * time.Second)
		if !now.Before(deadline) {
			shouldRestart = true
		}
	}
	s.mu.Unlock()

	if shouldRestart {
		// Start acquires its own lock; errors surface on the next
		// manual start attempt and are otherwise swallowed here, same
		// as spawn failures during supervised restarts upstream.
		_ = s.Start()
	}
}

// pollExited performs a non-blocking wait on the child. Caller must hold
// s.mu.
func (s *Service) pollExited() (exited bool, err error) {
	if s.cmd.Process == nil {
		return true, nil
	}

	var ws syscall.WaitStatus
	pid, err := syscall.Wait4(s.cmd.Process.Pid, &ws, syscall.WNOHANG, nil)
	if err != nil {
		// Already reaped elsewhere, or no such process: best-effort,
		// treat as exited.
		return true, err
	}
	return pid == s.cmd.Process.Pid, nil
}

// IsRunning reports whether a child is currently alive. This checks the
// last state Tend observed rather than polling the pid itself, so an
// exit is visible here only after the next Tend call — within one tend
// cycle, per spec.md §8 property 2 — unlike the original, which polls
// on every status() call for immediate accuracy.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// State returns the externally visible status of the Service (spec.md §3,
// §9). Like IsRunning, this reflects the last state Tend observed, not
// a fresh poll.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return StateRunning
	}
	if !s.hasEverStarted {
		return StateNotStarted
	}
	if s.wasKilled {
		return StateStopped
	}
	if s.deadSince != nil {
		return StateDead
	}
	return StateStopped
}

// PID returns the child's process id, or 0 if no child is alive.
func (s *Service) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// killTree sends SIGKILL to pid and every descendant process it can
// enumerate. Errors (a child already reaped, permission denied) are
// non-fatal: best-effort killing is sufficient (spec.md §4.1).
func killTree(pid int) {
	if proc, err := gopsprocess.NewProcess(int32(pid)); err == nil {
		killDescendants(proc)
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
}

func killDescendants(proc *gopsprocess.Process) {
	children, err := proc.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		killDescendants(child)
		_ = syscall.Kill(int(child.Pid), syscall.SIGKILL)
	}
}

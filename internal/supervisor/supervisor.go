// Package supervisor implements the Supervision Engine: the name-keyed
// registry of Service records that resolves dependency graphs, drives
// restart policy, and fans out shutdown (spec.md §4.2).
package supervisor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ryym/locald/internal/config"
	"github.com/ryym/locald/internal/service"
)

// StatusAll is the sentinel service name expanded to every declared
// service (spec.md GLOSSARY: ALL).
const StatusAll = "ALL"

const (
	statusRunning        = "RUNNING"
	statusStopped        = "STOPPED"
	statusNotStarted     = "NOT_STARTED"
	statusDead           = "DEAD"
	statusUnknownService = "UNKNOWN_SERVICE"
)

// Supervisor is the Supervision Engine. All exported methods are intended
// to be called from a single goroutine of control (spec.md §5); it holds
// its own mutex only so that status queries issued from other goroutines
// (e.g. a CLI-facing debug endpoint) stay safe, not to allow concurrent
// mutation.
type Supervisor struct {
	mu sync.Mutex

	provider config.Provider
	daemon   *config.DaemonConfig
	services map[string]*service.Service
}

// New creates a Supervisor bound to the given Configuration Provider.
func New(provider config.Provider, daemon *config.DaemonConfig) *Supervisor {
	return &Supervisor{
		provider: provider,
		daemon:   daemon,
		services: make(map[string]*service.Service),
	}
}

func (sv *Supervisor) isKnown(name string) bool {
	_, ok := sv.daemon.Services[name]
	return ok
}

// recordFor returns the Service record for name, creating it lazily if
// this is the first reference (spec.md §3 Lifecycle). Caller must hold
// sv.mu.
func (sv *Supervisor) recordFor(name string) (*service.Service, error) {
	if svc, ok := sv.services[name]; ok {
		return svc, nil
	}
	cfg, err := sv.provider.ServiceConfig(name)
	if err != nil {
		return nil, err
	}
	svc := service.New(cfg)
	sv.services[name] = svc
	return svc, nil
}

// Start resolves name's dependency list (recursively, depth-first), then
// starts name itself unless depsOnly is set (SPEC_FULL.md §8). Cycles in
// the dependency graph are detected per-walk (SPEC_FULL.md §5).
func (sv *Supervisor) Start(name string, depsOnly bool) []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if !sv.isKnown(name) {
		return []string{fmt.Sprintf("unknown service '%s'", name)}
	}

	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var messages []string

	if !sv.startDeps(name, visiting, visited, &messages) {
		return messages
	}

	if depsOnly {
		return messages
	}

	svc, err := sv.recordFor(name)
	if err != nil {
		return append(messages, fmt.Sprintf("unknown service '%s'", name))
	}
	if err := svc.Start(); err != nil {
		return append(messages, err.Error())
	}
	return append(messages, fmt.Sprintf("started '%s'", name))
}

// startDeps recursively starts every transitive dependency of name (not
// name itself). It returns false if the walk must abort (unknown
// dependency or cycle), matching spec.md §4.2's "propagate the
// accumulated messages and abort" contract. Caller must hold sv.mu.
func (sv *Supervisor) startDeps(name string, visiting, visited map[string]bool, messages *[]string) bool {
	if visited[name] {
		return true
	}
	if visiting[name] {
		*messages = append(*messages, fmt.Sprintf("circular dependency detected: '%s'", name))
		return false
	}

	cfg, err := sv.provider.ServiceConfig(name)
	if err != nil {
		*messages = append(*messages, fmt.Sprintf("unknown service '%s'", name))
		return false
	}

	visiting[name] = true
	for _, dep := range cfg.Requires {
		if !sv.isKnown(dep) {
			*messages = append(*messages, fmt.Sprintf("unknown required service '%s'", dep))
			return false
		}
		if !sv.startDeps(dep, visiting, visited, messages) {
			return false
		}
		svc, err := sv.recordFor(dep)
		if err != nil {
			*messages = append(*messages, fmt.Sprintf("unknown service '%s'", dep))
			return false
		}
		if err := svc.Start(); err != nil {
			*messages = append(*messages, err.Error())
			return false
		}
		*messages = append(*messages, fmt.Sprintf("started '%s'", dep))
	}
	delete(visiting, name)
	visited[name] = true
	return true
}

// Stop sends a kill signal to name's Service record.
func (sv *Supervisor) Stop(name string) []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	if !sv.isKnown(name) {
		return []string{fmt.Sprintf("unknown service '%s'", name)}
	}

	svc, ok := sv.services[name]
	if !ok {
		return []string{fmt.Sprintf("'%s' is not running", name)}
	}

	svc.Kill()
	return []string{fmt.Sprintf("kill signal sent to '%s'", name)}
}

// Restart behaves as Start if no Service record exists yet; otherwise it
// kills and respawns the existing record.
func (sv *Supervisor) Restart(name string) []string {
	sv.mu.Lock()

	if !sv.isKnown(name) {
		sv.mu.Unlock()
		return []string{fmt.Sprintf("unknown service '%s'", name)}
	}

	svc, ok := sv.services[name]
	if !ok {
		sv.mu.Unlock()
		return sv.Start(name, false)
	}
	sv.mu.Unlock()

	if err := svc.Restart(); err != nil {
		return []string{err.Error()}
	}
	return []string{fmt.Sprintf("restarted '%s'", name)}
}

// Status reports the status of name, or of every declared service if
// name is StatusAll.
func (sv *Supervisor) Status(name string) map[string]string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	names := []string{name}
	if name == StatusAll {
		names = names[:0]
		for n := range sv.daemon.Services {
			names = append(names, n)
		}
	}

	result := make(map[string]string, len(names))
	for _, n := range names {
		result[n] = sv.statusOf(n)
	}
	return result
}

// statusOf computes a single service's status string. Caller must hold
// sv.mu.
func (sv *Supervisor) statusOf(name string) string {
	if !sv.isKnown(name) {
		return statusUnknownService
	}

	svc, ok := sv.services[name]
	if !ok {
		return statusNotStarted
	}

	switch svc.State() {
	case service.StateRunning:
		return statusRunning
	case service.StateDead:
		return statusDead
	case service.StateNotStarted:
		return statusNotStarted
	default:
		return statusStopped
	}
}

// SortedNames returns every declared service name in ascending order.
// Status does not use it: status("ALL") returns a map, and the client
// sorts names when rendering.
func (sv *Supervisor) SortedNames() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	names := make([]string, 0, len(sv.daemon.Services))
	for n := range sv.daemon.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TendAll invokes Tend on every Service record; called once per
// event-loop tick (spec.md §4.2, §5).
func (sv *Supervisor) TendAll(now time.Time) {
	sv.mu.Lock()
	records := make([]*service.Service, 0, len(sv.services))
	for _, svc := range sv.services {
		records = append(records, svc)
	}
	sv.mu.Unlock()

	for _, svc := range records {
		svc.Tend(now)
	}
}

// Shutdown kills every Service record with a live child (spec.md §4.2,
// called from the event loop's cleanup path on daemon exit).
func (sv *Supervisor) Shutdown() {
	sv.mu.Lock()
	records := make([]*service.Service, 0, len(sv.services))
	for _, svc := range sv.services {
		records = append(records, svc)
	}
	sv.mu.Unlock()

	for _, svc := range records {
		if svc.IsRunning() {
			svc.Kill()
		}
	}
}

// UnknownCommandMessage formats the response message for a command verb
// the dispatcher does not recognize (spec.md §4.5, §6).
func UnknownCommandMessage(cmd string) string {
	return fmt.Sprintf("unknown command '%s'", strings.TrimSpace(cmd))
}

package supervisor

import (
	"testing"
	"time"

	"github.com/ryym/locald/internal/config"
)

// fakeProvider is an in-memory config.Provider for exercising the
// engine's dependency resolution without touching disk.
type fakeProvider struct {
	daemon   *config.DaemonConfig
	services map[string]*config.ServiceConfig
}

func (p *fakeProvider) DaemonConfig() (*config.DaemonConfig, error) {
	return p.daemon, nil
}

func (p *fakeProvider) ServiceConfig(name string) (*config.ServiceConfig, error) {
	cfg, ok := p.services[name]
	if !ok {
		return nil, errUnknown(name)
	}
	return cfg, nil
}

type errUnknown string

func (e errUnknown) Error() string { return "unknown service " + string(e) }

func newFixture(services map[string]*config.ServiceConfig) (*fakeProvider, *config.DaemonConfig) {
	daemon := &config.DaemonConfig{Services: make(map[string]config.ServiceRef)}
	for name := range services {
		daemon.Services[name] = config.ServiceRef{Name: name}
	}
	return &fakeProvider{daemon: daemon, services: services}, daemon
}

func TestStart_LeafServiceBecomesRunning(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db": {Name: "db", Command: []string{"sleep", "10"}, Restart: config.RestartNever},
	})
	sv := New(provider, daemon)

	messages := sv.Start("db", false)
	if len(messages) != 1 || messages[0] != "started 'db'" {
		t.Fatalf("unexpected messages: %v", messages)
	}

	status := sv.Status("db")
	if status["db"] != statusRunning {
		t.Errorf("expected db RUNNING, got %s", status["db"])
	}

	sv.Stop("db")
}

func TestStart_DependencyStartedFirst(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db":  {Name: "db", Command: []string{"sleep", "10"}, Restart: config.RestartNever},
		"web": {Name: "web", Command: []string{"sleep", "10"}, Restart: config.RestartNever, Requires: []string{"db"}},
	})
	sv := New(provider, daemon)

	messages := sv.Start("web", false)
	if len(messages) != 2 || messages[0] != "started 'db'" || messages[1] != "started 'web'" {
		t.Fatalf("unexpected messages: %v", messages)
	}

	status := sv.Status(StatusAll)
	if status["db"] != statusRunning || status["web"] != statusRunning {
		t.Errorf("expected both running, got %v", status)
	}

	sv.Stop("web")
	sv.Stop("db")
}

func TestStart_UnknownService(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{})
	sv := New(provider, daemon)

	messages := sv.Start("nope", false)
	if len(messages) != 1 || messages[0] != "unknown service 'nope'" {
		t.Fatalf("unexpected messages: %v", messages)
	}
}

func TestStart_UnknownDependencyAborts(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"web": {Name: "web", Command: []string{"sleep", "10"}, Requires: []string{"ghost"}},
	})
	sv := New(provider, daemon)

	messages := sv.Start("web", false)
	if len(messages) != 1 || messages[0] != "unknown required service 'ghost'" {
		t.Fatalf("unexpected messages: %v", messages)
	}

	status := sv.Status("web")
	if status["web"] != statusNotStarted {
		t.Errorf("expected web to remain NOT_STARTED after aborted start, got %s", status["web"])
	}
}

func TestStart_CircularDependencyDetected(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"a": {Name: "a", Command: []string{"sleep", "10"}, Requires: []string{"b"}},
		"b": {Name: "b", Command: []string{"sleep", "10"}, Requires: []string{"a"}},
	})
	sv := New(provider, daemon)

	messages := sv.Start("a", false)
	if len(messages) != 1 {
		t.Fatalf("expected exactly one message, got %v", messages)
	}
	if messages[0] != "circular dependency detected: 'a'" {
		t.Errorf("unexpected message: %q", messages[0])
	}
}

func TestStart_DependenciesOnlyDoesNotStartTarget(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db":  {Name: "db", Command: []string{"sleep", "10"}, Restart: config.RestartNever},
		"web": {Name: "web", Command: []string{"sleep", "10"}, Restart: config.RestartNever, Requires: []string{"db"}},
	})
	sv := New(provider, daemon)

	messages := sv.Start("web", true)
	if len(messages) != 1 || messages[0] != "started 'db'" {
		t.Fatalf("unexpected messages: %v", messages)
	}

	status := sv.Status(StatusAll)
	if status["db"] != statusRunning {
		t.Errorf("expected db RUNNING, got %s", status["db"])
	}
	if status["web"] != statusNotStarted {
		t.Errorf("expected web to remain NOT_STARTED with deps-only, got %s", status["web"])
	}

	sv.Stop("db")
}

func TestStop_UnknownService(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{})
	sv := New(provider, daemon)

	messages := sv.Stop("nope")
	if len(messages) != 1 || messages[0] != "unknown service 'nope'" {
		t.Fatalf("unexpected messages: %v", messages)
	}
}

func TestStop_NotRunning(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db": {Name: "db", Command: []string{"sleep", "10"}},
	})
	sv := New(provider, daemon)

	messages := sv.Stop("db")
	if len(messages) != 1 || messages[0] != "'db' is not running" {
		t.Fatalf("unexpected messages: %v", messages)
	}
}

func TestRestart_RespawnsWithNewPID(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db": {Name: "db", Command: []string{"sleep", "10"}, Restart: config.RestartNever},
	})
	sv := New(provider, daemon)

	sv.Start("db", false)

	messages := sv.Restart("db")
	if len(messages) != 1 || messages[0] != "restarted 'db'" {
		t.Fatalf("unexpected messages: %v", messages)
	}

	status := sv.Status("db")
	if status["db"] != statusRunning {
		t.Errorf("expected db RUNNING after restart, got %s", status["db"])
	}

	sv.Stop("db")
}

func TestStatus_ALLReturnsEveryDeclaredService(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db":  {Name: "db", Command: []string{"sleep", "10"}},
		"web": {Name: "web", Command: []string{"sleep", "10"}},
	})
	sv := New(provider, daemon)

	status := sv.Status(StatusAll)
	if len(status) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(status))
	}
	if status["db"] != statusNotStarted || status["web"] != statusNotStarted {
		t.Errorf("expected both NOT_STARTED, got %v", status)
	}
}

func TestTendAll_RestartsDeadServiceAfterBackoff(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"flaky": {Name: "flaky", Command: []string{"false"}, Restart: config.RestartAlways, RestartSeconds: 0},
	})
	sv := New(provider, daemon)

	sv.Start("flaky", false)

	deadline := time.Now().Add(2 * time.Second)
	respawned := false
	for time.Now().Before(deadline) {
		sv.TendAll(time.Now())
		status := sv.Status("flaky")
		if status["flaky"] == statusRunning {
			respawned = true
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !respawned {
		t.Error("expected flaky service to be respawned by TendAll")
	}

	sv.Stop("flaky")
}

func TestShutdown_KillsEveryRunningService(t *testing.T) {
	provider, daemon := newFixture(map[string]*config.ServiceConfig{
		"db":  {Name: "db", Command: []string{"sleep", "10"}, Restart: config.RestartNever},
		"web": {Name: "web", Command: []string{"sleep", "10"}, Restart: config.RestartNever},
	})
	sv := New(provider, daemon)

	sv.Start("db", false)
	sv.Start("web", false)

	sv.Shutdown()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sv.TendAll(time.Now())
		status := sv.Status(StatusAll)
		if status["db"] != statusRunning && status["web"] != statusRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Error("expected both services to be stopped after Shutdown")
}

func TestUnknownCommandMessage(t *testing.T) {
	if got := UnknownCommandMessage("wibble"); got != "unknown command 'wibble'" {
		t.Errorf("unexpected message: %q", got)
	}
}

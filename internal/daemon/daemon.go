// Package daemon implements the Control Socket and the Event Loop /
// Dispatcher (spec.md §4.3, §4.5): it accepts client connections over a
// Unix-domain stream socket, dispatches decoded requests to the
// Supervision Engine, and tends every service once per second.
//
// spec.md's original is a single-threaded cooperative multiplexer
// (select() over sockets). spec.md §9 explicitly permits the Go-idiomatic
// reinterpretation used here: one goroutine per accepted connection,
// each feeding decoded requests to a single engine goroutine over a
// channel. The engine goroutine is the only place the Supervisor's state
// is touched, so the externally observable semantics — in particular
// "requests on a single connection are processed in arrival order" and
// "tend_all runs at least once per second" — match spec.md §5.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/ryym/locald/internal/config"
	"github.com/ryym/locald/internal/protocol"
	"github.com/ryym/locald/internal/supervisor"
)

const tendInterval = 1 * time.Second

// call is one decoded request in flight from a connection goroutine to
// the engine goroutine.
type call struct {
	req  protocol.Request
	resp chan protocol.Response
}

// Daemon owns the Supervisor and the accept/engine goroutines. It is the
// collaborator the Daemon Lifecycle (internal/daemonlife) runs in-process
// or under the Daemonizer.
type Daemon struct {
	supervisor *supervisor.Supervisor
	logger     *slog.Logger

	calls chan call
}

// New creates a Daemon bound to the given Configuration Provider. It
// chdirs the process into daemonCfg.WorkingDir (or ConfigDir when
// WorkingDir is empty) so every service spawned afterward inherits that
// cwd, matching the original daemon's os.chdir(working_dir or
// config_dir) at startup. When both are empty the cwd is left as is.
func New(provider config.Provider) (*Daemon, error) {
	daemonCfg, err := provider.DaemonConfig()
	if err != nil {
		return nil, fmt.Errorf("daemon: load daemon config: %w", err)
	}

	workDir := daemonCfg.WorkingDir
	if workDir == "" {
		workDir = daemonCfg.ConfigDir
	}
	if workDir != "" {
		if err := os.Chdir(workDir); err != nil {
			return nil, fmt.Errorf("daemon: chdir to working directory %s: %w", workDir, err)
		}
	}

	return &Daemon{
		supervisor: supervisor.New(provider, daemonCfg),
		logger:     newLogger(),
		calls:      make(chan call),
	}, nil
}

// Run acquires the control socket at socketPath, accepts connections
// until ctx is cancelled, and guarantees the cleanup path (spec.md
// §4.5's "cleanup path is guaranteed to run"): every Service with a live
// child is killed and the socket path is removed before Run returns.
func (d *Daemon) Run(ctx context.Context, socketPath string) error {
	sock, err := AcquireControlSocket(socketPath)
	if err != nil {
		return err
	}
	defer func() {
		d.supervisor.Shutdown()
		if err := sock.Release(); err != nil {
			d.logger.Warn("[locald] failed to release control socket", "error", err)
		}
	}()

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()

	go d.acceptLoop(acceptCtx, sock.Listener())

	d.engineLoop(ctx)
	return nil
}

// acceptLoop accepts connections and spawns a goroutine per connection
// (spec.md §9's reinterpretation of the inputs/outputs select loop).
func (d *Daemon) acceptLoop(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				d.logger.Warn("[locald] accept error", "error", err)
				continue
			}
		}

		connID := uuid.NewString()
		go d.handleConnection(ctx, conn, connID)
	}
}

// handleConnection reads requests off one connection in arrival order
// (spec.md §5) and forwards each to the engine goroutine, writing back
// whatever response the engine computes. A connection may carry more
// than one request (spec.md §6: "though the server accepts repeated
// requests over a persistent connection").
func (d *Daemon) handleConnection(ctx context.Context, conn net.Conn, connID string) {
	defer conn.Close()

	for {
		var req protocol.Request
		if err := protocol.ReadFrame(conn, &req); err != nil {
			return
		}

		d.logger.Debug("[locald] received request", "conn", connID, "command", req.Command, "name", req.Name)

		resp := make(chan protocol.Response, 1)
		select {
		case d.calls <- call{req: req, resp: resp}:
		case <-ctx.Done():
			return
		}

		var r protocol.Response
		select {
		case r = <-resp:
		case <-ctx.Done():
			return
		}

		if err := protocol.WriteFrame(conn, r); err != nil {
			return
		}
	}
}

// engineLoop is the single goroutine of control that owns the
// Supervisor. It dispatches inbound calls and tends every service at
// least once per second (spec.md §4.5 step 4, §5).
func (d *Daemon) engineLoop(ctx context.Context) {
	ticker := time.NewTicker(tendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-d.calls:
			c.resp <- d.dispatch(c.req)
		case now := <-ticker.C:
			d.supervisor.TendAll(now)
		}
	}
}

// dispatch maps a decoded request to a Supervisor operation (spec.md
// §4.5 "Dispatch mapping").
func (d *Daemon) dispatch(req protocol.Request) protocol.Response {
	switch req.Command {
	case protocol.CommandStart:
		return protocol.MessagesResponse(d.supervisor.Start(req.Name, req.DependenciesOnly))
	case protocol.CommandStop:
		return protocol.MessagesResponse(d.supervisor.Stop(req.Name))
	case protocol.CommandRestart:
		return protocol.MessagesResponse(d.supervisor.Restart(req.Name))
	case protocol.CommandStatus:
		return protocol.StatusResponse(d.supervisor.Status(req.Name))
	case "":
		return protocol.MessagesResponse([]string{fmt.Sprintf("invalid command '%s' received from client", req.Command)})
	default:
		return protocol.MessagesResponse([]string{supervisor.UnknownCommandMessage(req.Command)})
	}
}

// WatchConfig logs (but never acts on) modifications to the config file
// at path, for the optional `server-start --watch` diagnostic
// (SPEC_FULL.md §3): config reload is not supported, so this is advisory
// only.
func (d *Daemon) WatchConfig(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("daemon: create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("daemon: watch %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				d.logger.Info("[locald] config file modified, restart the daemon to apply changes", "path", path)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.logger.Warn("[locald] config watcher error", "error", err)
		}
	}
}

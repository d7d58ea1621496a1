// Package client implements the Client collaborator (spec.md §4.7): it
// opens the daemon's control socket, sends a single request, reads a
// single response, and renders it.
package client

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	"github.com/ryym/locald/internal/config"
	"github.com/ryym/locald/internal/daemonlife"
	"github.com/ryym/locald/internal/protocol"
)

// Client sends one request per Call and reads one response back. A
// single underlying connection may be reused across calls, matching
// spec.md §6's "though the server accepts repeated requests over a
// persistent connection."
type Client struct {
	daemonCfg *config.DaemonConfig
	conn      net.Conn
}

// New creates a Client bound to the daemon described by daemonCfg.
func New(daemonCfg *config.DaemonConfig) *Client {
	return &Client{daemonCfg: daemonCfg}
}

// Connect opens the control socket. A connection failure on a missing
// socket path is disambiguated with a pid probe (spec.md §4.7,
// SocketMissing in §7): "server not running" if the pid-file liveness
// check is false, "socket permissions incorrect" if it is true.
func (c *Client) Connect() error {
	conn, err := net.Dial("unix", c.daemonCfg.SocketPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || isNoSuchFile(err) {
			if daemonlife.IsRunning(c.daemonCfg) {
				return fmt.Errorf("sending command failed. are your socket permissions correct?")
			}
			return fmt.Errorf("sending command failed. server does not appear to be running.")
		}
		return fmt.Errorf("client: connect: %w", err)
	}
	c.conn = conn
	return nil
}

// isNoSuchFile reports whether err is the "no such file or directory"
// flavor of dial failure net.Dial wraps for a missing Unix socket path.
func isNoSuchFile(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist)
}

// Close closes the underlying connection, if one is open.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Call sends req and returns the daemon's decoded response.
func (c *Client) Call(req protocol.Request) (protocol.Response, error) {
	if err := protocol.WriteFrame(c.conn, req); err != nil {
		return protocol.Response{}, fmt.Errorf("client: send request: %w", err)
	}

	var resp protocol.Response
	if err := protocol.ReadFrame(c.conn, &resp); err != nil {
		return protocol.Response{}, fmt.Errorf("client: read response: %w", err)
	}
	return resp, nil
}

// Start sends a start request for name.
func (c *Client) Start(name string, dependenciesOnly bool) (protocol.Response, error) {
	return c.Call(protocol.Request{Command: protocol.CommandStart, Name: name, DependenciesOnly: dependenciesOnly})
}

// Stop sends a stop request for name.
func (c *Client) Stop(name string) (protocol.Response, error) {
	return c.Call(protocol.Request{Command: protocol.CommandStop, Name: name})
}

// Restart sends a restart request for name.
func (c *Client) Restart(name string) (protocol.Response, error) {
	return c.Call(protocol.Request{Command: protocol.CommandRestart, Name: name})
}

// Status sends a status request. name is a single service name or the
// supervisor.StatusAll sentinel; a comma-separated list is split
// client-side by ExpandStatusNames and sent as one request per name.
func (c *Client) Status(name string) (protocol.Response, error) {
	return c.Call(protocol.Request{Command: protocol.CommandStatus, Name: name})
}

// ExpandStatusNames implements spec.md §4.7's client-side expansion
// rule: the bare sentinel "ALL" is forwarded verbatim for server-side
// expansion. A comma-separated list has each element trimmed; if the
// list contains "ALL" alongside other names, it is expanded against
// declared (the full set of configured service names) and unioned with
// the rest. The wire request carries exactly one name per call, so the
// CLI issues one status request per name returned here and merges the
// responses.
func ExpandStatusNames(raw string, declared []string) []string {
	if raw == "ALL" {
		return []string{"ALL"}
	}

	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "ALL" {
			for _, d := range declared {
				add(d)
			}
			continue
		}
		add(part)
	}

	return names
}

// RenderMessages prints each message on its own line (spec.md §4.7
// rendering rule for start/stop/restart responses).
func RenderMessages(messages []string) {
	for _, m := range messages {
		fmt.Println(m)
	}
}

// RenderStatuses prints "<name>: <status>" in ascending name order
// (spec.md §4.7 rendering rule for status responses).
func RenderStatuses(statuses map[string]string) {
	names := make([]string, 0, len(statuses))
	for n := range statuses {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		fmt.Printf("%s: %s\n", n, statuses[n])
	}
}

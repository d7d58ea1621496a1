package daemon

import (
	"fmt"
	"net"
	"os"
)

// ControlSocket is the scoped Unix-domain listening socket described by
// spec.md §4.3: acquiring it clears any stale file at the path before
// binding, and releasing it closes the listener and best-effort removes
// the path.
type ControlSocket struct {
	path     string
	listener net.Listener
}

// AcquireControlSocket removes any stale file at path, then binds and
// listens on it. Backlog is left to the runtime default (spec.md §4.3
// "unspecified backlog").
func AcquireControlSocket(path string) (*ControlSocket, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("daemon: remove stale socket %s: %w", path, err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen on %s: %w", path, err)
	}

	return &ControlSocket{path: path, listener: listener}, nil
}

// Listener returns the underlying net.Listener for Accept loops.
func (c *ControlSocket) Listener() net.Listener {
	return c.listener
}

// Release closes the listener and removes the socket path, swallowing
// absence errors (spec.md §4.3, §5 "Scoped acquisition").
func (c *ControlSocket) Release() error {
	closeErr := c.listener.Close()
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove socket %s: %w", c.path, err)
	}
	return closeErr
}

package client

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ryym/locald/internal/config"
	"github.com/ryym/locald/internal/protocol"
)

func TestConnect_MissingSocketReportsServerNotRunning(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.DaemonConfig{
		SocketPath: filepath.Join(dir, "locald.sock"),
		PidPath:    filepath.Join(dir, "locald.pid"),
	}

	c := New(cfg)
	err := c.Connect()
	if err == nil {
		t.Fatal("expected error connecting to missing socket")
	}
	if got := err.Error(); got != "sending command failed. server does not appear to be running." {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestConnect_MissingSocketButPidAliveReportsPermissions(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "locald.pid")
	if err := os.WriteFile(pidPath, []byte("1"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.DaemonConfig{
		SocketPath: filepath.Join(dir, "locald.sock"),
		PidPath:    pidPath,
	}

	c := New(cfg)
	err := c.Connect()
	if err == nil {
		t.Fatal("expected error connecting to missing socket")
	}
	if got := err.Error(); got != "sending command failed. are your socket permissions correct?" {
		t.Errorf("unexpected message: %q", got)
	}
}

func TestCall_RoundTripsOverSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "locald.sock")

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var req protocol.Request
		if err := protocol.ReadFrame(conn, &req); err != nil {
			return
		}
		protocol.WriteFrame(conn, protocol.MessagesResponse([]string{"started '" + req.Name + "'"}))
	}()

	cfg := &config.DaemonConfig{SocketPath: socketPath, PidPath: filepath.Join(dir, "locald.pid")}
	c := New(cfg)
	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	resp, err := c.Start("web", false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0] != "started 'web'" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestWaitForServer_TimesOutWhenNeverReady(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.DaemonConfig{
		SocketPath: filepath.Join(dir, "locald.sock"),
		PidPath:    filepath.Join(dir, "locald.pid"),
	}

	err := WaitForServer(cfg, 200*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestExpandStatusNames(t *testing.T) {
	if got := ExpandStatusNames("ALL", nil); len(got) != 1 || got[0] != "ALL" {
		t.Errorf("unexpected expansion: %v", got)
	}
	if got := ExpandStatusNames("web", nil); len(got) != 1 || got[0] != "web" {
		t.Errorf("unexpected expansion: %v", got)
	}
	declared := []string{"web", "db", "cache"}
	if got := ExpandStatusNames("web,ALL", declared); len(got) != 3 {
		t.Errorf("unexpected expansion: %v", got)
	}
	if got := ExpandStatusNames("web, db ,web", nil); len(got) != 2 || got[0] != "web" || got[1] != "db" {
		t.Errorf("unexpected dedup/trim: %v", got)
	}
}

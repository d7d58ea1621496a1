package client

import (
	"fmt"
	"net"
	"time"

	"github.com/ryym/locald/internal/config"
	"github.com/ryym/locald/internal/daemonlife"
)

// defaultWaitTimeout and defaultWaitInterval match spec.md §5's
// "server-wait auxiliary" defaults.
const (
	defaultWaitTimeout  = 10 * time.Second
	defaultWaitInterval = 100 * time.Millisecond
)

// WaitForServer polls the pid file and the socket path until both
// indicate the daemon is up, or until timeout elapses (spec.md §5;
// `server-wait` in SPEC_FULL.md §9). A zero timeout uses the default.
func WaitForServer(daemonCfg *config.DaemonConfig, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}

	deadline := time.Now().Add(timeout)
	for {
		if daemonlife.IsRunning(daemonCfg) && socketExists(daemonCfg.SocketPath) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("client: server did not become ready within %s", timeout)
		}
		time.Sleep(defaultWaitInterval)
	}
}

func socketExists(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

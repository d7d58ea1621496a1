package daemon

import (
	"log/slog"
	"os"
)

// newLogger builds the daemon's structured logger. Message text keeps the
// "[locald] ..." prefix carried over from the original server.py's logger
// strings; slog's attribute fields carry the structured detail (connection
// id, service name) that the prefix string does not.
func newLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(handler)
}

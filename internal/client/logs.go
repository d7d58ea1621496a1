package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

// TailLog prints path's existing contents, then (unless noFollow) keeps
// polling for appended bytes. In follow mode it returns only on a read
// error; removing the file does not end the loop.
//
// This lives outside the daemon/event-loop core entirely (SPEC_FULL.md
// §10): it opens the service's configured log file directly and never
// talks to the daemon, matching spec.md §1's framing of log tailing as
// an external collaborator's concern.
func TailLog(path string, noFollow bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("client: open log file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	if _, err := io.Copy(os.Stdout, reader); err != nil {
		return fmt.Errorf("client: read log file: %w", err)
	}

	if noFollow {
		return nil
	}

	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			fmt.Print(line)
		}
		if err == io.EOF {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		if err != nil {
			return fmt.Errorf("client: read log file: %w", err)
		}
	}
}

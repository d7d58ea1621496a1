// Package protocol implements the wire codec between the locald client
// and daemon: message shapes (spec.md §6) and length-prefixed framing
// (SPEC_FULL.md §6, resolving spec.md §9's open framing question).
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Command verbs accepted by the dispatcher (spec.md §4.5).
const (
	CommandStart   = "start"
	CommandStop    = "stop"
	CommandRestart = "restart"
	CommandStatus  = "status"
)

// Status values reported in a status response (spec.md §6).
const (
	StatusRunning        = "RUNNING"
	StatusStopped        = "STOPPED"
	StatusNotStarted     = "NOT_STARTED"
	StatusDead           = "DEAD"
	StatusUnknownService = "UNKNOWN_SERVICE"
)

// Request is the JSON object a client sends (spec.md §6). Fields unused
// by a given command are left zero.
type Request struct {
	Command          string `json:"command"`
	Name             string `json:"name,omitempty"`
	DependenciesOnly bool   `json:"dependencies_only,omitempty"`
}

// Response is the JSON object the daemon replies with (spec.md §6).
// Messages is populated for start/stop/restart and for unknown-command
// replies; Statuses is populated for status replies. At most one of the
// two is non-nil for any given response (both are nil for a start that
// produced no messages).
type Response struct {
	Messages []string          `json:"messages,omitempty"`
	Statuses map[string]string `json:"-"`
}

// MarshalJSON emits Statuses as the bare top-level object when Messages
// is absent, matching spec.md §6's "status responses are an object
// mapping name to status string" (not wrapped under a "statuses" key).
func (r Response) MarshalJSON() ([]byte, error) {
	if r.Statuses != nil {
		return json.Marshal(r.Statuses)
	}
	return json.Marshal(struct {
		Messages []string `json:"messages"`
	}{Messages: r.Messages})
}

// UnmarshalJSON accepts either shape: an object with a "messages" key,
// or a bare name→status mapping.
func (r *Response) UnmarshalJSON(data []byte) error {
	var withMessages struct {
		Messages []string `json:"messages"`
	}
	if err := json.Unmarshal(data, &withMessages); err == nil && withMessages.Messages != nil {
		r.Messages = withMessages.Messages
		return nil
	}

	var statuses map[string]string
	if err := json.Unmarshal(data, &statuses); err != nil {
		return err
	}
	r.Statuses = statuses
	return nil
}

// maxFrameSize bounds a single decoded frame; a request or response this
// system produces never approaches it, so it exists only to reject a
// corrupt or hostile length prefix before allocating a buffer for it.
const maxFrameSize = 64 << 20 // 64 MiB

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// JSON encoding of v.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: encode: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("protocol: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds maximum %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("protocol: read payload: %w", err)
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("protocol: decode: %w", err)
	}
	return nil
}

// MessagesResponse builds a Response carrying a messages list.
func MessagesResponse(messages []string) Response {
	return Response{Messages: messages}
}

// StatusResponse builds a Response carrying a status mapping.
func StatusResponse(statuses map[string]string) Response {
	return Response{Statuses: statuses}
}

package protocol

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer

	req := Request{Command: CommandStart, Name: "web", DependenciesOnly: true}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("read: %v", err)
	}

	if got != req {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, req)
	}
}

func TestReadFrame_TruncatedHeaderErrors(t *testing.T) {
	buf := bytes.NewReader([]byte{0x00, 0x01})
	var req Request
	if err := ReadFrame(buf, &req); err == nil {
		t.Error("expected error for truncated header")
	}
}

func TestReadFrame_OversizedLengthRejected(t *testing.T) {
	var header [4]byte
	header[0] = 0xFF
	header[1] = 0xFF
	header[2] = 0xFF
	header[3] = 0xFF
	buf := bytes.NewReader(header[:])

	var req Request
	if err := ReadFrame(buf, &req); err == nil {
		t.Error("expected error for oversized frame length")
	}
}

func TestResponse_MessagesMarshaling(t *testing.T) {
	resp := MessagesResponse([]string{"started 'web'"})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"messages":["started 'web'"]}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Messages) != 1 || decoded.Messages[0] != "started 'web'" {
		t.Errorf("unexpected decoded messages: %v", decoded.Messages)
	}
}

func TestResponse_StatusMarshaling(t *testing.T) {
	resp := StatusResponse(map[string]string{"web": StatusRunning, "db": StatusStopped})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Response
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Statuses["web"] != StatusRunning || decoded.Statuses["db"] != StatusStopped {
		t.Errorf("unexpected decoded statuses: %v", decoded.Statuses)
	}
}

func TestWriteFrame_LengthPrefixCountsBytes(t *testing.T) {
	// Exercise the length prefix against a payload with multi-byte
	// UTF-8 content to confirm length counts bytes, not runes.
	var buf bytes.Buffer
	req := Request{Command: CommandStatus, Name: "日本語"}

	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	header := buf.Bytes()[:4]
	length := int(header[0])<<24 | int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	if length != buf.Len()-4 {
		t.Errorf("length prefix %d does not match remaining payload %d", length, buf.Len()-4)
	}

	var got Request
	if err := ReadFrame(&buf, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Name != "日本語" {
		t.Errorf("got name %q", got.Name)
	}
}

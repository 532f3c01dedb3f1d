package websocket

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"os"
	"testing"
	"time"
)

// newTestClient wires a [Client] to one end of an in-memory pipe, with
// s as its server, and returns the other end for the test to read from
// and write to.
func newTestClient(s *Server) (*Client, net.Conn) {
	serverSide, testSide := net.Pipe()

	c := &Client{
		id:        "test",
		conn:      serverSide,
		addr:      serverSide.RemoteAddr(),
		reader:    bufio.NewReader(serverSide),
		writer:    bufio.NewWriter(serverSide),
		server:    s,
		assembler: newAssembler(s.config.MaxMessageSize),
	}
	return c, testSide
}

func readOneFrame(t *testing.T, conn net.Conn) Frame {
	t.Helper()

	buf := make([]byte, 1<<16)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	f, _, err := DecodeFrame(buf[:n])
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	return f
}

func TestClientTextAll(t *testing.T) {
	s := NewServer(":0")
	c, conn := newTestClient(s)
	defer conn.Close()

	go func() {
		if _, err := c.TextAll([]byte("Hello")); err != nil {
			t.Errorf("TextAll() error = %v", err)
		}
	}()

	f := readOneFrame(t, conn)
	if f.Opcode != OpcodeText || !f.Fin || string(f.Payload) != "Hello" {
		t.Errorf("got frame %+v, want a final text frame \"Hello\"", f)
	}
	if f.Masked {
		t.Errorf("server frame should never be masked")
	}
}

func TestClientSendChunked(t *testing.T) {
	s := NewServer(":0")
	c, conn := newTestClient(s)
	defer conn.Close()

	payload := bytes.Repeat([]byte{'x'}, maxChunkPayload+1000)

	go func() {
		if _, err := c.Binary(payload); err != nil {
			t.Errorf("Binary() error = %v", err)
		}
	}()

	first := readOneFrame(t, conn)
	if first.Opcode != OpcodeBinary || first.Fin {
		t.Errorf("first chunk = %+v, want a non-final binary frame", first)
	}
	if len(first.Payload) != maxChunkPayload {
		t.Errorf("first chunk length = %d, want %d", len(first.Payload), maxChunkPayload)
	}

	second := readOneFrame(t, conn)
	if second.Opcode != opcodeContinuation || !second.Fin {
		t.Errorf("second chunk = %+v, want a final continuation frame", second)
	}
	if len(second.Payload) != 1000 {
		t.Errorf("second chunk length = %d, want 1000", len(second.Payload))
	}
}

func TestClientCloseWith(t *testing.T) {
	s := NewServer(":0")
	c, conn := newTestClient(s)
	defer conn.Close()

	go func() {
		if _, err := c.CloseWith(StatusGoingAway, "bye"); err != nil {
			t.Errorf("CloseWith() error = %v", err)
		}
	}()

	f := readOneFrame(t, conn)
	if f.Opcode != opcodeClose {
		t.Fatalf("got opcode %v, want close", f.Opcode)
	}
	status, reason := decodeClosePayload(f.Payload)
	if status != StatusGoingAway || reason != "bye" {
		t.Errorf("decodeClosePayload() = (%v, %q), want (%v, %q)", status, reason, StatusGoingAway, "bye")
	}
	if !c.closeSent.Load() {
		t.Errorf("closeSent flag not set after CloseWith()")
	}
}

func TestClientPingPong(t *testing.T) {
	s := NewServer(":0")
	c, conn := newTestClient(s)
	defer conn.Close()

	go func() { _, _ = c.Ping() }()
	if f := readOneFrame(t, conn); f.Opcode != opcodePing {
		t.Errorf("got opcode %v, want ping", f.Opcode)
	}

	go func() { _, _ = c.Pong() }()
	if f := readOneFrame(t, conn); f.Opcode != opcodePong {
		t.Errorf("got opcode %v, want pong", f.Opcode)
	}
}

func TestIsBenignConnError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "closed", err: net.ErrClosed, want: true},
		{name: "deadline_exceeded", err: os.ErrDeadlineExceeded, want: true},
		{name: "other", err: errors.New("something else"), want: false},
	}
	for _, tt := range tests {
		if got := isBenignConnError(tt.err); got != tt.want {
			t.Errorf("isBenignConnError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestHandleFrameRejectsUnmaskedFrame(t *testing.T) {
	s := NewServer(":0")
	c, conn := newTestClient(s)
	defer conn.Close()

	err := c.handleFrame(Frame{Fin: true, Opcode: OpcodeText, Masked: false, Payload: []byte("x")})

	var wsErr *Error
	if !asError(err, &wsErr) || wsErr.Kind != KindProtocolViolation {
		t.Errorf("handleFrame() error = %v, want KindProtocolViolation", err)
	}
}

func TestHandleFrameRejectsReservedBits(t *testing.T) {
	s := NewServer(":0")
	c, conn := newTestClient(s)
	defer conn.Close()

	err := c.handleFrame(Frame{Fin: true, Opcode: OpcodeText, Masked: true, Rsv2: true, Payload: []byte("x")})

	var wsErr *Error
	if !asError(err, &wsErr) || wsErr.Kind != KindProtocolViolation {
		t.Errorf("handleFrame() error = %v, want KindProtocolViolation", err)
	}
}

func TestHandleFrameDispatchesText(t *testing.T) {
	s := NewServer(":0")

	received := make(chan []byte, 1)
	s.OnText(func(_ *Client, data []byte) { received <- data })

	c, conn := newTestClient(s)
	defer conn.Close()

	if err := c.handleFrame(Frame{Fin: true, Opcode: OpcodeText, Masked: true, Payload: []byte("hi")}); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	select {
	case data := <-received:
		if string(data) != "hi" {
			t.Errorf("OnText() data = %q, want \"hi\"", data)
		}
	case <-time.After(time.Second):
		t.Fatal("OnText() callback was never invoked")
	}
}

func TestHandleFrameDispatchesCloseWithoutAutoEcho(t *testing.T) {
	s := NewServer(":0")

	var gotStatus StatusCode
	var gotReason string
	done := make(chan struct{})
	s.OnClose(func(_ *Client, status StatusCode, reason string) {
		gotStatus, gotReason = status, reason
		close(done)
	})

	c, conn := newTestClient(s)
	defer conn.Close()

	payload := encodeClosePayload(StatusNormalClosure, "done")
	if err := c.handleFrame(Frame{Fin: true, Opcode: opcodeClose, Masked: true, Payload: payload}); err != nil {
		t.Fatalf("handleFrame() error = %v", err)
	}

	select {
	case <-done:
		if gotStatus != StatusNormalClosure || gotReason != "done" {
			t.Errorf("OnClose() = (%v, %q), want (%v, %q)", gotStatus, gotReason, StatusNormalClosure, "done")
		}
	case <-time.After(time.Second):
		t.Fatal("OnClose() callback was never invoked")
	}

	if c.closeSent.Load() {
		t.Errorf("engine must not auto-echo a close frame")
	}
}

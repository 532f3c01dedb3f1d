package websocket

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

func TestNewServerDefaults(t *testing.T) {
	s := NewServer(":8080")

	if s.config.ReadBufferSize != DefaultReadBufferSize {
		t.Errorf("ReadBufferSize = %d, want %d", s.config.ReadBufferSize, DefaultReadBufferSize)
	}
	if s.config.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("MaxMessageSize = %d, want %d", s.config.MaxMessageSize, DefaultMaxMessageSize)
	}
	if _, ok := s.metrics.(noopMetrics); !ok {
		t.Errorf("default metrics = %T, want noopMetrics", s.metrics)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{MaxMessageSize: 1, ReadBufferSize: 1}, wantErr: false},
		{name: "zero_max_message_size", cfg: Config{ReadBufferSize: 1}, wantErr: true},
		{name: "zero_read_buffer_size", cfg: Config{MaxMessageSize: 1}, wantErr: true},
		{
			name:    "read_buffer_size_exceeds_max_message_size",
			cfg:     Config{ReadBufferSize: 1 << 20, MaxMessageSize: 10},
			wantErr: true,
		},
		{
			name:    "read_buffer_size_equals_max_message_size",
			cfg:     Config{ReadBufferSize: 1024, MaxMessageSize: 1024},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(":0", WithConfig(tt.cfg))
			if err := s.validateConfig(); (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestListenRejectsInvalidConfig(t *testing.T) {
	s := NewServer(":0", WithConfig(Config{}))
	if err := s.Listen(context.Background()); err == nil {
		t.Errorf("Listen() error = nil, want an error for an invalid config")
	}
}

func TestListenStopsOnContextCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx) }()

	// Give the accept loop a moment to start before canceling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen() error = %v, want nil after context cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen() did not return after context cancellation")
	}
}

// TestServerEndToEndEcho drives a full handshake and a masked text
// round trip against a live listener, playing the client side of RFC
// 6455 by hand (gows has no client role of its own).
func TestServerEndToEndEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen() error = %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := NewServer(addr)
	s.OnText(func(c *Client, data []byte) {
		_, _ = c.TextAll(data)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- s.Listen(ctx) }()

	var conn net.Conn
	for range 50 {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("net.Dial() error = %v", err)
	}
	defer conn.Close()

	nonce := make([]byte, 16)
	_, _ = rand.Read(nonce)
	key := base64.StdEncoding.EncodeToString(nonce)

	req := fmt.Sprintf("GET / HTTP/1.1\r\nHost: gows\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: %s\r\nSec-WebSocket-Version: 13\r\n\r\n", key)
	if _, err := io.WriteString(conn, req); err != nil {
		t.Fatalf("write handshake error = %v", err)
	}

	r := bufio.NewReader(conn)
	status, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line error = %v", err)
	}
	if !strings.Contains(status, "101") {
		t.Fatalf("status line = %q, want 101", status)
	}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read header line error = %v", err)
		}
		if strings.TrimRight(line, "\r\n") == "" {
			break
		}
	}

	var mask [4]byte
	_, _ = rand.Read(mask[:])
	text := []byte("Hello")
	masked := make([]byte, len(text))
	for i, b := range text {
		masked[i] = b ^ mask[i%4]
	}
	frame := append([]byte{0x81, 0x80 | byte(len(text))}, mask[:]...)
	frame = append(frame, masked...)
	if _, err := conn.Write(frame); err != nil {
		t.Fatalf("write frame error = %v", err)
	}

	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		t.Fatalf("read response header error = %v", err)
	}
	if header[0]&bits4to7 != byte(OpcodeText) {
		t.Fatalf("response opcode = %d, want text", header[0]&bits4to7)
	}
	payload := make([]byte, header[1]&bits1to7)
	if _, err := io.ReadFull(r, payload); err != nil {
		t.Fatalf("read response payload error = %v", err)
	}
	if string(payload) != "Hello" {
		t.Errorf("echoed payload = %q, want \"Hello\"", payload)
	}
}

type fakeMetrics struct {
	errs []Kind
}

func (f *fakeMetrics) ConnectionOpened(string)            {}
func (f *fakeMetrics) ConnectionClosed(string)            {}
func (f *fakeMetrics) MessageReceived(Opcode, int)        {}
func (f *fakeMetrics) MessageSent(Opcode, int)            {}
func (f *fakeMetrics) ErrorOccurred(kind Kind)            { f.errs = append(f.errs, kind) }

func TestDispatchRecoversFromPanic(t *testing.T) {
	m := &fakeMetrics{}
	s := NewServer(":0", WithMetrics(m))
	s.OnText(func(*Client, []byte) { panic("boom") })

	c, conn := newTestClient(s)
	defer conn.Close()

	// Must not panic.
	s.dispatchMessage(c, &Message{Opcode: OpcodeText, Data: []byte("x")})

	if len(m.errs) == 0 {
		t.Errorf("panic recovery did not report an error metric")
	}
}

package websocket

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"net"
	"time"

	"github.com/lithammer/shortuuid/v4"
)

// Default configuration values, as defined in spec.md §6.
const (
	DefaultReadBufferSize = 65535
	DefaultMaxMessageSize = 1<<32 - 1
	DefaultAddr           = ":8080"
)

// Config holds the server's tunable behavior. The zero value is not
// ready to use: construct one through [NewServer], which fills in the
// defaults above.
type Config struct {
	// Addr is the TCP address the server listens on, e.g. ":8080".
	Addr string

	// ReadBufferSize is the size of the buffer each connection reads
	// into. It bounds how much of a single frame (header plus payload)
	// can be decoded from one socket read; larger frames are still
	// supported, they just accumulate across more reads.
	ReadBufferSize int

	// MaxMessageSize is the largest accumulated (defragmented) message
	// size this server accepts. Messages larger than this fail the
	// connection with [KindMessageTooLarge].
	MaxMessageSize uint64

	// Compression enables permessage-deflate (RFC 7692) negotiation.
	// When true, the server requires the client to offer the extension;
	// see [negotiateCompression].
	Compression bool

	// ReadTimeout and WriteTimeout bound how long a connection's socket
	// operations may block. The zero value disables the corresponding
	// deadline, matching the source engine's original behavior.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Callbacks is the application's event table. Every field is optional;
// a nil callback means the event is silently ignored, except where
// noted.
type Callbacks struct {
	// OnHandshake runs after the HTTP/1.1 upgrade request is parsed but
	// before the 101 response is sent. Returning false rejects the
	// connection with an HTTP 400 response and [KindHandshakeRejected].
	// A nil OnHandshake accepts every handshake.
	OnHandshake func(headers map[string]string) bool

	OnText   func(c *Client, data []byte)
	OnBinary func(c *Client, data []byte)
	OnClose  func(c *Client, status StatusCode, reason string)
	OnPing   func(c *Client, data []byte)
	OnPong   func(c *Client, data []byte)

	OnDisconnect func(c *Client)
	OnError      func(c *Client, err *Error)
}

// Metrics is the set of counters the engine updates as it dispatches
// events. Implementations must be safe for concurrent use: every
// connection goroutine calls into the same Metrics value.
type Metrics interface {
	ConnectionOpened(id string)
	ConnectionClosed(id string)
	MessageReceived(opcode Opcode, bytes int)
	MessageSent(opcode Opcode, bytes int)
	ErrorOccurred(kind Kind)
}

// noopMetrics is the default [Metrics] implementation when none is
// configured: every method is a no-op.
type noopMetrics struct{}

func (noopMetrics) ConnectionOpened(string)     {}
func (noopMetrics) ConnectionClosed(string)     {}
func (noopMetrics) MessageReceived(Opcode, int) {}
func (noopMetrics) MessageSent(Opcode, int)     {}
func (noopMetrics) ErrorOccurred(Kind)          {}

// Server is a WebSocket server shell: it owns a TCP listener, the
// configuration and callback table every connection shares, and the
// metrics sink events are reported to. The zero value is not usable;
// construct one with [NewServer].
type Server struct {
	config    Config
	callbacks Callbacks
	metrics   Metrics
	logger    *slog.Logger
}

// Option configures a [Server] at construction time.
type Option func(*Server)

// WithConfig overrides the server's configuration.
func WithConfig(cfg Config) Option {
	return func(s *Server) { s.config = cfg }
}

// WithMetrics attaches a [Metrics] sink. Without it, counters are
// dropped on the floor.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger attaches the [slog.Logger] the engine logs through.
// Without it, the engine logs through [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds a [Server] listening on addr, with spec.md §6's
// default configuration, applying opts in order.
func NewServer(addr string, opts ...Option) *Server {
	s := &Server{
		config: Config{
			Addr:           addr,
			ReadBufferSize: DefaultReadBufferSize,
			MaxMessageSize: DefaultMaxMessageSize,
		},
		metrics: noopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConfig replaces the server's configuration wholesale. It must be
// called before [Server.Listen].
func (s *Server) SetConfig(cfg Config) {
	s.config = cfg
}

func (s *Server) OnHandshake(fn func(headers map[string]string) bool) { s.callbacks.OnHandshake = fn }
func (s *Server) OnText(fn func(c *Client, data []byte))               { s.callbacks.OnText = fn }
func (s *Server) OnBinary(fn func(c *Client, data []byte))             { s.callbacks.OnBinary = fn }
func (s *Server) OnClose(fn func(c *Client, status StatusCode, reason string)) {
	s.callbacks.OnClose = fn
}
func (s *Server) OnPing(fn func(c *Client, data []byte))       { s.callbacks.OnPing = fn }
func (s *Server) OnPong(fn func(c *Client, data []byte))       { s.callbacks.OnPong = fn }
func (s *Server) OnDisconnect(fn func(c *Client))              { s.callbacks.OnDisconnect = fn }
func (s *Server) OnError(fn func(c *Client, err *Error))       { s.callbacks.OnError = fn }

// validateConfig rejects configurations that could never produce a
// working connection, per spec.md §9's resolved open question.
func (s *Server) validateConfig() error {
	if s.config.MaxMessageSize == 0 {
		return newError(KindConfigInvalid, fmt.Errorf("MaxMessageSize must be greater than zero"))
	}
	if s.config.ReadBufferSize <= 0 {
		return newError(KindConfigInvalid, fmt.Errorf("ReadBufferSize must be greater than zero"))
	}
	if uint64(s.config.ReadBufferSize) > s.config.MaxMessageSize {
		return newError(KindConfigInvalid, fmt.Errorf("ReadBufferSize (%d) must not exceed MaxMessageSize (%d)", s.config.ReadBufferSize, s.config.MaxMessageSize))
	}
	if bits.UintSize == 32 && s.config.ReadBufferSize > math.MaxUint16 {
		return newError(KindConfigInvalid, fmt.Errorf("ReadBufferSize (%d) exceeds 65535 on a 32-bit build", s.config.ReadBufferSize))
	}
	return nil
}

// Listen opens a TCP listener on the server's configured address, and
// accepts connections until ctx is canceled or the listener fails. Each
// accepted connection runs its own goroutine for the lifetime of the
// call; Listen itself returns only when the accept loop stops.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.validateConfig(); err != nil {
		return err
	}

	addr := s.config.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return newError(KindConfigInvalid, fmt.Errorf("failed to listen on %s: %w", addr, err))
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.InfoContext(ctx, "websocket server listening", slog.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return newError(KindNotConnected, fmt.Errorf("accept failed: %w", err))
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn performs the upgrade handshake on a freshly accepted TCP
// connection, and, if it succeeds, runs the connection's read loop
// until it ends.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	headers, err := readHandshakeHeaders(reader)
	if err != nil {
		_ = writeBadRequest(writer)
		_ = conn.Close()
		s.logger.WarnContext(ctx, "handshake parse failed", slog.Any("error", err))
		s.metrics.ErrorOccurred(KindHandshakeParse)
		return
	}

	key := headers["Sec-WebSocket-Key"]
	if key == "" {
		_ = writeBadRequest(writer)
		_ = conn.Close()
		s.metrics.ErrorOccurred(KindHandshakeParse)
		return
	}

	compress, err := negotiateCompression(headers, s.config.Compression)
	if err != nil {
		_ = writeBadRequest(writer)
		_ = conn.Close()
		s.metrics.ErrorOccurred(KindHandshakeParse)
		return
	}

	if s.callbacks.OnHandshake != nil && !s.callbacks.OnHandshake(headers) {
		_ = writeBadRequest(writer)
		_ = conn.Close()
		s.metrics.ErrorOccurred(KindHandshakeRejected)
		return
	}

	if err := writeSwitchingProtocols(writer, acceptToken(key), compress); err != nil {
		_ = conn.Close()
		return
	}

	id := shortuuid.New()
	c := &Client{
		id:         id,
		conn:       conn,
		addr:       conn.RemoteAddr(),
		reader:     reader,
		writer:     writer,
		logger:     s.logger.With(slog.String("connection_id", id)),
		server:     s,
		compressed: compress,
		assembler:  newAssembler(s.config.MaxMessageSize),
	}

	s.metrics.ConnectionOpened(id)
	c.serve()
}

// dispatch runs fn, recovering from (and reporting) any panic so that a
// misbehaving callback never takes down the connection's engine.
func (s *Server) dispatch(c *Client, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.ErrorOccurred(KindProtocolViolation)
			s.logger.Error("callback panicked", slog.String("callback", name), slog.Any("panic", r))
		}
	}()
	fn()
}

func (s *Server) dispatchMessage(c *Client, msg *Message) {
	s.metrics.MessageReceived(msg.Opcode, len(msg.Data))

	switch msg.Opcode {
	case OpcodeText:
		if s.callbacks.OnText != nil {
			s.dispatch(c, "OnText", func() { s.callbacks.OnText(c, msg.Data) })
		}
	case OpcodeBinary:
		if s.callbacks.OnBinary != nil {
			s.dispatch(c, "OnBinary", func() { s.callbacks.OnBinary(c, msg.Data) })
		}
	}
}

func (s *Server) dispatchClose(c *Client, status StatusCode, reason string) {
	if s.callbacks.OnClose != nil {
		s.dispatch(c, "OnClose", func() { s.callbacks.OnClose(c, status, reason) })
	}
}

func (s *Server) dispatchPing(c *Client, data []byte) {
	if s.callbacks.OnPing != nil {
		s.dispatch(c, "OnPing", func() { s.callbacks.OnPing(c, data) })
	}
}

func (s *Server) dispatchPong(c *Client, data []byte) {
	if s.callbacks.OnPong != nil {
		s.dispatch(c, "OnPong", func() { s.callbacks.OnPong(c, data) })
	}
}

func (s *Server) dispatchDisconnect(c *Client) {
	if s.callbacks.OnDisconnect != nil {
		s.dispatch(c, "OnDisconnect", func() { s.callbacks.OnDisconnect(c) })
	}
}

func (s *Server) dispatchError(c *Client, err error) {
	wsErr, ok := err.(*Error)
	if !ok {
		wsErr = newError(KindProtocolViolation, err)
	}
	s.metrics.ErrorOccurred(wsErr.Kind)
	if s.callbacks.OnError != nil {
		s.dispatch(c, "OnError", func() { s.callbacks.OnError(c, wsErr) })
	}
}

func (s *Server) metricsConnectionClosed(id string) {
	s.metrics.ConnectionClosed(id)
}

package websocket

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Client represents one accepted, handshake-complete WebSocket
// connection. Its engine is the connection's sole owner: the *Client
// passed to application callbacks is a transient reference that must
// not be retained beyond the callback's call frame.
type Client struct {
	id     string
	conn   net.Conn
	addr   net.Addr
	reader *bufio.Reader
	writer *bufio.Writer
	logger *slog.Logger

	server     *Server
	compressed bool

	writeMu sync.Mutex

	assembler *assembler

	closeRequested atomic.Bool
	closeSent      atomic.Bool
}

// ID returns the short correlation ID this connection was assigned when
// it was accepted. Useful for log correlation and metrics.
func (c *Client) ID() string {
	return c.id
}

// Address returns the peer's network address.
func (c *Client) Address() net.Addr {
	return c.addr
}

// CloseImmediately sets the connection's close-requested flag, without
// sending a close frame. The socket is closed the next time the read
// loop checks the flag: after the frame it is currently handling, or
// when its next read returns. A loop blocked on a read with nothing to
// read stays blocked until data arrives, the read deadline passes, or
// the peer closes the connection.
func (c *Client) CloseImmediately() {
	c.closeRequested.Store(true)
}

// serve runs the connection's read loop until the peer or the
// application ends it. It owns the connection's socket and assembler
// for the whole call: nothing else touches them concurrently.
func (c *Client) serve() {
	defer c.finish()

	buf := make([]byte, c.server.config.ReadBufferSize)
	var leftover []byte

	for {
		if c.closeRequested.Load() {
			return
		}

		if d := c.server.config.ReadTimeout; d > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(d))
		}

		n, err := c.conn.Read(buf)
		if err != nil {
			if isBenignConnError(err) {
				return
			}
			c.server.dispatchError(c, newError(KindNotConnected, err))
			return
		}

		data := buf[:n]
		if len(leftover) > 0 {
			data = append(leftover, data...) //nolint:gocritic // leftover is reused as accumulator below.
			leftover = nil
		}

		for len(data) >= 2 {
			frame, trailing, err := DecodeFrame(data)
			if err != nil {
				var wsErr *Error
				if errors.As(err, &wsErr) && (wsErr.Kind == KindMissingBytes || wsErr.Kind == KindFrameTooFewBytes) {
					// The buffer holds a partial frame: carry it over to
					// the next read instead of failing the connection.
					// See DESIGN.md for why this differs from the
					// read_buffer_size >= largest-frame invariant.
					leftover = append([]byte(nil), data...)
					data = nil
					break
				}
				c.server.dispatchError(c, err)
				return
			}

			consumed := len(data) - trailing
			if err := c.handleFrame(frame); err != nil {
				c.server.dispatchError(c, err)
				return
			}
			if c.closeRequested.Load() {
				return
			}

			data = data[consumed:]
		}

		if leftover == nil && len(data) > 0 {
			leftover = append([]byte(nil), data...)
		}
	}
}

// handleFrame validates one decoded frame, feeds it to the message
// assembler, and dispatches whatever it completes.
func (c *Client) handleFrame(f Frame) error {
	if f.Rsv2 || f.Rsv3 {
		return newError(KindProtocolViolation, errors.New("reserved bits set without a negotiated extension"))
	}
	if !f.Masked {
		return newError(KindProtocolViolation, errors.New("client frame received without MASK bit set"))
	}

	msg, err := c.assembler.feed(f)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}

	switch msg.Opcode {
	case opcodeClose:
		status, reason := decodeClosePayload(msg.Data)
		c.server.dispatchClose(c, status, reason)
	case opcodePing:
		c.server.dispatchPing(c, msg.Data)
	case opcodePong:
		c.server.dispatchPong(c, msg.Data)
	default:
		c.server.dispatchMessage(c, msg)
	}
	return nil
}

// finish closes the socket and dispatches the disconnect callback. It
// runs exactly once per connection, regardless of how serve returned.
func (c *Client) finish() {
	_ = c.conn.Close()
	c.server.metricsConnectionClosed(c.id)
	c.server.dispatchDisconnect(c)
}

// isBenignConnError reports whether err represents ordinary peer loss
// (as opposed to a protocol violation): a closed/reset socket, or a read
// timeout. These end the connection silently — only the disconnect
// callback fires, not the error callback.
func isBenignConnError(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// TextAll sends data as a single, unfragmented text frame (FIN=1).
func (c *Client) TextAll(data []byte) (bool, error) {
	return c.writeFrame(OpcodeText, true, c.compressed, data)
}

// BinaryAll sends data as a single, unfragmented binary frame (FIN=1).
func (c *Client) BinaryAll(data []byte) (bool, error) {
	return c.writeFrame(OpcodeBinary, true, c.compressed, data)
}

// Text sends data as one or more text frames, auto-chunking payloads
// over [maxChunkPayload] bytes across a fragmented message.
func (c *Client) Text(data []byte) (bool, error) {
	return c.sendChunked(OpcodeText, data)
}

// Binary sends data as one or more binary frames, auto-chunking payloads
// over [maxChunkPayload] bytes across a fragmented message.
func (c *Client) Binary(data []byte) (bool, error) {
	return c.sendChunked(OpcodeBinary, data)
}

func (c *Client) sendChunked(op Opcode, data []byte) (bool, error) {
	if len(data) <= maxChunkPayload {
		return c.writeFrame(op, true, c.compressed, data)
	}

	for offset := 0; offset < len(data); offset += maxChunkPayload {
		end := min(offset+maxChunkPayload, len(data))
		fin := end == len(data)

		frameOp := op
		if offset > 0 {
			frameOp = opcodeContinuation
		}

		ok, err := c.writeFrame(frameOp, fin, c.compressed, data[offset:end])
		if !ok || err != nil {
			return ok, err
		}
	}
	return true, nil
}

// Close sends a close frame with status 1000 (normal closure) and an
// empty reason. The connection does not close until the peer echoes a
// close frame of its own: this only begins the closing handshake.
func (c *Client) Close() (bool, error) {
	return c.CloseWith(StatusNormalClosure, "")
}

// CloseWith sends a close frame with the given status and reason.
func (c *Client) CloseWith(status StatusCode, reason string) (bool, error) {
	ok, err := c.writeFrame(opcodeClose, true, false, encodeClosePayload(status, reason))
	if ok {
		c.closeSent.Store(true)
	}
	return ok, err
}

// Ping sends an empty-payload ping control frame.
func (c *Client) Ping() (bool, error) {
	return c.writeFrame(opcodePing, true, false, nil)
}

// Pong sends an empty-payload pong control frame.
func (c *Client) Pong() (bool, error) {
	return c.writeFrame(opcodePong, true, false, nil)
}

// writeFrame encodes and writes a single frame, serialized against
// concurrent sends on the same connection. It returns (false, nil) when
// the peer has already disconnected — distinguished from a genuine I/O
// error, which is returned as-is.
func (c *Client) writeFrame(op Opcode, fin, compress bool, payload []byte) (bool, error) {
	encoded, err := EncodeFrame(op, fin, compress, payload)
	if err != nil {
		return false, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d := c.server.config.WriteTimeout; d > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
	}

	if _, err := c.writer.Write(encoded); err != nil {
		if isBenignConnError(err) {
			return false, nil
		}
		return false, err
	}
	if err := c.writer.Flush(); err != nil {
		if isBenignConnError(err) {
			return false, nil
		}
		return false, err
	}
	c.server.metrics.MessageSent(op, len(payload))
	return true, nil
}

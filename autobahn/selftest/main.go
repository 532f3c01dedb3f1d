// Selftest smoke-tests a running gows server end to end, without
// depending on pkg/websocket: it speaks just enough of the client side
// of RFC 6455 by hand to exercise the handshake, a masked text echo, a
// ping/pong round trip, and the closing handshake.
//
// gows has no WebSocket client role of its own (see pkg/websocket's
// package doc), so this stands in for the client half of the
// [Autobahn Testsuite]'s fuzzingclient, scoped to the one round-trip
// scenario this repository's spec describes.
//
// [Autobahn Testsuite]: https://github.com/crossbario/autobahn-testsuite
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // required by the WebSocket protocol.
	"encoding/base64"
	"flag"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/tzrikka/gows/internal/logger"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "address of the gows server to test")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		logger.FatalError("dial error", err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	key, accept := handshake(conn, r)
	slog.Info("handshake complete", slog.String("key", key), slog.String("accept", accept))

	echoText(conn, r, "Hello")
	pingPong(conn, r)
	closeHandshake(conn, r)

	slog.Info("self-test passed")
}

// handshake sends the HTTP/1.1 upgrade request and validates the
// server's 101 response, including the Sec-WebSocket-Accept value.
func handshake(conn net.Conn, r *bufio.Reader) (key, accept string) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		logger.FatalError("failed to generate nonce", err)
	}
	key = base64.StdEncoding.EncodeToString(nonce)

	req := "GET / HTTP/1.1\r\n" +
		"Host: gows\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		logger.FatalError("failed to write handshake request", err)
	}

	status, err := r.ReadString('\n')
	if err != nil {
		logger.FatalError("failed to read status line", err)
	}
	if !strings.Contains(status, "101") {
		logger.Fatal(context.Background(), "unexpected handshake status", slog.String("status", strings.TrimSpace(status)))
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			logger.FatalError("failed to read header line", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if name, value, ok := strings.Cut(line, ": "); ok && strings.EqualFold(name, "Sec-WebSocket-Accept") {
			accept = value
		}
	}

	want := acceptToken(key)
	if accept != want {
		logger.Fatal(context.Background(), "Sec-WebSocket-Accept mismatch", slog.String("got", accept), slog.String("want", want))
	}
	return key, accept
}

func acceptToken(key string) string {
	h := sha1.New() //nolint:gosec // required by the WebSocket protocol.
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// echoText sends a masked text frame and checks the server echoes it
// back unchanged.
func echoText(conn net.Conn, r *bufio.Reader, text string) {
	writeFrame(conn, 0x1, []byte(text))

	op, payload := readFrame(r)
	if op != 0x1 || string(payload) != text {
		logger.Fatal(context.Background(), "echo mismatch", slog.Int("opcode", int(op)), slog.String("got", string(payload)))
	}
	slog.Info("text echo ok", slog.String("payload", string(payload)))
}

// pingPong sends a ping control frame and checks the server answers
// with a pong.
func pingPong(conn net.Conn, r *bufio.Reader) {
	writeFrame(conn, 0x9, nil)

	op, _ := readFrame(r)
	if op != 0xA {
		logger.Fatal(context.Background(), "expected pong", slog.Int("opcode", int(op)))
	}
	slog.Info("ping/pong ok")
}

// closeHandshake sends a normal-closure close frame and checks the
// server echoes a close frame of its own before the socket goes away.
func closeHandshake(conn net.Conn, r *bufio.Reader) {
	writeFrame(conn, 0x8, []byte{0x03, 0xE8}) // Status 1000.

	op, _ := readFrame(r)
	if op != 0x8 {
		logger.Fatal(context.Background(), "expected close frame", slog.Int("opcode", int(op)))
	}
	slog.Info("closing handshake ok")
}

// writeFrame writes a single masked client frame, as required by
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.1.
func writeFrame(conn net.Conn, opcode byte, payload []byte) {
	var mask [4]byte
	if _, err := rand.Read(mask[:]); err != nil {
		logger.FatalError("failed to generate masking key", err)
	}

	masked := make([]byte, len(payload))
	for i, b := range payload {
		masked[i] = b ^ mask[i%4]
	}

	frame := []byte{0x80 | opcode, 0x80 | byte(len(payload))}
	frame = append(frame, mask[:]...)
	frame = append(frame, masked...)

	if _, err := conn.Write(frame); err != nil {
		logger.FatalError("failed to write frame", err)
	}
}

// readFrame reads a single unmasked server frame (servers never mask
// their frames) and returns its opcode and payload. It only handles
// payloads up to 125 bytes, which is all this self-test ever sends.
func readFrame(r *bufio.Reader) (byte, []byte) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		logger.FatalError("failed to read frame header", err)
	}

	opcode := header[0] & 0x0f
	length := header[1] & 0x7f

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		logger.FatalError("failed to read frame payload", err)
	}

	return opcode, payload
}


package websocket

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// deflateTail is stripped from the end of every deflated payload, and
// appended back before inflating, per
// https://datatracker.ietf.org/doc/html/rfc7692#section-7.2.1:
// "the generic DEFLATE transform then appends 4 octets of 0x00 0x00 0xff
// 0xff to the tail end of the output.. An endpoint uses this octet sequence
// to determine that the payload represents a whole DEFLATE block".
var deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

// deflate compresses payload with raw DEFLATE (no zlib/gzip header), as
// required by permessage-deflate, and strips the trailing empty block that
// [deflateTail] represents. A fresh [flate.Writer] is used per call: this
// package resets compression context per frame rather than keeping a
// sliding window across a connection's messages (see DESIGN.md for why).
func deflate(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	out := buf.Bytes()
	out = bytes.TrimSuffix(out, deflateTail)
	// Defensive copy: buf's backing array is about to go out of scope.
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// inflate decompresses a raw DEFLATE payload. A compressed payload that
// consists of a single zero byte is treated as an empty payload.
func inflate(payload []byte) ([]byte, error) {
	if len(payload) == 1 && payload[0] == 0x00 {
		return []byte{}, nil
	}

	buf := make([]byte, 0, len(payload)+len(deflateTail))
	buf = append(buf, payload...)
	buf = append(buf, deflateTail...)

	r := flate.NewReader(bytes.NewReader(buf))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("raw DEFLATE decompression failed: %w", err)
	}
	return out, nil
}

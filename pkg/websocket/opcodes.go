package websocket

import "strconv"

// Opcode denotes the type of a WebSocket frame, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2 and
// https://datatracker.ietf.org/doc/html/rfc6455#section-11.8.
type Opcode int

const (
	opcodeContinuation Opcode = iota
	OpcodeText
	OpcodeBinary
	// 3-7 are reserved for further non-control frames.
	_
	_
	_
	_
	_
	opcodeClose
	opcodePing
	opcodePong
	// 11-15 are reserved for further control frames.
)

// String returns the opcode's name, or its number if it's unrecognized.
func (o Opcode) String() string {
	switch o {
	case opcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case opcodeClose:
		return "close"
	case opcodePing:
		return "ping"
	case opcodePong:
		return "pong"
	default:
		return strconv.Itoa(int(o))
	}
}

// isControl reports whether o is one of the three control opcodes, which
// per https://datatracker.ietf.org/doc/html/rfc6455#section-5.5 must not
// be fragmented and must carry a payload of 125 bytes or less.
func (o Opcode) isControl() bool {
	return o == opcodeClose || o == opcodePing || o == opcodePong
}

// isDefined reports whether o is one of the opcodes defined by RFC 6455.
// Anything else must fail the connection with [KindUnknownMessageType].
func (o Opcode) isDefined() bool {
	switch o {
	case opcodeContinuation, OpcodeText, OpcodeBinary, opcodeClose, opcodePing, opcodePong:
		return true
	default:
		return false
	}
}

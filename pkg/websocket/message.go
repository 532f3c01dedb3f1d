package websocket

import "fmt"

// Message is one or more (defragmented) data frames assembled into a
// single logical payload, as defined in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.6.
type Message struct {
	Opcode Opcode
	Data   []byte
}

// assembler groups consecutive frames of the same logical message into a
// [Message], and enforces the control/continuation framing rules in
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.4.
//
// An assembler is single-owner, single-goroutine state: exactly one
// [Client] loop calls feed in wire order.
type assembler struct {
	opcode     Opcode
	inProgress bool
	buf        []byte
	maxSize    uint64
}

func newAssembler(maxSize uint64) *assembler {
	return &assembler{maxSize: maxSize}
}

// feed processes one frame. Control frames (close/ping/pong) never belong
// to a message in progress: feed reports them as complete, single-frame
// [Message]s of their own, and never touches the data-frame accumulator.
//
// It returns the completed message (nil if the message isn't finished
// yet) and any protocol error that should end the connection.
func (a *assembler) feed(f Frame) (*Message, error) {
	if !f.Opcode.isDefined() {
		return nil, newError(KindUnknownMessageType, fmt.Errorf("opcode %d", f.Opcode))
	}

	if f.Opcode.isControl() {
		if !f.Fin {
			return nil, newError(KindLastMessageExpected, fmt.Errorf("fragmented %s control frame", f.Opcode))
		}
		if len(f.Payload) > maxControlPayload {
			return nil, newError(KindLastMessageExpected, fmt.Errorf("%s control frame payload of %d bytes exceeds %d", f.Opcode, len(f.Payload), maxControlPayload))
		}
		return &Message{Opcode: f.Opcode, Data: f.Payload}, nil
	}

	switch {
	case f.Opcode == opcodeContinuation:
		if !a.inProgress {
			return nil, newError(KindMessageTypeContinue, fmt.Errorf("continuation frame with nothing to continue"))
		}
	default: // OpcodeText or OpcodeBinary.
		if a.inProgress {
			return nil, newError(KindMessageTypeContinue, fmt.Errorf("%s frame while a message is already in progress", f.Opcode))
		}
		a.opcode = f.Opcode
		a.inProgress = true
		a.buf = a.buf[:0]
	}

	if uint64(len(a.buf)+len(f.Payload)) > a.maxSize {
		a.reset()
		return nil, newError(KindMessageTooLarge, fmt.Errorf("accumulated message exceeds %d bytes", a.maxSize))
	}
	a.buf = append(a.buf, f.Payload...)

	if !f.Fin {
		return nil, nil
	}

	data := make([]byte, len(a.buf))
	copy(data, a.buf)
	msg := &Message{Opcode: a.opcode, Data: data}
	a.reset()
	return msg, nil
}

func (a *assembler) reset() {
	a.inProgress = false
	a.buf = a.buf[:0]
}

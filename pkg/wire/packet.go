// Package wire implements the RFC 1350 packet formats.
//
// All multi-byte integers are network byte order. Textual fields are
// NUL-terminated. The codec is a pure transformation: it validates shape,
// not meaning (transfer-mode enforcement happens at session establishment).
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxPayload is the largest DATA payload. A payload shorter than this
	// marks the final block of a transfer.
	MaxPayload = 512

	// MaxDatagram is the largest valid TFTP datagram: a 4-byte DATA header
	// plus a full payload.
	MaxDatagram = 4 + MaxPayload

	// DefaultPort is the well-known TFTP server port. Transfers themselves
	// run on ephemeral ports.
	DefaultPort = 69

	// ModeOctet is the only transfer mode this implementation executes.
	ModeOctet = "octet"
)

// Opcode identifies a packet kind on the wire.
type Opcode uint16

const (
	OpRRQ   Opcode = 1
	OpWRQ   Opcode = 2
	OpData  Opcode = 3
	OpAck   Opcode = 4
	OpError Opcode = 5
)

func (o Opcode) String() string {
	switch o {
	case OpRRQ:
		return "RRQ"
	case OpWRQ:
		return "WRQ"
	case OpData:
		return "DATA"
	case OpAck:
		return "ACK"
	case OpError:
		return "ERROR"
	}
	return fmt.Sprintf("opcode(%d)", uint16(o))
}

// ErrorCode is the code field of an ERROR packet.
type ErrorCode uint16

const (
	ErrNotDefined        ErrorCode = 0
	ErrFileNotFound      ErrorCode = 1
	ErrAccessViolation   ErrorCode = 2
	ErrDiskFull          ErrorCode = 3
	ErrIllegalOperation  ErrorCode = 4
	ErrUnknownTID        ErrorCode = 5
	ErrFileAlreadyExists ErrorCode = 6
	ErrNoSuchUser        ErrorCode = 7
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotDefined:
		return "not defined"
	case ErrFileNotFound:
		return "file not found"
	case ErrAccessViolation:
		return "access violation"
	case ErrDiskFull:
		return "disk full or allocation exceeded"
	case ErrIllegalOperation:
		return "illegal TFTP operation"
	case ErrUnknownTID:
		return "unknown transfer ID"
	case ErrFileAlreadyExists:
		return "file already exists"
	case ErrNoSuchUser:
		return "no such user"
	}
	return fmt.Sprintf("error(%d)", uint16(c))
}

// ErrMalformedPacket indicates a datagram that does not parse as any TFTP
// packet. All decode failures wrap it.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is one of Request, Data, Ack or Error.
type Packet interface {
	Opcode() Opcode
	appendTo(b []byte) []byte
}

// Request is an RRQ or WRQ initiating a transfer.
type Request struct {
	Op       Opcode // OpRRQ or OpWRQ
	Filename string
	Mode     string // preserved as sent; compare case-insensitively
}

func (r Request) Opcode() Opcode { return r.Op }

func (r Request) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(r.Op))
	b = append(b, r.Filename...)
	b = append(b, 0)
	b = append(b, r.Mode...)
	return append(b, 0)
}

// Data carries one block of payload. Blocks are numbered from 1; a payload
// shorter than MaxPayload ends the transfer.
type Data struct {
	Block   uint16
	Payload []byte
}

func (d Data) Opcode() Opcode { return OpData }

func (d Data) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(OpData))
	b = binary.BigEndian.AppendUint16(b, d.Block)
	return append(b, d.Payload...)
}

// Last reports whether this block ends the transfer.
func (d Data) Last() bool { return len(d.Payload) < MaxPayload }

// Ack acknowledges one Data block. Block 0 acknowledges a write request.
type Ack struct {
	Block uint16
}

func (a Ack) Opcode() Opcode { return OpAck }

func (a Ack) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(OpAck))
	return binary.BigEndian.AppendUint16(b, a.Block)
}

// Error aborts a transfer with a code and a human-readable message.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e Error) Opcode() Opcode { return OpError }

func (e Error) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(OpError))
	b = binary.BigEndian.AppendUint16(b, uint16(e.Code))
	b = append(b, e.Message...)
	return append(b, 0)
}

// Encode serializes p into a fresh buffer.
func Encode(p Packet) []byte {
	return p.appendTo(make([]byte, 0, MaxDatagram))
}

// Decode parses one UDP payload into a Packet. Data and Error packets alias
// the input buffer; callers that retain the result must not reuse b.
//
// Any failure wraps ErrMalformedPacket.
func Decode(b []byte) (Packet, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(b))
	}
	op := Opcode(binary.BigEndian.Uint16(b))
	body := b[2:]

	switch op {
	case OpRRQ, OpWRQ:
		filename, rest, err := cstring(body)
		if err != nil {
			return nil, fmt.Errorf("%w: request filename: %v", ErrMalformedPacket, err)
		}
		mode, rest, err := cstring(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: request mode: %v", ErrMalformedPacket, err)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes after request", ErrMalformedPacket, len(rest))
		}
		return Request{Op: op, Filename: filename, Mode: mode}, nil

	case OpData:
		if len(b) > MaxDatagram {
			return nil, fmt.Errorf("%w: data packet of %d bytes", ErrMalformedPacket, len(b))
		}
		return Data{Block: binary.BigEndian.Uint16(body), Payload: b[4:]}, nil

	case OpAck:
		if len(b) != 4 {
			return nil, fmt.Errorf("%w: ack packet of %d bytes", ErrMalformedPacket, len(b))
		}
		return Ack{Block: binary.BigEndian.Uint16(body)}, nil

	case OpError:
		// A missing message terminator is tolerated: the code alone is
		// still meaningful, so return the remainder as a best-effort
		// message instead of failing.
		msg := b[4:]
		if i := bytes.IndexByte(msg, 0); i >= 0 {
			msg = msg[:i]
		}
		return Error{Code: ErrorCode(binary.BigEndian.Uint16(body)), Message: string(msg)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrMalformedPacket, op)
}

// cstring splits off one non-empty NUL-terminated field.
func cstring(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, errors.New("missing NUL terminator")
	}
	if i == 0 {
		return "", nil, errors.New("empty field")
	}
	return string(b[:i]), b[i+1:], nil
}

package session

import "fmt"

// Reason classifies a failed transfer.
type Reason uint8

const (
	reasonNone Reason = iota

	// TimedOut: the retry budget ran out with no reply.
	TimedOut
	// ProtocolViolation: the peer sent a block or ack number from the future.
	ProtocolViolation
	// PeerError: the peer aborted the transfer with an ERROR packet.
	PeerError
	// LocalIOError: the byte source, sink, or local socket failed.
	LocalIOError
	// Cancelled: the session's context was cancelled mid-transfer.
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case reasonNone:
		return "none"
	case TimedOut:
		return "timed out"
	case ProtocolViolation:
		return "protocol violation"
	case PeerError:
		return "peer error"
	case LocalIOError:
		return "local I/O error"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// Outcome is the terminal result of one transfer session. Sessions are
// never resumed: an Outcome is final.
type Outcome struct {
	Reason Reason // zero on success
	Err    error  // failure detail, nil on success
}

// OK reports whether the transfer completed successfully.
func (o Outcome) OK() bool { return o.Reason == reasonNone }

func (o Outcome) String() string {
	if o.OK() {
		return "success"
	}
	return fmt.Sprintf("failed (%s): %v", o.Reason, o.Err)
}

func success() Outcome { return Outcome{} }

func failure(r Reason, err error) Outcome { return Outcome{Reason: r, Err: err} }

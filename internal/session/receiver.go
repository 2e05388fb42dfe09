package session

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/sheerbytes/tftp/pkg/wire"
)

// Receiver runs the data-receiving half of a transfer: the server taking a
// WRQ, or the client fetching an RRQ. It acknowledges each block in order
// and stops on the first short block.
type Receiver struct {
	Conn   PacketConn
	Peer   *net.UDPAddr
	Sink   Sink
	Policy Policy
	Log    *logrus.Entry

	// SendInitialAck makes the receiver open with Ack(0), the server's
	// half of the WRQ handshake. A client RRQ receiver leaves it false;
	// its request was the opening move.
	SendInitialAck bool

	// Handshake, when set, is sent first and resent on timeout for as
	// long as the peer TID is unbound, so a lost RRQ datagram does not
	// kill the transfer. Once data flows the receiver never retransmits
	// anything on timeout; a quiet sender resends on its own timer.
	Handshake *wire.Request

	PeerBound bool
}

// Run drives the transfer to a terminal state. Partial sink output is
// discarded on every failure path.
func (rc *Receiver) Run(ctx context.Context) Outcome {
	s := newSession(rc.Conn, rc.Peer, rc.PeerBound, rc.Policy, rc.Log, "receiver")

	fail := func(r Reason, err error) Outcome {
		if derr := rc.Sink.Discard(); derr != nil {
			s.log.WithError(derr).Warn("could not discard partial output")
		}
		return failure(r, err)
	}

	if rc.Handshake != nil {
		if err := s.send(*rc.Handshake); err != nil {
			return fail(LocalIOError, err)
		}
	}
	if rc.SendInitialAck {
		if err := s.send(wire.Ack{Block: 0}); err != nil {
			return fail(LocalIOError, err)
		}
	}

	expected := uint16(1)
	rounds := 1
	for {
		pkt, err := s.recv(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			if s.policy.OnTimeout(rounds) == GiveUp {
				return fail(TimedOut, fmt.Errorf("no data for block %d after %d rounds", expected, rounds))
			}
			rounds++
			if rc.Handshake != nil && !s.bound {
				if err := s.send(*rc.Handshake); err != nil {
					return fail(LocalIOError, err)
				}
			}
			continue
		default:
			return fail(reasonFor(err), err)
		}

		switch pkt := pkt.(type) {
		case wire.Data:
			switch {
			case pkt.Block == expected:
				if _, err := rc.Sink.Write(pkt.Payload); err != nil {
					s.abort(wire.ErrDiskFull, "write failed")
					return fail(LocalIOError, fmt.Errorf("write block %d: %w", expected, err))
				}
				if err := s.send(wire.Ack{Block: expected}); err != nil {
					return fail(LocalIOError, err)
				}
				if pkt.Last() {
					if err := rc.Sink.Commit(); err != nil {
						return fail(LocalIOError, fmt.Errorf("commit: %w", err))
					}
					s.log.WithField("blocks", expected).Debug("transfer complete")
					return success()
				}
				expected++
				rounds = 1 // progress resets the quiet-round budget
			case pkt.Block < expected:
				// Retransmitted block, so our ack was lost. Re-ack it
				// without writing again: the payload must land exactly
				// once and the peer must not stall.
				s.log.WithField("block", pkt.Block).Debug("re-acking duplicate block")
				if err := s.send(wire.Ack{Block: pkt.Block}); err != nil {
					return fail(LocalIOError, err)
				}
			default:
				s.abort(wire.ErrIllegalOperation, "data block from the future")
				return fail(ProtocolViolation, fmt.Errorf("data block %d while expecting %d", pkt.Block, expected))
			}
		case wire.Error:
			// No reply is sent for a peer abort.
			return fail(PeerError, fmt.Errorf("peer aborted: %s (%s)", pkt.Message, pkt.Code))
		default:
			s.log.WithField("opcode", pkt.Opcode()).Warn("unexpected packet while awaiting data")
		}
	}
}

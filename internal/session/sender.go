package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/sheerbytes/tftp/pkg/wire"
)

// Sender runs the data-sending half of a transfer: the server answering an
// RRQ, or the client pushing a WRQ. It sends one block at a time and waits
// for its acknowledgment, retransmitting the same block per the policy.
//
// Block numbers are 16 bits and wraparound is not handled: a source larger
// than 512*65535 bytes is a known limitation.
type Sender struct {
	Conn   PacketConn
	Peer   *net.UDPAddr
	Source io.Reader
	Policy Policy
	Log    *logrus.Entry

	// Handshake, when set, is sent first and retransmitted until the peer
	// acknowledges block 0. This is the client WRQ flow. A server
	// answering an RRQ leaves it nil: its first DATA packet is the
	// handshake and no Ack(0) round exists.
	Handshake *wire.Request

	// PeerBound marks Peer as the complete transfer ID. Server sessions
	// know the peer's full endpoint from the request datagram; client
	// sessions discover the reply port from the first ack.
	PeerBound bool
}

// Run drives the transfer to a terminal state.
func (sn *Sender) Run(ctx context.Context) Outcome {
	s := newSession(sn.Conn, sn.Peer, sn.PeerBound, sn.Policy, sn.Log, "sender")

	if sn.Handshake != nil {
		if out, ok := s.awaitAck(ctx, *sn.Handshake, 0); !ok {
			return out
		}
	}

	buf := make([]byte, wire.MaxPayload)
	for block := uint16(1); ; block++ {
		n, err := readChunk(sn.Source, buf)
		if err != nil {
			s.abort(wire.ErrAccessViolation, "source read failed")
			return failure(LocalIOError, fmt.Errorf("read block %d: %w", block, err))
		}
		if out, ok := s.awaitAck(ctx, wire.Data{Block: block, Payload: buf[:n]}, block); !ok {
			return out
		}
		if n < wire.MaxPayload {
			s.log.WithField("blocks", block).Debug("transfer complete")
			return success()
		}
	}
}

// awaitAck sends p and waits for Ack(block), resending p on every quiet
// timeout until the policy gives up. Stale acks (earlier blocks) are
// ignored without a resend; an ack from the future fails the session.
func (s *session) awaitAck(ctx context.Context, p wire.Packet, block uint16) (Outcome, bool) {
	if err := s.send(p); err != nil {
		return failure(LocalIOError, err), false
	}
	attempts := 1
	for {
		pkt, err := s.recv(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrTimeout):
			if s.policy.OnTimeout(attempts) == GiveUp {
				return failure(TimedOut, fmt.Errorf("no ack for block %d after %d attempts", block, attempts)), false
			}
			attempts++
			s.log.WithFields(logrus.Fields{"block": block, "attempt": attempts}).Debug("resending")
			if err := s.send(p); err != nil {
				return failure(LocalIOError, err), false
			}
			continue
		default:
			return failure(reasonFor(err), err), false
		}

		switch pkt := pkt.(type) {
		case wire.Ack:
			switch {
			case pkt.Block == block:
				return Outcome{}, true
			case pkt.Block < block:
				// A duplicate of an ack we already acted on. Waiting,
				// not resending, avoids the sorcerer's-apprentice loop.
				s.log.WithField("ack", pkt.Block).Debug("ignoring stale ack")
			default:
				s.abort(wire.ErrIllegalOperation, "ack for future block")
				return failure(ProtocolViolation, fmt.Errorf("ack %d while sending block %d", pkt.Block, block)), false
			}
		case wire.Error:
			return failure(PeerError, fmt.Errorf("peer aborted: %s (%s)", pkt.Message, pkt.Code)), false
		default:
			s.log.WithField("opcode", pkt.Opcode()).Warn("unexpected packet while awaiting ack")
		}
	}
}

// readChunk fills buf from r, tolerating short reads. n is 0 at EOF, which
// still yields a (final, empty) block: an empty DATA packet is how a
// transfer whose size is a multiple of 512 signals completion.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}

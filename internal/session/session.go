// Package session implements the stop-and-wait transfer engine: one
// role-parameterized state machine (Sender/Receiver), the TID binding
// rule, and the retry/timeout policy. One Session instance serves one
// in-flight transfer and occupies one goroutine for its lifetime;
// sessions share no state and may run concurrently without limit.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sheerbytes/tftp/pkg/wire"
)

// Sink absorbs the bytes a Receiver collects. Write is called once per
// accepted block, in order. Discard is called on any failed transfer so
// partial output never survives; Commit is called exactly once on success.
type Sink interface {
	io.Writer
	Commit() error
	Discard() error
}

// session is the state shared by both roles: the endpoint, the peer TID
// (bound or still being discovered), and the retry policy.
type session struct {
	conn   PacketConn
	peer   *net.UDPAddr
	bound  bool
	policy Policy
	log    *logrus.Entry
}

func newSession(conn PacketConn, peer *net.UDPAddr, bound bool, p Policy, log *logrus.Entry, role string) *session {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &session{
		conn:   conn,
		peer:   peer,
		bound:  bound,
		policy: p.withDefaults(),
		log:    log.WithField("role", role),
	}
}

// accept applies the TID rule. The first datagram from the peer after the
// initial request fixes the reply endpoint for the rest of the session;
// anything from another endpoint afterwards is foreign traffic and is
// dropped without touching session state. Until binding, only the port
// may differ from the request endpoint, never the address.
func (s *session) accept(from *net.UDPAddr) bool {
	if s.bound {
		return from.IP.Equal(s.peer.IP) && from.Port == s.peer.Port
	}
	if s.peer != nil && !from.IP.Equal(s.peer.IP) {
		return false
	}
	s.peer = from
	s.bound = true
	s.log.WithField("peer", from).Debug("peer TID bound")
	return true
}

// recv waits up to one policy timeout for a packet from the session's
// peer. Foreign-TID datagrams and undecodable datagrams are absorbed here
// and never reach the state machine; they consume wait time but are not
// charged against the retry budget. Returns ErrTimeout, a context error,
// or a transport error otherwise.
func (s *session) recv(ctx context.Context) (wire.Packet, error) {
	deadline := time.Now().Add(s.policy.Timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrTimeout
		}
		raw, from, err := s.conn.Recv(remaining)
		if err != nil {
			return nil, err
		}
		if !s.accept(from) {
			s.log.WithField("from", from).Debug("dropping datagram from foreign TID")
			continue
		}
		pkt, err := wire.Decode(raw)
		if err != nil {
			s.log.WithError(err).Warn("dropping malformed datagram")
			continue
		}
		return pkt, nil
	}
}

func (s *session) send(p wire.Packet) error {
	return s.conn.Send(p, s.peer)
}

// abort tells the peer the session is over. Best effort: a transfer that
// is already failing should not fail harder because the notice was lost.
func (s *session) abort(code wire.ErrorCode, msg string) {
	if err := s.send(wire.Error{Code: code, Message: msg}); err != nil {
		s.log.WithError(err).Debug("error packet not sent")
	}
}

// reasonFor classifies a recv error that is not ErrTimeout.
func reasonFor(err error) Reason {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return LocalIOError
}

// RunSender serves an already-validated read request: it streams source to
// the peer at its request endpoint with the default policy. The first DATA
// packet is the handshake, so the peer TID is taken as bound.
func RunSender(ctx context.Context, conn PacketConn, peer *net.UDPAddr, source io.Reader) Outcome {
	s := Sender{Conn: conn, Peer: peer, Source: source, PeerBound: true}
	return s.Run(ctx)
}

// RunReceiver serves an already-validated write request: it acknowledges
// block 0 and collects the peer's data into sink with the default policy.
func RunReceiver(ctx context.Context, conn PacketConn, peer *net.UDPAddr, sink Sink) Outcome {
	r := Receiver{Conn: conn, Peer: peer, Sink: sink, SendInitialAck: true, PeerBound: true}
	return r.Run(ctx)
}

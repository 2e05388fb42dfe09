package session

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheerbytes/tftp/pkg/wire"
)

func TestSenderHappyPath(t *testing.T) {
	peer := udpAddr(9001)
	conn := newScript(peer).
		deliver(wire.Ack{Block: 1}).
		deliver(wire.Ack{Block: 2})

	payload := bytes.Repeat([]byte{'x'}, wire.MaxPayload+10)
	s := Sender{Conn: conn, Peer: peer, Source: bytes.NewReader(payload), PeerBound: true}
	out := s.Run(context.Background())

	require.True(t, out.OK(), "outcome: %s", out)
	require.Len(t, conn.sent, 2)
	assert.Equal(t, uint16(1), conn.sent[0].(wire.Data).Block)
	assert.Len(t, conn.sent[0].(wire.Data).Payload, wire.MaxPayload)
	assert.Equal(t, uint16(2), conn.sent[1].(wire.Data).Block)
	assert.Len(t, conn.sent[1].(wire.Data).Payload, 10)
}

func TestSenderWriteHandshake(t *testing.T) {
	// Client WRQ flow: the request is retransmitted until Ack(0) arrives,
	// then data starts at block 1.
	peer := udpAddr(9001)
	conn := newScript(peer).
		deliver(wire.Ack{Block: 0}).
		deliver(wire.Ack{Block: 1})

	req := wire.Request{Op: wire.OpWRQ, Filename: "up.bin", Mode: wire.ModeOctet}
	s := Sender{Conn: conn, Peer: peer, Source: strings.NewReader("hi"), Handshake: &req}
	out := s.Run(context.Background())

	require.True(t, out.OK(), "outcome: %s", out)
	require.Len(t, conn.sent, 2)
	assert.Equal(t, req, conn.sent[0])
	assert.Equal(t, wire.Data{Block: 1, Payload: []byte("hi")}, conn.sent[1])
}

func TestSenderTimeoutExhaustsRetryBudget(t *testing.T) {
	// Acks for blocks 1 and 2 arrive, then the peer goes silent while we
	// wait for Ack(3). With a ceiling of 5 the block must be sent exactly
	// 5 times and nothing may follow the 5th copy.
	peer := udpAddr(9001)
	conn := newScript(peer).
		deliver(wire.Ack{Block: 1}).
		deliver(wire.Ack{Block: 2})

	payload := bytes.Repeat([]byte{'y'}, 2*wire.MaxPayload+1)
	s := Sender{
		Conn:      conn,
		Peer:      peer,
		Source:    bytes.NewReader(payload),
		Policy:    Policy{Timeout: time.Second, Attempts: 5},
		PeerBound: true,
	}
	out := s.Run(context.Background())

	require.False(t, out.OK())
	assert.Equal(t, TimedOut, out.Reason)

	copies := 0
	for _, p := range conn.sent {
		if d, ok := p.(wire.Data); ok && d.Block == 3 {
			copies++
		}
	}
	assert.Equal(t, 5, copies)
	last := conn.sent[len(conn.sent)-1]
	assert.Equal(t, uint16(3), last.(wire.Data).Block, "no packet may follow the final retransmission")
}

func TestSenderIgnoresStaleAck(t *testing.T) {
	peer := udpAddr(9001)
	conn := newScript(peer).
		deliver(wire.Ack{Block: 0}). // stale, e.g. a duplicated handshake ack
		deliver(wire.Ack{Block: 1})

	s := Sender{Conn: conn, Peer: peer, Source: strings.NewReader("ok"), PeerBound: true}
	out := s.Run(context.Background())

	require.True(t, out.OK(), "outcome: %s", out)
	assert.Equal(t, 1, countData(conn.sent), "a stale ack must not trigger a resend")
}

func TestSenderFutureAckIsProtocolViolation(t *testing.T) {
	peer := udpAddr(9001)
	conn := newScript(peer).deliver(wire.Ack{Block: 7})

	s := Sender{Conn: conn, Peer: peer, Source: strings.NewReader("ok"), PeerBound: true}
	out := s.Run(context.Background())

	require.False(t, out.OK())
	assert.Equal(t, ProtocolViolation, out.Reason)
	last := conn.sent[len(conn.sent)-1].(wire.Error)
	assert.Equal(t, wire.ErrIllegalOperation, last.Code)
}

func TestSenderPeerErrorFailsSilently(t *testing.T) {
	peer := udpAddr(9001)
	conn := newScript(peer).deliver(wire.Error{Code: wire.ErrDiskFull, Message: "disk full"})

	s := Sender{Conn: conn, Peer: peer, Source: strings.NewReader("ok"), PeerBound: true}
	out := s.Run(context.Background())

	require.False(t, out.OK())
	assert.Equal(t, PeerError, out.Reason)
	assert.ErrorContains(t, out.Err, "disk full")
	require.Len(t, conn.sent, 1, "no reply is sent to a peer error")
	assert.Equal(t, wire.OpData, conn.sent[0].Opcode())
}

func TestSenderIgnoresForeignTID(t *testing.T) {
	peer := udpAddr(9001)
	stranger := udpAddr(9999)
	conn := newScript(peer).
		deliverFrom(wire.Ack{Block: 7}, stranger). // would be fatal if accepted
		deliver(wire.Ack{Block: 1})

	s := Sender{Conn: conn, Peer: peer, Source: strings.NewReader("ok"), PeerBound: true}
	out := s.Run(context.Background())

	require.True(t, out.OK(), "outcome: %s", out)
}

func TestSenderSourceReadError(t *testing.T) {
	peer := udpAddr(9001)
	conn := newScript(peer)

	s := Sender{Conn: conn, Peer: peer, Source: brokenReader{}, PeerBound: true}
	out := s.Run(context.Background())

	require.False(t, out.OK())
	assert.Equal(t, LocalIOError, out.Reason)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, wire.ErrAccessViolation, conn.sent[0].(wire.Error).Code)
}

func TestSenderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	peer := udpAddr(9001)
	s := Sender{Conn: newScript(peer), Peer: peer, Source: strings.NewReader("ok"), PeerBound: true}
	out := s.Run(ctx)

	require.False(t, out.OK())
	assert.Equal(t, Cancelled, out.Reason)
}

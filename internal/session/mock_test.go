package session

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sheerbytes/tftp/pkg/wire"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// clonePacket deep-copies DATA payloads, which otherwise alias a buffer
// the sender reuses between blocks.
func clonePacket(p wire.Packet) wire.Packet {
	if d, ok := p.(wire.Data); ok {
		d.Payload = append([]byte(nil), d.Payload...)
		return d
	}
	return p
}

type datagram struct {
	raw  []byte
	from *net.UDPAddr
}

// pairConn is an in-process lossless loopback: everything sent on one end
// arrives on the other. It records sent packets for assertions.
type pairConn struct {
	addr  *net.UDPAddr
	other *pairConn
	inbox chan datagram

	mu   sync.Mutex
	sent []wire.Packet
}

func newPair() (a, b *pairConn) {
	a = &pairConn{addr: udpAddr(7001), inbox: make(chan datagram, 1024)}
	b = &pairConn{addr: udpAddr(7002), inbox: make(chan datagram, 1024)}
	a.other, b.other = b, a
	return a, b
}

func (c *pairConn) Send(p wire.Packet, to *net.UDPAddr) error {
	c.mu.Lock()
	c.sent = append(c.sent, clonePacket(p))
	c.mu.Unlock()
	c.other.inbox <- datagram{raw: wire.Encode(p), from: c.addr}
	return nil
}

func (c *pairConn) Recv(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	select {
	case d := <-c.inbox:
		return d.raw, d.from, nil
	case <-time.After(timeout):
		return nil, nil, ErrTimeout
	}
}

func (c *pairConn) LocalAddr() *net.UDPAddr { return c.addr }
func (c *pairConn) Close() error            { return nil }

func (c *pairConn) sentPackets() []wire.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Packet(nil), c.sent...)
}

func countData(sent []wire.Packet) int {
	n := 0
	for _, p := range sent {
		if p.Opcode() == wire.OpData {
			n++
		}
	}
	return n
}

// scriptConn replays a fixed sequence of incoming datagrams with no
// wall-clock waiting at all: once the script runs out, every Recv is an
// instant timeout. This is what makes the retry tests deterministic.
type scriptConn struct {
	addr  *net.UDPAddr
	peer  *net.UDPAddr
	steps []datagram
	sent  []wire.Packet
}

func newScript(peer *net.UDPAddr) *scriptConn {
	return &scriptConn{addr: udpAddr(7000), peer: peer}
}

// deliver queues a packet as if the session peer had sent it.
func (c *scriptConn) deliver(p wire.Packet) *scriptConn {
	return c.deliverFrom(p, c.peer)
}

// deliverFrom queues a packet from an arbitrary endpoint.
func (c *scriptConn) deliverFrom(p wire.Packet, from *net.UDPAddr) *scriptConn {
	c.steps = append(c.steps, datagram{raw: wire.Encode(p), from: from})
	return c
}

func (c *scriptConn) Send(p wire.Packet, to *net.UDPAddr) error {
	c.sent = append(c.sent, clonePacket(p))
	return nil
}

func (c *scriptConn) Recv(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if len(c.steps) == 0 {
		return nil, nil, ErrTimeout
	}
	d := c.steps[0]
	c.steps = c.steps[1:]
	return d.raw, d.from, nil
}

func (c *scriptConn) LocalAddr() *net.UDPAddr { return c.addr }
func (c *scriptConn) Close() error            { return nil }

// memSink collects writes in memory and records lifecycle calls.
type memSink struct {
	bytes.Buffer
	committed bool
	discarded bool
}

func (m *memSink) Commit() error  { m.committed = true; return nil }
func (m *memSink) Discard() error { m.discarded = true; return nil }

// brokenSink fails every write.
type brokenSink struct {
	memSink
}

func (b *brokenSink) Write(p []byte) (int, error) {
	return 0, errors.New("no space left on device")
}

// brokenReader fails on the first read.
type brokenReader struct{}

func (brokenReader) Read(p []byte) (int, error) {
	return 0, errors.New("input/output error")
}

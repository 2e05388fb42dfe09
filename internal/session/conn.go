package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sheerbytes/tftp/internal/bufpool"
	"github.com/sheerbytes/tftp/pkg/wire"
)

// ErrTimeout is returned by PacketConn.Recv when no datagram arrived
// within the allotted wait.
var ErrTimeout = errors.New("timed out waiting for datagram")

// PacketConn is the datagram endpoint a session drives. Each session owns
// its endpoint exclusively, so implementations only need to be safe for
// one goroutine.
type PacketConn interface {
	// Send encodes p and transmits it to the given address.
	Send(p wire.Packet, to *net.UDPAddr) error
	// Recv waits up to timeout for one datagram and returns its payload
	// and source address. Returns ErrTimeout when nothing arrived.
	Recv(timeout time.Duration) ([]byte, *net.UDPAddr, error)
	LocalAddr() *net.UDPAddr
	Close() error
}

// UDPConn adapts a net.UDPConn to PacketConn.
type UDPConn struct {
	c    *net.UDPConn
	pool *bufpool.Pool
}

// ListenPacket binds a UDP endpoint. A nil address (or port 0) yields an
// ephemeral port; transfer sessions always use one so no two sessions
// share a TID.
func ListenPacket(laddr *net.UDPAddr) (*UDPConn, error) {
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind udp: %w", err)
	}
	// One byte beyond the largest legal datagram, so an oversized
	// datagram decodes as malformed instead of being silently truncated
	// to a valid full-size DATA packet.
	return &UDPConn{c: c, pool: bufpool.New(wire.MaxDatagram + 1)}, nil
}

func (u *UDPConn) Send(p wire.Packet, to *net.UDPAddr) error {
	if _, err := u.c.WriteToUDP(wire.Encode(p), to); err != nil {
		return fmt.Errorf("send %s to %s: %w", p.Opcode(), to, err)
	}
	return nil
}

func (u *UDPConn) Recv(timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	if err := u.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, err
	}
	buf := u.pool.Get()
	defer u.pool.Put(buf)
	n, addr, err := u.c.ReadFromUDP(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return nil, nil, ErrTimeout
		}
		return nil, nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, addr, nil
}

func (u *UDPConn) LocalAddr() *net.UDPAddr { return u.c.LocalAddr().(*net.UDPAddr) }

func (u *UDPConn) Close() error { return u.c.Close() }

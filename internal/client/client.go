// Package client drives transfers against a TFTP server: Get fetches a
// remote file, Put stores a local one. Each call is one session on its own
// ephemeral endpoint.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sheerbytes/tftp/internal/session"
	"github.com/sheerbytes/tftp/internal/store"
	"github.com/sheerbytes/tftp/pkg/wire"
)

// Client holds per-server transfer settings. The zero values of Timeout
// and Retries mean the engine defaults (5s, 5 attempts).
type Client struct {
	ServerAddr string // host:port of the request endpoint
	Timeout    time.Duration
	Retries    int
	Log        *logrus.Entry
}

// Get fetches remote into local. On any failure the partial local file is
// removed.
func (c *Client) Get(ctx context.Context, remote, local string) error {
	server, conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	sink, err := store.CreateSink(local, false)
	if err != nil {
		return err
	}

	req := wire.Request{Op: wire.OpRRQ, Filename: remote, Mode: wire.ModeOctet}
	rcv := session.Receiver{
		Conn:      conn,
		Peer:      server,
		Sink:      sink,
		Policy:    c.policy(),
		Log:       c.Log,
		Handshake: &req,
	}
	return outcomeErr("get", remote, rcv.Run(ctx))
}

// Put stores local as remote on the server.
func (c *Client) Put(ctx context.Context, local, remote string) error {
	server, conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	src, err := store.OpenSource(local)
	if err != nil {
		return err
	}
	defer src.Close()

	req := wire.Request{Op: wire.OpWRQ, Filename: remote, Mode: wire.ModeOctet}
	snd := session.Sender{
		Conn:      conn,
		Peer:      server,
		Source:    src,
		Policy:    c.policy(),
		Log:       c.Log,
		Handshake: &req,
	}
	return outcomeErr("put", remote, snd.Run(ctx))
}

// dial resolves the server and opens the transfer-local endpoint. The
// server's reply will come from an ephemeral port; the session discovers
// it via TID binding, so the request endpoint is the peer only by address.
func (c *Client) dial() (*net.UDPAddr, *session.UDPConn, error) {
	server, err := net.ResolveUDPAddr("udp", c.ServerAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve server %q: %w", c.ServerAddr, err)
	}
	conn, err := session.ListenPacket(nil)
	if err != nil {
		return nil, nil, err
	}
	return server, conn, nil
}

func (c *Client) policy() session.Policy {
	return session.Policy{Timeout: c.Timeout, Attempts: c.Retries}
}

func outcomeErr(op, file string, out session.Outcome) error {
	if out.OK() {
		return nil
	}
	return fmt.Errorf("%s %s: %s: %w", op, file, out.Reason, out.Err)
}

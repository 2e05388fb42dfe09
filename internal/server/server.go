// Package server accepts TFTP requests on the well-known port and runs one
// transfer session per request, each on its own ephemeral endpoint and its
// own goroutine.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"sync"

	"github.com/gofrs/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sheerbytes/tftp/internal/bufpool"
	"github.com/sheerbytes/tftp/internal/config"
	"github.com/sheerbytes/tftp/internal/session"
	"github.com/sheerbytes/tftp/internal/store"
	"github.com/sheerbytes/tftp/pkg/wire"
)

// requestBufSize is the read size on the request port, a full MTU so
// long filenames arrive intact.
const requestBufSize = 1500

// Server owns the request socket. Transfers never run on it: every
// accepted request gets a fresh ephemeral endpoint, so concurrent sessions
// cannot confuse each other's TIDs.
type Server struct {
	cfg    config.ServerConfig
	policy store.PathPolicy
	log    *logrus.Entry

	conn *net.UDPConn
	pool *bufpool.Pool
	wg   sync.WaitGroup
}

// New creates a server rooted at cfg.Root with a directory path policy.
func New(cfg config.ServerConfig, logger *logrus.Entry) *Server {
	return &Server{
		cfg:    cfg,
		policy: &store.DirPolicy{Root: cfg.Root, AllowOverwrite: cfg.AllowOverwrite},
		log:    logger,
		// Request datagrams have no 516-byte cap: a filename can push an
		// RRQ/WRQ well past it. Transfer sockets keep the tight cap.
		pool: bufpool.New(requestBufSize),
	}
}

// Listen binds the request socket.
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", s.cfg.Addr, err)
	}
	s.conn, err = net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	s.log.WithField("addr", s.conn.LocalAddr()).Info("listening")
	return nil
}

// LocalAddr returns the bound request endpoint. Only valid after Listen.
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Serve accepts requests until ctx is cancelled, then waits for in-flight
// transfers to observe the cancellation and finish failing.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		buf := s.pool.Get()
		n, peer, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			s.pool.Put(buf)
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("read request socket: %w", err)
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])
		s.pool.Put(buf)

		pkt, err := wire.Decode(raw)
		if err != nil {
			// Malformed datagrams on the request port are dropped, never
			// answered: there is no session to fail and no TID to reply to.
			s.log.WithError(err).WithField("peer", peer).Warn("dropping malformed datagram")
			continue
		}
		req, ok := pkt.(wire.Request)
		if !ok {
			s.log.WithFields(logrus.Fields{"peer": peer, "opcode": pkt.Opcode()}).
				Warn("dropping non-request packet on request port")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, req, peer)
		}()
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// handle validates one request and, if accepted, runs its session to a
// terminal state. Rejections are answered from the transfer endpoint: the
// peer expects the reply from a fresh port either way.
func (s *Server) handle(ctx context.Context, req wire.Request, peer *net.UDPAddr) {
	log := s.log.WithFields(logrus.Fields{
		"transfer": transferID(),
		"peer":     peer.String(),
		"op":       req.Op.String(),
		"file":     req.Filename,
	})

	conn, err := session.ListenPacket(nil)
	if err != nil {
		log.WithError(err).Error("cannot open transfer endpoint")
		return
	}
	defer conn.Close()

	reject := func(code wire.ErrorCode, msg string) {
		log.WithField("code", code.String()).Warn("request rejected: " + msg)
		if err := conn.Send(wire.Error{Code: code, Message: msg}, peer); err != nil {
			log.WithError(err).Debug("rejection not sent")
		}
	}

	if !strings.EqualFold(req.Mode, wire.ModeOctet) {
		reject(wire.ErrIllegalOperation, "only octet mode is supported")
		return
	}

	direction := store.Read
	if req.Op == wire.OpWRQ {
		direction = store.Write
	}
	path, err := s.policy.Authorize(req.Filename, direction)
	if err != nil {
		var denied *store.DeniedError
		if errors.As(err, &denied) {
			reject(denied.Code, denied.Msg)
		} else {
			log.WithError(err).Error("path policy failed")
			reject(wire.ErrNotDefined, "internal error")
		}
		return
	}

	policy := session.Policy{Timeout: s.cfg.Timeout, Attempts: s.cfg.Retries}

	var out session.Outcome
	switch req.Op {
	case wire.OpRRQ:
		src, err := store.OpenSource(path)
		if err != nil {
			reject(openErrorCode(err))
			return
		}
		defer src.Close()
		snd := session.Sender{Conn: conn, Peer: peer, Source: src, Policy: policy, Log: log, PeerBound: true}
		out = snd.Run(ctx)
	case wire.OpWRQ:
		sink, err := store.CreateSink(path, !s.cfg.AllowOverwrite)
		if err != nil {
			reject(wire.ErrAccessViolation, "cannot create file")
			return
		}
		rcv := session.Receiver{
			Conn: conn, Peer: peer, Sink: sink, Policy: policy, Log: log,
			SendInitialAck: true, PeerBound: true,
		}
		out = rcv.Run(ctx)
	}

	if out.OK() {
		log.Info("transfer complete")
		return
	}
	log.WithError(out.Err).WithField("reason", out.Reason.String()).Warn("transfer failed")
}

// openErrorCode maps an OpenSource failure to the error reported to the
// peer. Anything that is not a permission problem reads as absence.
func openErrorCode(err error) (wire.ErrorCode, string) {
	if errors.Is(err, fs.ErrPermission) {
		return wire.ErrAccessViolation, "access denied"
	}
	return wire.ErrFileNotFound, "file not found"
}

// transferID tags one transfer's log lines. Short on purpose; it only has
// to be unique among sessions that are alive at the same time.
func transferID() string {
	return uuid.Must(uuid.NewV4()).String()[:8]
}

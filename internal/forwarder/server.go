// Package forwarder implements the server and client event loops that
// multiplex a UDP socket and a TUN device: the server's three
// cooperating tasks (UDP-in, TUN-in, idle-expiry sweep) share a
// session.Table under its internal lock, and the client's two tasks
// drive its registration state machine.
package forwarder

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duskline-vpn/duskline/internal/codec"
	"github.com/duskline-vpn/duskline/internal/session"
	"github.com/duskline-vpn/duskline/pkg/ippool"
	"github.com/duskline-vpn/duskline/pkg/wire"
)

// IdleSweepInterval is how often the server checks the session table for
// expired clients. The table's own IdleTimeout governs what counts as
// expired; this is only the polling cadence.
const IdleSweepInterval = 5 * time.Second

// Server is the server-side forwarder: it owns the session table, the
// two address pools, the UDP socket, and the server's own TUN device.
type Server struct {
	conn   *net.UDPConn
	tun    io.ReadWriteCloser
	table  *session.Table
	poolV4 *ippool.Pool
	poolV6 *ippool.Pool
	log    *zap.Logger
}

// NewServer constructs a Server over an already-bound UDP socket and an
// already-open TUN device. The server's own TUN address must already
// have been allocated from poolV4/poolV6 by the caller before clients
// are admitted, matching the upstream allocator's "consume one address
// for the server itself at startup" behavior.
func NewServer(conn *net.UDPConn, tun io.ReadWriteCloser, table *session.Table, poolV4, poolV6 *ippool.Pool, log *zap.Logger) *Server {
	return &Server{conn: conn, tun: tun, table: table, poolV4: poolV4, poolV6: poolV6, log: log}
}

// Run drives the UDP-in, TUN-in, and idle-expiry tasks until ctx is
// canceled or one of them returns a fatal error.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.udpLoop(ctx) })
	g.Go(func() error { return s.tunLoop(ctx) })
	g.Go(func() error { return s.idleLoop(ctx) })
	return g.Wait()
}

func (s *Server) udpLoop(ctx context.Context) error {
	buf := make([]byte, wire.MaxFrameLen)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("forwarder: udp read: %w", err)
		}
		if n < wire.ClientIDLen {
			continue
		}
		s.handleUDPDatagram(buf[:n], remote)
	}
}

func (s *Server) handleUDPDatagram(data []byte, remote *net.UDPAddr) {
	id, payload, err := codec.ParseClientFrame(data)
	if err != nil {
		s.log.Debug("dropping malformed datagram", zap.Error(err))
		return
	}

	endpoint := remote.AddrPort()

	if _, known := s.table.Get(id); !known {
		if err := s.admit(id, endpoint); err != nil {
			s.log.Warn("admission failed", zap.Stringer("client_id", id), zap.Error(err))
			return
		}
	} else {
		s.table.Touch(id, endpoint)
	}

	if len(payload) == 0 {
		return
	}

	rec, ok := s.table.Get(id)
	if !ok {
		return
	}

	s.forwardToTUN(payload, rec)
}

func (s *Server) admit(id wire.ClientID, endpoint netip.AddrPort) error {
	v4, err := s.poolV4.Allocate()
	if err != nil {
		return fmt.Errorf("allocate v4: %w", err)
	}
	v6, err := s.poolV6.Allocate()
	if err != nil {
		s.poolV4.Release(v4)
		return fmt.Errorf("allocate v6: %w", err)
	}

	s.table.AddClient(id, endpoint, v4, v6)

	reply := make([]byte, wire.VirtualAddressesLen)
	n, err := wire.EncodeVirtualAddresses(reply, v4, v6)
	if err != nil {
		return fmt.Errorf("encode virtual addresses: %w", err)
	}
	if _, err := s.conn.WriteToUDP(reply[:n], net.UDPAddrFromAddrPort(endpoint)); err != nil {
		return fmt.Errorf("send virtual addresses: %w", err)
	}
	s.log.Info("admitted client", zap.Stringer("client_id", id), zap.String("v4", v4.String()), zap.String("v6", v6.String()))
	return nil
}

func (s *Server) forwardToTUN(payload []byte, rec session.Record) {
	version, err := codec.IPVersion(payload)
	if err != nil {
		return
	}

	var out []byte
	switch version {
	case 4:
		out, err = codec.RewriteSourceV4(payload, rec.VirtualV4)
	case 6:
		out, err = codec.RewriteSourceV6(payload, rec.VirtualV6)
	default:
		return
	}
	if err != nil {
		s.log.Debug("dropping unparseable inner packet", zap.Error(err))
		return
	}

	if _, err := s.tun.Write(out); err != nil {
		s.log.Error("tun write failed", zap.Error(err))
	}
}

func (s *Server) tunLoop(ctx context.Context) error {
	buf := make([]byte, 1+wire.MTU)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := s.tun.Read(buf[1:])
		if err != nil {
			return fmt.Errorf("forwarder: tun read: %w", err)
		}
		s.handleTUNPacket(buf, n)
	}
}

func (s *Server) handleTUNPacket(buf []byte, n int) {
	inner := buf[1 : 1+n]
	version, err := codec.IPVersion(inner)
	if err != nil {
		return
	}

	dst, ok := codec.DestinationAddr(version, inner)
	if !ok {
		return
	}

	id, ok := s.table.ClientForAddr(dst)
	if !ok {
		return
	}
	rec, ok := s.table.Get(id)
	if !ok {
		return
	}

	frameLen, err := codec.EncodeServerForward(buf, inner)
	if err != nil {
		s.log.Error("encode forward frame failed", zap.Error(err))
		return
	}

	if _, err := s.conn.WriteToUDP(buf[:frameLen], net.UDPAddrFromAddrPort(rec.RemoteEndpoint)); err != nil {
		s.log.Error("udp write failed", zap.Error(err))
	}
}

func (s *Server) idleLoop(ctx context.Context) error {
	ticker := time.NewTicker(IdleSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			s.sweepOnce(now)
		}
	}
}

func (s *Server) sweepOnce(now time.Time) {
	for {
		id, ok := s.table.ExpireDue(now)
		if !ok {
			return
		}
		rec, ok := s.table.Get(id)
		if !ok {
			return
		}
		s.table.Remove(id)
		s.poolV4.Release(rec.VirtualV4)
		s.poolV6.Release(rec.VirtualV6)
		s.log.Info("expired idle client", zap.Stringer("client_id", id))
	}
}

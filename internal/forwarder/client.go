package forwarder

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/duskline-vpn/duskline/internal/codec"
	"github.com/duskline-vpn/duskline/pkg/wire"
)

// TUNInstaller is invoked once per VIRTUAL_ADDRESSES admission with the
// assigned addresses, so the caller can open tun0 and run the
// RouteAdapter against it. It returns the opened device.
type TUNInstaller func(v4, v6 netip.Addr) (io.ReadWriteCloser, error)

// Client is the client-side forwarder. It owns the connected UDP socket
// and drives the UNREGISTERED -> AWAITING_ADDR -> ACTIVE state machine;
// the TUN device is created lazily on the transition into ACTIVE.
type Client struct {
	conn     *net.UDPConn
	clientID wire.ClientID
	install  TUNInstaller
	log      *zap.Logger

	mu  sync.Mutex
	tun io.ReadWriteCloser
}

// NewClient connects a UDP socket to (serverAddr, serverPort) and
// returns a Client ready to run. The beacon is not sent until Run is
// called.
func NewClient(serverAddr string, serverPort uint16, id wire.ClientID, install TUNInstaller, log *zap.Logger) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", serverAddr, serverPort))
	if err != nil {
		return nil, fmt.Errorf("forwarder: resolve server address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("forwarder: dial server: %w", err)
	}
	return &Client{conn: conn, clientID: id, install: install, log: log}, nil
}

// Run sends the registration beacon and drives the UDP-in/TUN-in loops
// until ctx is canceled or an unrecoverable error occurs.
func (c *Client) Run(ctx context.Context) error {
	if _, err := c.conn.Write(c.clientID[:]); err != nil {
		return fmt.Errorf("forwarder: send beacon: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.udpLoop(ctx) })
	g.Go(func() error { return c.tunLoop(ctx) })
	return g.Wait()
}

func (c *Client) activeTUN() io.ReadWriteCloser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tun
}

func (c *Client) udpLoop(ctx context.Context) error {
	buf := make([]byte, wire.MaxFrameLen)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		c.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("forwarder: udp read: %w", err)
		}
		c.handleUDPDatagram(buf[:n])
	}
}

func (c *Client) handleUDPDatagram(data []byte) {
	frameType, payload, err := codec.ParseServerFrame(data)
	if err != nil {
		return
	}

	switch frameType {
	case wire.FrameForward:
		if tun := c.activeTUN(); tun != nil {
			if _, err := tun.Write(payload); err != nil {
				c.log.Error("tun write failed", zap.Error(err))
			}
		}
	case wire.FrameVirtualAddresses:
		c.handleVirtualAddresses(payload)
	default:
		// Ignored per protocol.
	}
}

func (c *Client) handleVirtualAddresses(payload []byte) {
	v4, v6, err := wire.DecodeVirtualAddresses(payload)
	if err != nil {
		c.log.Warn("malformed virtual addresses frame", zap.Error(err))
		return
	}

	tun, err := c.install(v4, v6)
	if err != nil {
		c.log.Error("tun installation failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	old := c.tun
	c.tun = tun
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	c.log.Info("activated tunnel", zap.String("v4", v4.String()), zap.String("v6", v6.String()))
}

func (c *Client) tunLoop(ctx context.Context) error {
	buf := make([]byte, wire.ClientIDLen+wire.MTU)
	copy(buf[:wire.ClientIDLen], c.clientID[:])

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		tun := c.activeTUN()
		if tun == nil {
			// No TUN yet: back off instead of busy-looping the select,
			// matching the spec's requirement to gate this branch until
			// VIRTUAL_ADDRESSES arrives.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		n, err := tun.Read(buf[wire.ClientIDLen:])
		if err != nil {
			if c.activeTUN() != tun {
				// The TUN was swapped out from under us (a new
				// VIRTUAL_ADDRESSES arrived); this read's error is
				// expected, not fatal.
				continue
			}
			return fmt.Errorf("forwarder: tun read: %w", err)
		}

		if _, err := c.conn.Write(buf[:wire.ClientIDLen+n]); err != nil {
			c.log.Error("udp write failed", zap.Error(err))
		}
	}
}

// Command duskline-server runs the VPN concentrator: it owns the TUN
// device and UDP socket every client tunnels through, admitting clients
// and forwarding inner packets between them and the outside network.
package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/duskline-vpn/duskline/internal/config"
	"github.com/duskline-vpn/duskline/internal/forwarder"
	"github.com/duskline-vpn/duskline/internal/routeadapter"
	"github.com/duskline-vpn/duskline/internal/session"
	"github.com/duskline-vpn/duskline/internal/tundevice"
	"github.com/duskline-vpn/duskline/pkg/ippool"
	"github.com/duskline-vpn/duskline/pkg/wire"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "duskline-server: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("exiting", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	v4Prefix, err := netip.ParsePrefix(cfg.PoolV4CIDR)
	if err != nil {
		return fmt.Errorf("parse POOL_V4_CIDR %q: %w", cfg.PoolV4CIDR, err)
	}
	v6Prefix, err := netip.ParsePrefix(cfg.PoolV6CIDR)
	if err != nil {
		return fmt.Errorf("parse POOL_V6_CIDR %q: %w", cfg.PoolV6CIDR, err)
	}

	poolV4, err := ippool.New(v4Prefix)
	if err != nil {
		return fmt.Errorf("init v4 pool: %w", err)
	}
	poolV6, err := ippool.New(v6Prefix)
	if err != nil {
		return fmt.Errorf("init v6 pool: %w", err)
	}

	// The server consumes the first address of each pool for its own
	// TUN interface before any client is admitted.
	serverV4, err := poolV4.Allocate()
	if err != nil {
		return fmt.Errorf("allocate server v4 address: %w", err)
	}
	serverV6, err := poolV6.Allocate()
	if err != nil {
		return fmt.Errorf("allocate server v6 address: %w", err)
	}
	log.Info("reserved server tunnel addresses", zap.String("v4", serverV4.String()), zap.String("v6", serverV6.String()))

	tun, err := tundevice.Open(cfg.TUNName)
	if err != nil {
		return fmt.Errorf("open tun device: %w", err)
	}
	defer tun.Close()

	if err := tun.Configure(
		netip.PrefixFrom(serverV4, v4Prefix.Bits()),
		netip.PrefixFrom(serverV6, v6Prefix.Bits()),
		wire.MTU,
	); err != nil {
		return fmt.Errorf("configure tun device: %w", err)
	}

	if err := routeadapter.InstallServerRoutes(routeadapter.ServerConfig{
		IfaceName: tun.Name(),
		V4CIDR:    cfg.PoolV4CIDR,
		V6CIDR:    cfg.PoolV6CIDR,
	}); err != nil {
		log.Warn("route/NAT setup incomplete, continuing without it", zap.Error(err))
	}

	udpAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort))
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind udp socket: %w", err)
	}
	defer conn.Close()

	table := session.New()
	srv := forwarder.NewServer(conn, tun, table, poolV4, poolV6, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("duskline-server listening",
		zap.String("addr", conn.LocalAddr().String()),
		zap.String("tun", tun.Name()),
		zap.String("v4_pool", cfg.PoolV4CIDR),
		zap.String("v6_pool", cfg.PoolV6CIDR),
	)

	return srv.Run(ctx)
}

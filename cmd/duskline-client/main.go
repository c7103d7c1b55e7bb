// Command duskline-client dials a duskline-server and joins the virtual
// network: on admission it receives its virtual IPv4/IPv6 addresses,
// opens a TUN device, and installs split-default routes over it.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/duskline-vpn/duskline/internal/config"
	"github.com/duskline-vpn/duskline/internal/forwarder"
	"github.com/duskline-vpn/duskline/internal/routeadapter"
	"github.com/duskline-vpn/duskline/internal/tundevice"
	"github.com/duskline-vpn/duskline/pkg/wire"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "duskline-client: init logger: %v\n", err)
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

	id, err := resolveClientID(cfg.ClientID, log)
	if err != nil {
		return err
	}

	// The client's TUN address needs the same subnet mask the server
	// allocated its addresses from (spec.md §4.5: "the server-side v4
	// mask" / "the configured prefix"), so it reads the same pool CIDRs
	// from its own config.
	v4Prefix, err := netip.ParsePrefix(cfg.PoolV4CIDR)
	if err != nil {
		return fmt.Errorf("parse POOL_V4_CIDR %q: %w", cfg.PoolV4CIDR, err)
	}
	v6Prefix, err := netip.ParsePrefix(cfg.PoolV6CIDR)
	if err != nil {
		return fmt.Errorf("parse POOL_V6_CIDR %q: %w", cfg.PoolV6CIDR, err)
	}

	install := func(v4, v6 netip.Addr) (io.ReadWriteCloser, error) {
		tun, err := tundevice.Open(cfg.TUNName)
		if err != nil {
			return nil, fmt.Errorf("open tun device: %w", err)
		}
		if err := tun.Configure(
			netip.PrefixFrom(v4, v4Prefix.Bits()),
			netip.PrefixFrom(v6, v6Prefix.Bits()),
			wire.MTU,
		); err != nil {
			tun.Close()
			return nil, fmt.Errorf("configure tun device: %w", err)
		}
		if err := routeadapter.InstallClientRoutes(tun.Name()); err != nil {
			log.Warn("route setup incomplete, continuing without it", zap.Error(err))
		}
		log.Info("tunnel active", zap.String("v4", v4.String()), zap.String("v6", v6.String()), zap.String("tun", tun.Name()))
		return tun, nil
	}

	cli, err := forwarder.NewClient(cfg.ServerAddr, cfg.ServerPort, id, install, log)
	if err != nil {
		return fmt.Errorf("init client: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("duskline-client connecting",
		zap.String("server", fmt.Sprintf("%s:%d", cfg.ServerAddr, cfg.ServerPort)),
		zap.Stringer("client_id", id),
	)

	return cli.Run(ctx)
}

// resolveClientID decodes CLIENT_ID (a hex-encoded ClientID) from
// config, or generates and logs a fresh one so the operator can persist
// it across restarts; a client that reconnects with a new ID loses its
// prior virtual address assignment.
func resolveClientID(raw string, log *zap.Logger) (wire.ClientID, error) {
	if raw == "" {
		id, err := wire.NewClientID()
		if err != nil {
			return wire.ClientID{}, fmt.Errorf("generate client id: %w", err)
		}
		log.Info("generated new client id; set CLIENT_ID to persist it", zap.Stringer("client_id", id))
		return id, nil
	}

	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return wire.ClientID{}, fmt.Errorf("decode CLIENT_ID %q: %w", raw, err)
	}
	id, err := wire.ParseClientID(decoded)
	if err != nil {
		return wire.ClientID{}, fmt.Errorf("parse CLIENT_ID %q: %w", raw, err)
	}
	return id, nil
}

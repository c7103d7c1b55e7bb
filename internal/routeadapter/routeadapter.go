// Package routeadapter installs the OS-level routes, forwarding
// sysctls, and NAT rules the VPN relies on once a TUN interface is up.
// Failures here are reported to the caller but never block the
// forwarder: packet forwarding between already-connected peers does not
// depend on these operations succeeding.
package routeadapter

import (
	"fmt"
	"os"

	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
)

// ClientMetric is the route metric used for the split default routes,
// kept below the typical OS default-route metric so VPN traffic wins
// without removing the original default route.
const ClientMetric = 10

// InstallClientRoutes adds the two split-default routes (0.0.0.0/1 and
// 128.0.0.0/1) over ifaceName, covering the entire IPv4 address space
// without replacing the existing default route.
func InstallClientRoutes(ifaceName string) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("routeadapter: lookup interface %s: %w", ifaceName, err)
	}

	for _, cidr := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		_, dst, err := parseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("routeadapter: parse %s: %w", cidr, err)
		}
		route := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       dst,
			Priority:  ClientMetric,
		}
		if err := netlink.RouteAdd(route); err != nil {
			return fmt.Errorf("routeadapter: add route %s via %s: %w", cidr, ifaceName, err)
		}
	}
	return nil
}

// RemoveClientRoutes deletes the routes InstallClientRoutes added.
// Documented here for operator recovery if the client process dies
// before cleaning up: `ip route del 0.0.0.0/1` and
// `ip route del 128.0.0.0/1`.
func RemoveClientRoutes(ifaceName string) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return fmt.Errorf("routeadapter: lookup interface %s: %w", ifaceName, err)
	}
	for _, cidr := range []string{"0.0.0.0/1", "128.0.0.0/1"} {
		_, dst, err := parseCIDR(cidr)
		if err != nil {
			continue
		}
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
		_ = netlink.RouteDel(route)
	}
	return nil
}

// ServerConfig describes the prefixes the server's NAT/forwarding rules
// apply to.
type ServerConfig struct {
	IfaceName string
	V4CIDR    string // e.g. "10.0.0.0/24"
	V6CIDR    string // e.g. "fd00:0:0:1::/64"
}

// InstallServerRoutes enables IPv4/IPv6 forwarding, routes the VPN
// prefixes over the TUN interface, and installs source-NAT so VPN
// clients can reach the internet through the server's other interfaces.
func InstallServerRoutes(cfg ServerConfig) error {
	if err := enableForwarding(); err != nil {
		return err
	}

	link, err := netlink.LinkByName(cfg.IfaceName)
	if err != nil {
		return fmt.Errorf("routeadapter: lookup interface %s: %w", cfg.IfaceName, err)
	}

	for _, cidr := range []string{cfg.V4CIDR, cfg.V6CIDR} {
		_, dst, err := parseCIDR(cidr)
		if err != nil {
			return fmt.Errorf("routeadapter: parse %s: %w", cidr, err)
		}
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
		if err := netlink.RouteAdd(route); err != nil {
			return fmt.Errorf("routeadapter: add route %s via %s: %w", cidr, cfg.IfaceName, err)
		}
	}

	if err := installMasquerade(iptables.ProtocolIPv4, cfg.V4CIDR, cfg.IfaceName); err != nil {
		return err
	}
	if err := installMasquerade(iptables.ProtocolIPv6, cfg.V6CIDR, cfg.IfaceName); err != nil {
		return err
	}
	return nil
}

func enableForwarding() error {
	for _, path := range []string{
		"/proc/sys/net/ipv4/ip_forward",
		"/proc/sys/net/ipv6/conf/all/forwarding",
	} {
		if err := os.WriteFile(path, []byte("1\n"), 0644); err != nil {
			return fmt.Errorf("routeadapter: enable forwarding via %s: %w", path, err)
		}
	}
	return nil
}

func installMasquerade(proto iptables.Protocol, cidr, excludeIface string) error {
	ipt, err := iptables.NewWithProtocol(proto)
	if err != nil {
		return fmt.Errorf("routeadapter: init iptables (%v): %w", proto, err)
	}
	rule := []string{"-s", cidr, "!", "-o", excludeIface, "-j", "MASQUERADE"}
	if err := ipt.AppendUnique("nat", "POSTROUTING", rule...); err != nil {
		return fmt.Errorf("routeadapter: install MASQUERADE for %s: %w", cidr, err)
	}
	return nil
}

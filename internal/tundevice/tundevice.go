// Package tundevice wraps songgao/water to open and close the host TUN
// interface each side of the tunnel reads and writes inner IP packets
// through, and uses vishvananda/netlink to assign it an address and
// bring it up (water.Config carries no address/MTU fields on Linux).
package tundevice

import (
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

// Device is an open TUN interface. It satisfies io.ReadWriteCloser: Read
// returns one inner IP packet per call, Write injects one.
type Device struct {
	iface *water.Interface
	name  string
}

// Open creates a TUN device named name. On Linux the kernel honors the
// requested name; other platforms may assign their own. The interface
// has no address and is down until Configure is called.
func Open(name string) (*Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = name

	iface, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("tundevice: open %s: %w", name, err)
	}

	return &Device{iface: iface, name: iface.Name()}, nil
}

// Configure assigns v4 and v6 (each the tunnel's own address together
// with the mask of its configured subnet, per spec.md §4.5: "the
// assigned v4 using the server-side v4 mask and v6 with the configured
// prefix"), sets the interface MTU, and brings the link up.
func (d *Device) Configure(v4, v6 netip.Prefix, mtu int) error {
	link, err := netlink.LinkByName(d.name)
	if err != nil {
		return fmt.Errorf("tundevice: lookup interface %s: %w", d.name, err)
	}

	for _, prefix := range []netip.Prefix{v4, v6} {
		if !prefix.IsValid() {
			continue
		}
		addr := &netlink.Addr{IPNet: prefixToIPNet(prefix)}
		if err := netlink.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("tundevice: assign address %s to %s: %w", prefix, d.name, err)
		}
	}

	if err := netlink.LinkSetMTU(link, mtu); err != nil {
		return fmt.Errorf("tundevice: set mtu %d on %s: %w", mtu, d.name, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("tundevice: bring up %s: %w", d.name, err)
	}
	return nil
}

func prefixToIPNet(prefix netip.Prefix) *net.IPNet {
	addr := prefix.Addr()
	bits := prefix.Bits()
	if addr.Is4() {
		ip := addr.As4()
		return &net.IPNet{IP: net.IP(ip[:]), Mask: net.CIDRMask(bits, 32)}
	}
	ip := addr.As16()
	return &net.IPNet{IP: net.IP(ip[:]), Mask: net.CIDRMask(bits, 128)}
}

func (d *Device) Read(p []byte) (int, error)  { return d.iface.Read(p) }
func (d *Device) Write(p []byte) (int, error) { return d.iface.Write(p) }
func (d *Device) Close() error                { return d.iface.Close() }

// Name returns the OS-assigned interface name, for route installation.
func (d *Device) Name() string { return d.name }

var _ io.ReadWriteCloser = (*Device)(nil)

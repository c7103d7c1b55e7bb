package codec

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// DestinationAddr extracts the destination address of an IPv4 or IPv6
// packet in data, given its already-sniffed version nibble. Returns
// ok=false on any parse failure, which callers treat as a silent drop.
func DestinationAddr(version byte, data []byte) (addr netip.Addr, ok bool) {
	switch version {
	case 4:
		packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.NoCopy)
		ip4, valid := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !valid {
			return netip.Addr{}, false
		}
		a, valid := netip.AddrFromSlice(ip4.DstIP.To4())
		return a, valid
	case 6:
		packet := gopacket.NewPacket(data, layers.LayerTypeIPv6, gopacket.NoCopy)
		ip6, valid := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
		if !valid {
			return netip.Addr{}, false
		}
		a, valid := netip.AddrFromSlice(ip6.DstIP.To16())
		return a, valid
	default:
		return netip.Addr{}, false
	}
}

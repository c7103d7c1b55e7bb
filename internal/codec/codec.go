// Package codec implements the VPN's wire framing and the L3 header
// rewrite the server performs on every client->server forwarded packet:
// overwriting the inner packet's source address with the sending
// client's assigned virtual address, and recomputing the IPv4 header
// checksum where one exists.
package codec

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// IPVersion sniffs the high nibble of an IP packet's first byte.
func IPVersion(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("codec: empty packet")
	}
	return data[0] >> 4, nil
}

// RewriteSourceV4 parses data as an IPv4 packet, overwrites its source
// address with src, recomputes the IPv4 header checksum, and returns the
// re-serialized packet. The inner transport checksum (UDP/TCP/ICMP) is
// left untouched: it becomes stale relative to the new source address,
// matching the upstream protocol's documented behavior of only fixing
// the IPv4 header checksum on rewrite.
func RewriteSourceV4(data []byte, src netip.Addr) ([]byte, error) {
	if !src.Is4() {
		return nil, fmt.Errorf("codec: %s is not an IPv4 address", src)
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, fmt.Errorf("codec: not a parseable IPv4 packet")
	}
	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return nil, fmt.Errorf("codec: unexpected layer type for IPv4")
	}

	addr := src.As4()
	ip4.SrcIP = net.IP(addr[:])

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: false, ComputeChecksums: true}
	if err := ip4.SerializeTo(buf, opts); err != nil {
		return nil, fmt.Errorf("codec: serialize rewritten IPv4 header: %w", err)
	}

	out := append(buf.Bytes(), ip4.Payload...)
	return out, nil
}

// RewriteSourceV6 parses data as an IPv6 packet and overwrites its
// source address with src. IPv6 carries no header checksum, so nothing
// else needs recomputing.
func RewriteSourceV6(data []byte, src netip.Addr) ([]byte, error) {
	if !src.Is6() || src.Is4In6() {
		return nil, fmt.Errorf("codec: %s is not an IPv6 address", src)
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeIPv6, gopacket.NoCopy)
	ipLayer := packet.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		return nil, fmt.Errorf("codec: not a parseable IPv6 packet")
	}
	ip6, ok := ipLayer.(*layers.IPv6)
	if !ok {
		return nil, fmt.Errorf("codec: unexpected layer type for IPv6")
	}

	addr := src.As16()
	ip6.SrcIP = net.IP(addr[:])

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: false, ComputeChecksums: false}
	if err := ip6.SerializeTo(buf, opts); err != nil {
		return nil, fmt.Errorf("codec: serialize rewritten IPv6 header: %w", err)
	}

	out := append(buf.Bytes(), ip6.Payload...)
	return out, nil
}

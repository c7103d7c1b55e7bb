package wire

import (
	"fmt"
	"net/netip"
)

// VirtualAddressesLen is the wire size of a VIRTUAL_ADDRESSES frame:
// 1-byte type + 4-byte IPv4 + 16-byte IPv6.
const VirtualAddressesLen = 1 + 4 + 16

// EncodeVirtualAddresses writes a VIRTUAL_ADDRESSES reply frame for v4/v6
// into buf, which must be at least VirtualAddressesLen bytes, and returns
// the number of bytes written.
func EncodeVirtualAddresses(buf []byte, v4, v6 netip.Addr) (int, error) {
	if len(buf) < VirtualAddressesLen {
		return 0, fmt.Errorf("wire: buffer too small for virtual addresses frame")
	}
	if !v4.Is4() {
		return 0, fmt.Errorf("wire: %s is not an IPv4 address", v4)
	}
	if !v6.Is6() {
		return 0, fmt.Errorf("wire: %s is not an IPv6 address", v6)
	}
	buf[0] = byte(FrameVirtualAddresses)
	v4b := v4.As4()
	copy(buf[1:5], v4b[:])
	v6b := v6.As16()
	copy(buf[5:21], v6b[:])
	return VirtualAddressesLen, nil
}

// DecodeVirtualAddresses parses a VIRTUAL_ADDRESSES frame's payload (the
// frame type byte must already be stripped by the caller).
func DecodeVirtualAddresses(data []byte) (v4, v6 netip.Addr, err error) {
	if len(data) < VirtualAddressesLen-1 {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("wire: short virtual addresses payload: %d bytes", len(data))
	}
	v4 = netip.AddrFrom4([4]byte(data[0:4]))
	v6 = netip.AddrFrom16([16]byte(data[4:20]))
	return v4, v6, nil
}

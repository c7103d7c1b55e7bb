package wire

import (
	"net/netip"
	"testing"
)

func TestParseClientID(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"exact length", []byte{0x01, 0x02, 0x03, 0x04}, false},
		{"with trailing payload", []byte{0x01, 0x02, 0x03, 0x04, 0xaa, 0xbb}, false},
		{"too short", []byte{0x01, 0x02, 0x03}, true},
		{"empty", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseClientID(tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got id %v", id)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != (ClientID{0x01, 0x02, 0x03, 0x04}) {
				t.Fatalf("unexpected id: %v", id)
			}
		})
	}
}

func TestClientIDEquality(t *testing.T) {
	a := ClientID{0x01, 0x02, 0x03, 0x04}
	b := ClientID{0x01, 0x02, 0x03, 0x04}
	c := ClientID{0x01, 0x02, 0x03, 0x05}

	if a != b {
		t.Fatalf("expected equal ids")
	}
	if a == c {
		t.Fatalf("expected distinct ids")
	}

	m := map[ClientID]int{a: 1}
	if _, ok := m[b]; !ok {
		t.Fatalf("expected map lookup by value to succeed")
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	key := [4]byte{0xde, 0xad, 0xbe, 0xef}
	id := ClientID{0x01, 0x02, 0x03, 0x04}

	sum := id.Checksum(key)
	wire := append(append([]byte{}, id[:]...), sum[:]...)

	if !VerifyChecksum(id, wire, key) {
		t.Fatalf("expected checksum to verify")
	}

	wire[len(wire)-1] ^= 0xff
	if VerifyChecksum(id, wire, key) {
		t.Fatalf("expected tampered checksum to fail verification")
	}
}

func TestEncodeDecodeVirtualAddresses(t *testing.T) {
	v4 := netip.MustParseAddr("10.0.0.2")
	v6 := netip.MustParseAddr("fd00:0:0:1::2")

	buf := make([]byte, VirtualAddressesLen)
	n, err := EncodeVirtualAddresses(buf, v4, v6)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if n != VirtualAddressesLen {
		t.Fatalf("unexpected length %d", n)
	}
	if FrameType(buf[0]) != FrameVirtualAddresses {
		t.Fatalf("unexpected frame type byte: %x", buf[0])
	}

	gotV4, gotV6, err := DecodeVirtualAddresses(buf[1:n])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotV4 != v4 || gotV6 != v6 {
		t.Fatalf("round trip mismatch: got v4=%s v6=%s", gotV4, gotV6)
	}
}

func TestEncodeVirtualAddressesRejectsWrongFamily(t *testing.T) {
	v4 := netip.MustParseAddr("10.0.0.2")
	v6 := netip.MustParseAddr("fd00:0:0:1::2")
	buf := make([]byte, VirtualAddressesLen)

	if _, err := EncodeVirtualAddresses(buf, v6, v6); err == nil {
		t.Fatalf("expected error for non-v4 first argument")
	}
	if _, err := EncodeVirtualAddresses(buf, v4, v4); err == nil {
		t.Fatalf("expected error for non-v6 second argument")
	}
}

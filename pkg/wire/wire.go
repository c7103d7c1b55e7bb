// Package wire defines the on-the-wire constants and identifiers shared
// between the duskline server and client: frame type bytes, the opaque
// ClientId session key, and the protocol's size limits.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// FrameType is the single byte distinguishing VIRTUAL_ADDRESSES replies
// from forwarded payloads on the server->client direction. The
// client->server direction carries FORWARD implicitly (see
// codec.ParseClientFrame) and never writes this byte.
type FrameType byte

const (
	FrameForward          FrameType = 0x01
	FrameVirtualAddresses FrameType = 0x02
)

const (
	// ClientIDLen is the size of the raw session key in bytes.
	ClientIDLen = 4

	// ChecksumLen is the size of the optional checksum suffix in the
	// 4+2 wire variant.
	ChecksumLen = 2

	// MTU is the inner IP packet MTU the tunnel carries.
	MTU = 1400

	// MaxFrameLen bounds a single UDP datagram in either direction: worst
	// case is a client->server FORWARD datagram, a 4-byte ClientID prefix
	// plus an MTU-sized inner packet (the server->client form carries only
	// a 1-byte type prefix).
	MaxFrameLen = ClientIDLen + MTU
)

// ClientID is the opaque 4-byte session key a client generates at
// startup. Equality and map keys compare all four bytes, which is the
// same as comparing it as a 32-bit value.
type ClientID [ClientIDLen]byte

// NewClientID draws a fresh random ClientID from a cryptographic source.
func NewClientID() (ClientID, error) {
	var id ClientID
	if _, err := rand.Read(id[:]); err != nil {
		return ClientID{}, fmt.Errorf("wire: generate client id: %w", err)
	}
	return id, nil
}

// ParseClientID reads the leading ClientIDLen bytes of data as a ClientID.
func ParseClientID(data []byte) (ClientID, error) {
	var id ClientID
	if len(data) < ClientIDLen {
		return id, fmt.Errorf("wire: short client id: %d bytes", len(data))
	}
	copy(id[:], data[:ClientIDLen])
	return id, nil
}

func (id ClientID) String() string {
	return fmt.Sprintf("%08x", binary.BigEndian.Uint32(id[:]))
}

// Checksum computes the rotate-and-xor keyed checksum used by the
// optional 4+2 wire variant (spec's "sources use a rotate-and-xor keyed
// accumulator" form). It is not a security boundary, only a
// transcription-error guard. The server in internal/forwarder does not
// check it: it admits clients on the bare 4-byte ClientID alone.
func (id ClientID) Checksum(key [4]byte) [ChecksumLen]byte {
	var acc uint16
	for i, b := range id {
		rotated := (b << uint(i%8)) | (b >> uint(8-i%8))
		acc = (acc<<1 | acc>>15) ^ uint16(rotated^key[i%4])
	}
	var out [ChecksumLen]byte
	binary.BigEndian.PutUint16(out[:], acc)
	return out
}

// VerifyChecksum reports whether the two bytes following the ClientID in
// data (data[ClientIDLen:ClientIDLen+ChecksumLen]) match the ClientID's
// checksum under key. Data shorter than ClientIDLen+ChecksumLen never
// verifies; any bytes past the checksum are ignored.
func VerifyChecksum(id ClientID, data []byte, key [4]byte) bool {
	if len(data) < ClientIDLen+ChecksumLen {
		return false
	}
	want := id.Checksum(key)
	return data[ClientIDLen] == want[0] && data[ClientIDLen+1] == want[1]
}

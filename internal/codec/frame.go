package codec

import (
	"fmt"

	"github.com/duskline-vpn/duskline/pkg/wire"
)

// ParseClientFrame splits a client->server datagram into its ClientID
// prefix and the remaining bytes. Per the protocol's asymmetric framing,
// this direction carries no explicit frame type byte: a datagram with
// nothing past the ClientID is a registration beacon, one with more is a
// forwarded packet.
func ParseClientFrame(data []byte) (id wire.ClientID, payload []byte, err error) {
	id, err = wire.ParseClientID(data)
	if err != nil {
		return wire.ClientID{}, nil, err
	}
	return id, data[wire.ClientIDLen:], nil
}

// EncodeServerForward writes a server->client FORWARD frame (explicit
// type byte followed by the inner packet) into buf, which must be at
// least 1+len(inner) bytes, and returns the bytes written.
func EncodeServerForward(buf []byte, inner []byte) (int, error) {
	if len(buf) < 1+len(inner) {
		return 0, fmt.Errorf("codec: buffer too small for forward frame")
	}
	buf[0] = byte(wire.FrameForward)
	n := copy(buf[1:], inner)
	return 1 + n, nil
}

// ParseServerFrame reads the frame type byte off a server->client
// datagram and returns it along with the remaining payload.
func ParseServerFrame(data []byte) (wire.FrameType, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("codec: empty datagram")
	}
	return wire.FrameType(data[0]), data[1:], nil
}

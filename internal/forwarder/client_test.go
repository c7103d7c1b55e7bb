package forwarder

import (
	"context"
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/duskline-vpn/duskline/internal/codec"
	"github.com/duskline-vpn/duskline/pkg/wire"
)

func TestClientSendsBeaconAndActivatesTUNOnAssignment(t *testing.T) {
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer serverConn.Close()

	_, portStr, err := net.SplitHostPort(serverConn.LocalAddr().String())
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	portNum, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %q: %v", portStr, err)
	}

	tun := newPipeTUN()
	defer tun.Close()

	var installedV4, installedV6 netip.Addr
	install := func(v4, v6 netip.Addr) (io.ReadWriteCloser, error) {
		installedV4, installedV6 = v4, v6
		return tun, nil
	}

	id := wire.ClientID{0x01, 0x02, 0x03, 0x04}

	cli, err := NewClient("127.0.0.1", uint16(portNum), id, install, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer cli.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cli.Run(ctx) }()

	// The server side of this test is just the raw socket: read the
	// beacon, then reply with a VIRTUAL_ADDRESSES frame.
	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	beacon := make([]byte, wire.ClientIDLen)
	n, remote, err := serverConn.ReadFromUDP(beacon)
	if err != nil {
		t.Fatalf("read beacon: %v", err)
	}
	gotBeaconID, err := wire.ParseClientID(beacon[:n])
	if err != nil || gotBeaconID != id {
		t.Fatalf("unexpected beacon: %x (err=%v)", beacon[:n], err)
	}

	v4 := netip.MustParseAddr("10.0.0.5")
	v6 := netip.MustParseAddr("fd00:0:0:1::5")
	reply := make([]byte, wire.VirtualAddressesLen)
	if _, err := wire.EncodeVirtualAddresses(reply, v4, v6); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := serverConn.WriteToUDP(reply, remote); err != nil {
		t.Fatalf("send virtual addresses: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for installedV4 != v4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if installedV4 != v4 || installedV6 != v6 {
		t.Fatalf("expected tun install with v4=%s v6=%s, got v4=%s v6=%s", v4, v6, installedV4, installedV6)
	}

	// TUN -> UDP: a packet read from the (now active) TUN is reattached
	// with the ClientID prefix and sent to the server.
	inner := []byte{0x45, 0x00, 0x00, 0x14, 0xde, 0xad}
	go tun.inW.Write(inner)

	serverConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	fromClient := make([]byte, 100)
	n, _, err = serverConn.ReadFromUDP(fromClient)
	if err != nil {
		t.Fatalf("read forwarded tun packet: %v", err)
	}
	gotID, payload, err := codec.ParseClientFrame(fromClient[:n])
	if err != nil {
		t.Fatalf("parse client frame: %v", err)
	}
	if gotID != id {
		t.Fatalf("expected ClientID prefix to match, got %v", gotID)
	}
	if string(payload) != string(inner) {
		t.Fatalf("payload mismatch: got %x want %x", payload, inner)
	}

	// UDP -> TUN: a FORWARD frame from the server is written to TUN.
	forwardInner := []byte{0x45, 0x00, 0x00, 0x1c}
	forwardFrame := append([]byte{byte(wire.FrameForward)}, forwardInner...)
	if _, err := serverConn.WriteToUDP(forwardFrame, remote); err != nil {
		t.Fatalf("send forward: %v", err)
	}

	tun.outR.SetDeadline(time.Now().Add(2 * time.Second))
	gotOut := make([]byte, 100)
	n, err = tun.outR.Read(gotOut)
	if err != nil {
		t.Fatalf("read tun write: %v", err)
	}
	if string(gotOut[:n]) != string(forwardInner) {
		t.Fatalf("tun write mismatch: got %x want %x", gotOut[:n], forwardInner)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("client.Run did not exit after cancellation")
	}
}

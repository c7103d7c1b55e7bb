package forwarder

import "io"

// pipeTUN is an in-memory stand-in for a TUN device, used because a real
// TUN device requires elevated privileges unavailable in a test sandbox.
// Reads deliver whatever the test writes on "in" (simulating a packet
// destined for a VPN client arriving from the local network stack);
// writes land on "out" for the test to observe (simulating a forwarded
// packet the server wrote to the kernel's TUN device).
type pipeTUN struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter
}

func newPipeTUN() *pipeTUN {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	return &pipeTUN{inR: inR, inW: inW, outR: outR, outW: outW}
}

func (p *pipeTUN) Read(b []byte) (int, error)  { return p.inR.Read(b) }
func (p *pipeTUN) Write(b []byte) (int, error) { return p.outW.Write(b) }
func (p *pipeTUN) Close() error {
	p.inW.Close()
	p.outR.Close()
	return nil
}

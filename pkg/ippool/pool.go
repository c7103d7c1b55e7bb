// Package ippool implements the address pools the duskline server draws
// virtual IPv4 and IPv6 host addresses from, one pool per family.
package ippool

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	go_cidr "github.com/apparentlymart/go-cidr/cidr"
)

// ErrExhausted is returned by Allocate when every host address in the
// pool's range is already allocated.
var ErrExhausted = errors.New("ippool: address pool exhausted")

// Pool hands out host addresses from a CIDR prefix, one at a time,
// ascending from the lowest usable address. It deliberately does not
// reserve the network or broadcast address of the prefix beyond the
// base address itself, matching the "start at base+1" scan the VPN's
// original allocator used. The network address itself is never handed
// out; callers that need the first host address (base+1) reserved for
// something else (as the server does for its own TUN endpoint) call
// Allocate once before handing the pool to clients.
//
// Allocation is an O(n) linear scan over the already-allocated set on
// every call. This is intentional for the scale this pool operates at
// (client counts, not packet rate): a free-list or bitmap would trade
// simplicity for a constant factor that only matters at address-space
// sizes this system never reaches in practice.
//
// A Pool is shared between the server's udpLoop (admission) and idleLoop
// (expiry release) goroutines, so its own mutex guards allocated; it is
// not covered by session.Table's lock.
type Pool struct {
	mu        sync.Mutex
	first     net.IP
	last      net.IP
	allocated map[string]struct{}
}

// New builds a Pool over the host addresses of prefix, excluding the
// prefix's own network address as a start-of-range marker (the scan
// begins at network+1).
func New(prefix netip.Prefix) (*Pool, error) {
	_, ipNet, err := net.ParseCIDR(prefix.String())
	if err != nil {
		return nil, fmt.Errorf("ippool: parse prefix %s: %w", prefix, err)
	}

	base, last := go_cidr.AddressRange(ipNet)
	first := dup(base)
	inc(first)

	return &Pool{
		first:     first,
		last:      last,
		allocated: make(map[string]struct{}),
	}, nil
}

// Allocate returns the lowest address in the pool's range not already
// allocated, marking it allocated, or ErrExhausted if none remain.
func (p *Pool) Allocate() (netip.Addr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ip := dup(p.first); compare(ip, p.last) <= 0; inc(ip) {
		key := ip.String()
		if _, taken := p.allocated[key]; !taken {
			p.allocated[key] = struct{}{}
			addr, ok := netip.AddrFromSlice(ip)
			if !ok {
				return netip.Addr{}, fmt.Errorf("ippool: invalid address %s produced by scan", ip)
			}
			return addr.Unmap(), nil
		}
	}
	return netip.Addr{}, ErrExhausted
}

// Release returns addr to the pool. Releasing an address that was never
// allocated, or already released, is a no-op.
func (p *Pool) Release(addr netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.allocated, toNetIP(addr).String())
}

// Contains reports whether addr falls within the pool's configured
// range, regardless of whether it is currently allocated.
func (p *Pool) Contains(addr netip.Addr) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ip := toNetIP(addr)
	return compare(ip, p.first) >= 0 && compare(ip, p.last) <= 0
}

func dup(ip net.IP) net.IP {
	d := make(net.IP, len(ip))
	copy(d, ip)
	return d
}

func inc(ip net.IP) {
	for j := len(ip) - 1; j >= 0; j-- {
		ip[j]++
		if ip[j] > 0 {
			break
		}
	}
}

func compare(a, b net.IP) int {
	a16, b16 := a.To16(), b.To16()
	for i := range a16 {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func toNetIP(addr netip.Addr) net.IP {
	if addr.Is4() {
		b := addr.As4()
		return net.IP(b[:]).To16()
	}
	b := addr.As16()
	return net.IP(b[:])
}

// Package session implements the server's session table: the mapping
// from each client's ClientID to its connection state, and the reverse
// index from virtual address to ClientID used on the return path.
package session

import (
	"net/netip"
	"sync"
	"time"

	"github.com/duskline-vpn/duskline/pkg/wire"
)

// IdleTimeout is the duration of inactivity after which a client record
// becomes eligible for removal by the idle sweeper.
const IdleTimeout = 30 * time.Second

// Record holds the per-client state tracked by the session table.
type Record struct {
	RemoteEndpoint netip.AddrPort
	VirtualV4      netip.Addr
	VirtualV6      netip.Addr
	CreatedAt      time.Time
	LastReadAt     time.Time
}

// Table is the server's {ClientID -> Record} map plus its reverse
// {virtual address -> ClientID} index, guarded by a single RWMutex.
// Readers (the hot forward path) take RLock; writers (admission,
// removal) take Lock. No I/O is ever performed while the lock is held.
type Table struct {
	mu      sync.RWMutex
	clients map[wire.ClientID]*Record
	ipIndex map[netip.Addr]wire.ClientID
}

// New returns an empty session table.
func New() *Table {
	return &Table{
		clients: make(map[wire.ClientID]*Record),
		ipIndex: make(map[netip.Addr]wire.ClientID),
	}
}

// AddClient admits id if it is not already known, assigning it v4 and
// v6, or refreshes an existing client's endpoint and last-read time.
// isNew reports whether this call performed the admission (and thus
// whether a VIRTUAL_ADDRESSES reply is owed).
func (t *Table) AddClient(id wire.ClientID, endpoint netip.AddrPort, v4, v6 netip.Addr) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, exists := t.clients[id]
	if exists {
		rec.RemoteEndpoint = endpoint
		rec.LastReadAt = now
		return false
	}

	rec = &Record{
		RemoteEndpoint: endpoint,
		VirtualV4:      v4,
		VirtualV6:      v6,
		CreatedAt:      now,
		LastReadAt:     now,
	}
	t.clients[id] = rec
	t.ipIndex[v4] = id
	t.ipIndex[v6] = id
	return true
}

// Touch updates the last-read time and remote endpoint of an already
// admitted client, without the admission side effects of AddClient.
// Reports false if id is not present.
func (t *Table) Touch(id wire.ClientID, endpoint netip.AddrPort) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.clients[id]
	if !ok {
		return false
	}
	rec.RemoteEndpoint = endpoint
	rec.LastReadAt = time.Now()
	return true
}

// Get returns a copy of the record for id, if any.
func (t *Table) Get(id wire.ClientID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.clients[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ClientForAddr resolves the ClientID that owns a virtual address, for
// the server's return-path lookup.
func (t *Table) ClientForAddr(addr netip.Addr) (wire.ClientID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.ipIndex[addr]
	return id, ok
}

// Remove deletes id and both of its virtual addresses from the index.
// Removing an unknown id is a no-op.
func (t *Table) Remove(id wire.ClientID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(id)
}

func (t *Table) removeLocked(id wire.ClientID) {
	rec, ok := t.clients[id]
	if !ok {
		return
	}
	delete(t.clients, id)
	delete(t.ipIndex, rec.VirtualV4)
	delete(t.ipIndex, rec.VirtualV6)
}

// ExpireDue returns the ClientID whose last-read time is furthest past
// IdleTimeout, if any such client exists. Among multiple expired
// clients it prefers the oldest. The table keeps no expiry cursor: each
// call scans every record, so callers call this repeatedly (once per
// expired client, removing each) until it returns ok=false.
func (t *Table) ExpireDue(now time.Time) (wire.ClientID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var oldestID wire.ClientID
	var oldestAt time.Time
	found := false

	cutoff := now.Add(-IdleTimeout)
	for id, rec := range t.clients {
		if rec.LastReadAt.After(cutoff) {
			continue
		}
		if !found || rec.LastReadAt.Before(oldestAt) {
			oldestID = id
			oldestAt = rec.LastReadAt
			found = true
		}
	}
	return oldestID, found
}

// Len returns the number of admitted clients.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.clients)
}

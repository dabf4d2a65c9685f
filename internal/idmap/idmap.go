// Package idmap translates between locally assigned EVSE identifiers and the
// identifiers a remote backend uses for the same sockets.
package idmap

import (
	"sync"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
)

// Map is a bidirectional identifier table. Lookups for unregistered ids return
// the input unchanged: not every local id requires remapping.
type Map struct {
	mu       sync.RWMutex
	outgoing map[models.EVSEID]models.EVSEID
	incoming map[models.EVSEID]models.EVSEID
}

// New returns an empty identifier map.
func New() *Map {
	return &Map{
		outgoing: make(map[models.EVSEID]models.EVSEID),
		incoming: make(map[models.EVSEID]models.EVSEID),
	}
}

// Register stores the (local, remote) pair in both directions. Re-registering
// either side replaces the previous pairing so the table stays bijective.
func (m *Map) Register(local, remote models.EVSEID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.outgoing[local]; ok {
		delete(m.incoming, old)
	}
	if old, ok := m.incoming[remote]; ok {
		delete(m.outgoing, old)
	}
	m.outgoing[local] = remote
	m.incoming[remote] = local
}

// MapOutgoing translates a local id to the remote backend's id.
func (m *Map) MapOutgoing(local models.EVSEID) models.EVSEID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if remote, ok := m.outgoing[local]; ok {
		return remote
	}
	return local
}

// MapIncoming translates a remote backend id to the local id.
func (m *Map) MapIncoming(remote models.EVSEID) models.EVSEID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if local, ok := m.incoming[remote]; ok {
		return local
	}
	return remote
}

// Len returns the number of registered pairs.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.outgoing)
}

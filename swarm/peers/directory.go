// Package peers keeps track of the peers announced on the discovery channel.
package peers

import (
	"sort"
	"sync"
	"time"
)

type PeerRecord struct {
	Address  string
	LastSeen time.Time
}

// Directory maps peer addresses to the time of their last announcement.
// Records are evicted by Sweep once they have been silent for longer than a TTL.
type Directory struct {
	self  string
	mu    sync.RWMutex
	peers map[string]time.Time
}

func NewDirectory(self string) *Directory {
	return &Directory{
		self:  self,
		peers: make(map[string]time.Time),
	}
}

func (d *Directory) Self() string {
	return d.self
}

// Upsert records an announcement from address at time now.
// It returns true if the address was not known before. Our own address is never recorded.
func (d *Directory) Upsert(address string, now time.Time) bool {
	if address == "" || address == d.self {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, known := d.peers[address]
	d.peers[address] = now
	return !known
}

// Sweep removes every record that was last seen more than ttl before now and returns the evicted addresses.
func (d *Directory) Sweep(now time.Time, ttl time.Duration) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []string
	for addr, lastSeen := range d.peers {
		if now.Sub(lastSeen) > ttl {
			delete(d.peers, addr)
			evicted = append(evicted, addr)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Snapshot returns a sorted copy of the currently known addresses.
func (d *Directory) Snapshot() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	addrs := make([]string, 0, len(d.peers))
	for addr := range d.peers {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Records is like Snapshot but includes the last seen timestamps.
func (d *Directory) Records() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()

	records := make([]PeerRecord, 0, len(d.peers))
	for addr, lastSeen := range d.peers {
		records = append(records, PeerRecord{Address: addr, LastSeen: lastSeen})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })
	return records
}

func (d *Directory) Contains(address string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.peers[address]
	return ok
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Clear drops all records. Called on node shutdown.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.peers)
}

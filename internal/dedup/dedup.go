// Package dedup suppresses packets whose signature was recently seen on any
// adapter, so a frame bridged across two interfaces is counted exactly once.
package dedup

import (
	"fmt"
	"sync"
	"time"
)

// Deduper is a process-wide, concurrency-safe TTL map keyed by packet
// signature. The first adapter to register a signature wins; later
// observations of the same signature within the TTL window are dropped.
type Deduper struct {
	mu      sync.Mutex
	entries map[string]time.Time // signature -> expiry
	ttl     time.Duration
}

// New creates a Deduper with the given signature expiry window.
func New(ttl time.Duration) *Deduper {
	return &Deduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Signature builds the dedup key from a packet's 5-tuple plus microsecond
// timestamp. Packets physically identical within the same capture instant
// collapse to the same signature; see the open question in the design notes
// about capture libraries that quantize timestamps to 1ms.
func Signature(srcIP, dstIP string, proto string, srcPort, dstPort uint16, tsUsecs int64) string {
	return fmt.Sprintf("%s->%s:%s:%d:%d:%d", srcIP, dstIP, proto, srcPort, dstPort, tsUsecs)
}

// SeenOrRegister reports whether signature was already registered and still
// live, and if not, registers it with a fresh expiry. Returns true when the
// caller should treat the packet as a duplicate and drop it.
func (d *Deduper) SeenOrRegister(signature string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.entries[signature]; ok && expiry.After(now) {
		return true
	}

	d.entries[signature] = now.Add(d.ttl)
	return false
}

// Sweep evicts all entries whose expiry has passed. The daemon calls it from
// its own sweep loop on a fixed interval (30s by default), independent of
// lookup traffic, so memory stays bounded even during a capture lull.
func (d *Deduper) Sweep(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	evicted := 0
	for sig, expiry := range d.entries {
		if !expiry.After(now) {
			delete(d.entries, sig)
			evicted++
		}
	}
	return evicted
}

// Len returns the current number of live and not-yet-swept entries.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

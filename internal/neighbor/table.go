// Package neighbor tracks directly-heard peers on the broadcast domain. A
// neighbor is created on its first HELLO and evicted by an explicit,
// caller-driven sweep once its liveness timeout has elapsed.
package neighbor

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/dragmakex/dv-routing/internal/wire"
)

// StaleAfter is the neighbor liveness timeout. Eviction requires the gap to
// strictly exceed this, not merely reach it.
const StaleAfter = 10 * time.Second

// Entry is a snapshot of one live neighbor.
type Entry struct {
	IP        string
	LastSeq   uint16
	LastHeard time.Time
}

// Table is the set of directly heard peers, keyed by IP. It is safe for
// concurrent use by the reactor's two tasks.
type Table struct {
	myIP string
	now  func() time.Time

	mu      sync.Mutex
	cache   *ttlcache.Cache[string, *Entry]
	sendSeq uint16
}

// New returns an empty table for the node identified by myIP.
func New(myIP string) *Table {
	return &Table{
		myIP:  myIP,
		now:   time.Now,
		cache: ttlcache.New[string, *Entry](),
	}
}

// WithClock overrides the table's notion of "now", for deterministic tests of
// the liveness sweep without real sleeps.
func (t *Table) WithClock(now func() time.Time) *Table {
	t.now = now
	return t
}

// BuildHello returns the next HELLO datagram for this node and advances the
// send sequence counter. Building never fails; a transmission failure is the
// caller's concern.
func (t *Table) BuildHello() string {
	t.mu.Lock()
	seq := t.sendSeq
	t.sendSeq++
	t.mu.Unlock()
	return wire.EncodeHello(t.myIP, seq)
}

// ProcessHello implements process_hello: a no-op for our own IP, otherwise
// inserts a fresh entry or refreshes an existing one. last_seq only advances
// when seq is strictly ahead of the stored value, in RFC 1982 serial-number
// arithmetic so a 16-bit wraparound does not regress it.
func (t *Table) ProcessHello(senderIP string, seq uint16) {
	if senderIP == t.myIP {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	item := t.cache.Get(senderIP)
	if item == nil {
		t.cache.Set(senderIP, &Entry{IP: senderIP, LastSeq: seq, LastHeard: now}, ttlcache.NoTTL)
		return
	}

	entry := item.Value()
	if sequenceGreater(seq, entry.LastSeq) {
		entry.LastSeq = seq
	}
	entry.LastHeard = now
}

// sequenceGreater reports whether a is ahead of b over a 16-bit serial
// number space, tolerating exactly one wraparound.
func sequenceGreater(a, b uint16) bool {
	return int16(a-b) > 0
}

// RemoveStale implements remove_stale: evicts every neighbor not heard from
// in more than StaleAfter and returns the evicted IPs so the distance table
// can drop routes that went through them.
func (t *Table) RemoveStale() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var evicted []string
	for ip, item := range t.cache.Items() {
		if now.Sub(item.Value().LastHeard) > StaleAfter {
			evicted = append(evicted, ip)
		}
	}
	for _, ip := range evicted {
		t.cache.Delete(ip)
	}
	return evicted
}

// Get returns a copy of the entry for ip, if it is currently live.
func (t *Table) Get(ip string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	item := t.cache.Get(ip)
	if item == nil {
		return Entry{}, false
	}
	return *item.Value(), true
}

// Len returns the number of live neighbors.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}

// IPs returns a snapshot of all currently live neighbor IPs.
func (t *Table) IPs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ips := make([]string, 0, t.cache.Len())
	for ip := range t.cache.Items() {
		ips = append(ips, ip)
	}
	return ips
}

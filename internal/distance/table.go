// Package distance maintains the (dest, via) → distance route table and
// derives this node's distance vector from it. Mutation flips a dirty flag
// that the reactor consults to decide whether a broadcast is due.
package distance

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/dragmakex/dv-routing/internal/wire"
)

// NoRoute is the "no route" sentinel: any distance at or above this value
// cannot have arisen from a legitimate hop count and is treated as
// unreachable.
const NoRoute = 1_000_000

// errNotDV is returned by ProcessDV when the payload decodes to something
// other than a DV message.
var errNotDV = xerrors.New("distance: payload is not a DV message")

type routeKey struct {
	Dest string
	Via  string
}

// Route is one (dest, via) → distance entry.
type Route struct {
	Dest     string
	Via      string
	Distance int
}

// Table is this node's route table plus the derived dirty flag. A single
// mutex guards both, which rules out a TOCTOU window between checking the
// dirty flag and serializing the DV.
type Table struct {
	myIP string

	mu      sync.Mutex
	routes  map[routeKey]*Route
	order   []routeKey // first-seen order of (dest,via) keys, for stable DV emission
	updated bool
}

// New returns an empty route table for the node identified by myIP.
func New(myIP string) *Table {
	return &Table{
		myIP:   myIP,
		routes: make(map[routeKey]*Route),
	}
}

func (t *Table) lock()   { t.mu.Lock() }
func (t *Table) unlock() { t.mu.Unlock() }

// ProcessDV implements process_distance_vector over a raw wire payload.
func (t *Table) ProcessDV(raw string) error {
	msg, err := wire.Decode([]byte(raw))
	if err != nil {
		return xerrors.Errorf("distance: decode DV: %w", err)
	}

	dv, ok := msg.(wire.DV)
	if !ok {
		return errNotDV
	}

	t.ProcessDecoded(dv)
	return nil
}

// ProcessDecoded implements process_distance_vector over an already-decoded
// message, letting the reactor avoid a double parse.
func (t *Table) ProcessDecoded(dv wire.DV) {
	if dv.SenderIP == t.myIP {
		return // do not learn from our own echoes
	}

	t.lock()
	defer t.unlock()

	changed := false
	for _, pair := range dv.Pairs {
		newDist := pair.Distance + 1
		key := routeKey{Dest: pair.Dest, Via: dv.SenderIP}

		route, exists := t.routes[key]
		if !exists {
			t.routes[key] = &Route{Dest: pair.Dest, Via: dv.SenderIP, Distance: newDist}
			t.order = append(t.order, key)
			changed = true
			continue
		}

		// Overwrite even if the new value is larger: the neighbor's own
		// estimate may have worsened.
		if route.Distance != newDist {
			route.Distance = newDist
			changed = true
		}
	}

	if changed {
		t.updated = true
	}
}

// GetDistanceVector implements get_distance_vector.
func (t *Table) GetDistanceVector() string {
	t.lock()
	defer t.unlock()

	pairs := make([]wire.DistPair, 0, len(t.order))
	seen := make(map[string]bool, len(t.order))
	for _, key := range t.order {
		if seen[key.Dest] {
			continue
		}
		seen[key.Dest] = true

		best := t.bestDistanceLocked(key.Dest)
		if best >= NoRoute {
			continue
		}
		pairs = append(pairs, wire.DistPair{Dest: key.Dest, Distance: best})
	}

	return wire.EncodeDV(t.myIP, pairs)
}

func (t *Table) bestDistanceLocked(dest string) int {
	best := NoRoute
	for key, route := range t.routes {
		if key.Dest == dest && route.Distance < best {
			best = route.Distance
		}
	}
	return best
}

// BestDistance returns the best known distance to dest, or NoRoute if there
// is none.
func (t *Table) BestDistance(dest string) int {
	t.lock()
	defer t.unlock()
	return t.bestDistanceLocked(dest)
}

// DropRoutesVia deletes every route whose via-neighbor is ip — the only
// route garbage collection this table performs — and reports whether
// anything was removed.
func (t *Table) DropRoutesVia(ip string) bool {
	t.lock()
	defer t.unlock()

	removed := false
	kept := t.order[:0]
	for _, key := range t.order {
		if key.Via == ip {
			delete(t.routes, key)
			removed = true
			continue
		}
		kept = append(kept, key)
	}
	t.order = kept

	if removed {
		t.updated = true
	}
	return removed
}

// DVUpdate implements dv_update.
func (t *Table) DVUpdate() {
	t.lock()
	t.updated = true
	t.unlock()
}

// DVSent implements dv_sent.
func (t *Table) DVSent() {
	t.lock()
	t.updated = false
	t.unlock()
}

// Dirty reports whether the table has changed since the last DVSent.
func (t *Table) Dirty() bool {
	t.lock()
	defer t.unlock()
	return t.updated
}

// Routes returns a snapshot of all routes in first-seen order, for
// diagnostics and tests.
func (t *Table) Routes() []Route {
	t.lock()
	defer t.unlock()

	out := make([]Route, 0, len(t.routes))
	for _, key := range t.order {
		if r, ok := t.routes[key]; ok {
			out = append(out, *r)
		}
	}
	return out
}

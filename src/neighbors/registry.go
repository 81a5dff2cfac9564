package neighbors

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry owns all Neighbor records and serializes every mutation behind one
// lock. Lifecycle decisions are made by the engine; the registry only enforces
// that transitions follow legal edges.
type Registry struct {
	sync.RWMutex

	byKey    map[string]*Neighbor
	byMeshIP map[string]*Neighbor

	logger *logrus.Entry
}

// NewRegistry ...
func NewRegistry(logger *logrus.Entry) *Registry {
	return &Registry{
		byKey:    make(map[string]*Neighbor),
		byMeshIP: make(map[string]*Neighbor),
		logger:   logger,
	}
}

// Add inserts a neighbor record. It is used when loading the provisioned
// neighbor set at startup.
func (r *Registry) Add(n *Neighbor) {
	r.Lock()
	defer r.Unlock()

	if n.ID == 0 {
		n.computeID()
	}

	r.byKey[n.WgPubKey] = n
	r.byMeshIP[n.MeshIP] = n
}

// Get returns a copy of the neighbor record for key. Returning a copy keeps
// callers from mutating registry-owned state.
func (r *Registry) Get(key string) (Neighbor, bool) {
	r.RLock()
	defer r.RUnlock()

	n, ok := r.byKey[key]
	if !ok {
		return Neighbor{}, false
	}
	return *n, true
}

// KeyByMeshIP resolves a babeld route destination to a neighbor key.
func (r *Registry) KeyByMeshIP(ip string) (string, bool) {
	r.RLock()
	defer r.RUnlock()

	n, ok := r.byMeshIP[ip]
	if !ok {
		return "", false
	}
	return n.WgPubKey, true
}

// Keys returns all neighbor keys in stable order.
func (r *Registry) Keys() []string {
	r.RLock()
	defer r.RUnlock()

	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// Snapshot returns copies of all neighbor records in stable key order.
func (r *Registry) Snapshot() []Neighbor {
	r.RLock()
	defer r.RUnlock()

	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := make([]Neighbor, 0, len(keys))
	for _, k := range keys {
		res = append(res, *r.byKey[k])
	}

	return res
}

// Observe records that the neighbor was present in a route-table snapshot. A
// Removed neighbor that reappears goes back to Discovered.
func (r *Registry) Observe(key string, now time.Time) {
	r.Lock()
	defer r.Unlock()

	n, ok := r.byKey[key]
	if !ok {
		return
	}

	n.LastSeen = now

	if n.State == Removed {
		r.transition(n, Discovered, now)
	}
}

// SetTunnel records the tunnel manager's up/down report for a neighbor.
func (r *Registry) SetTunnel(key string, up bool, now time.Time) {
	r.Lock()
	defer r.Unlock()

	n, ok := r.byKey[key]
	if !ok {
		return
	}

	n.TunnelUp = up

	switch {
	case up && n.State == Discovered:
		r.transition(n, TunnelEstablished, now)
	case !up && n.State == TunnelEstablished:
		r.transition(n, Discovered, now)
	}
}

// Transition moves a neighbor to a new lifecycle state, enforcing legal edges.
func (r *Registry) Transition(key string, to State, now time.Time) error {
	r.Lock()
	defer r.Unlock()

	n, ok := r.byKey[key]
	if !ok {
		return fmt.Errorf("unknown neighbor %s", key)
	}

	return r.transition(n, to, now)
}

// transition must be called with the registry lock held.
func (r *Registry) transition(n *Neighbor, to State, now time.Time) error {
	if n.State == to {
		return nil
	}

	if !transitionAllowed(n.State, to) {
		return fmt.Errorf("illegal transition %s => %s for %s", n.State, to, n.WgPubKey)
	}

	r.logger.WithFields(logrus.Fields{
		"neighbor": n.WgPubKey,
		"from":     n.State.String(),
		"to":       to.String(),
	}).Info("Neighbor transition")

	n.State = to
	n.StateSince = now

	return nil
}

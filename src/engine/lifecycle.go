package engine

import (
	"time"

	"github.com/meshnetworks/toll/src/neighbors"
)

// lifecycleTick reconciles neighbor lifecycle state against tunnel status,
// route-table presence, and debt.
func (e *Engine) lifecycleTick(now time.Time) {
	tunnels, err := e.tunnels.Tunnels(now)
	if err != nil {
		e.logger.WithError(err).Warn("Tunnel status read failed")
	} else {
		for key, up := range tunnels {
			e.registry.SetTunnel(key, up, now)
		}
	}

	snap := e.currentSnapshot()
	stale := snap.Stale(now)

	for _, n := range e.registry.Snapshot() {
		_, routed := snap.Price(n.MeshIP)

		switch n.State {
		case neighbors.TunnelEstablished:
			// a working tunnel plus an installed route means traffic can flow
			if routed && !stale {
				e.transition(n.WgPubKey, neighbors.Routing, now)
				continue
			}
			e.checkAbsent(&n, now)

		case neighbors.Routing:
			if !routed && !stale {
				e.checkAbsent(&n, now)
			}

		case neighbors.SettlementHold:
			if routed && n.TunnelUp && !stale {
				e.transition(n.WgPubKey, neighbors.Routing, now)
				continue
			}
			if e.debtSettled(n.WgPubKey) {
				e.transition(n.WgPubKey, neighbors.Removed, now)
			}

		case neighbors.Suspended:
			if !routed && !stale {
				e.checkAbsent(&n, now)
			}

		case neighbors.Discovered:
			e.checkAbsent(&n, now)
		}
	}
}

// checkAbsent removes a neighbor that has been missing from the route table
// beyond the grace period. A neighbor with nonzero debt goes to
// SettlementHold instead: debt is never silently forgotten.
func (e *Engine) checkAbsent(n *neighbors.Neighbor, now time.Time) {
	if n.LastSeen.IsZero() || now.Sub(n.LastSeen) <= e.conf.RemovalGrace {
		return
	}

	if e.debtSettled(n.WgPubKey) {
		e.transition(n.WgPubKey, neighbors.Removed, now)
		return
	}

	e.transition(n.WgPubKey, neighbors.SettlementHold, now)
}

// debtSettled reports whether the neighbor's balance is zero and nothing is
// in flight.
func (e *Engine) debtSettled(key string) bool {
	if e.keeper.PendingObligation(key) != nil {
		return false
	}
	d, err := e.keeper.Balance(key)
	if err != nil {
		// no debt entry means nothing was ever billed
		return true
	}
	return d.Balance.Sign() == 0
}

func (e *Engine) transition(key string, to neighbors.State, now time.Time) {
	if err := e.registry.Transition(key, to, now); err != nil {
		e.logger.WithError(err).Debug("Lifecycle transition refused")
	}
}

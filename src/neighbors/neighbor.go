package neighbors

import (
	"time"

	"github.com/meshnetworks/toll/src/common"
)

// Neighbor is the identity record of a mesh neighbor. It is owned exclusively
// by the Registry; other components refer to a neighbor by its WireGuard
// public key, never by live handle.
type Neighbor struct {
	ID uint32 `json:"-"`

	// MeshIP is the neighbor's IPv6 mesh address, the key under which babeld
	// reports its routes.
	MeshIP string

	// WgPubKey is the neighbor's WireGuard public key. It is the canonical
	// neighbor key used by the ledger, the meter and the payment controller.
	WgPubKey string

	// EthAddr is the payment address settlements are sent to.
	EthAddr string

	// Moniker is a friendly name, informational only.
	Moniker string

	State      State
	StateSince time.Time

	// LastSeen is the last time the neighbor appeared in a route-table
	// snapshot.
	LastSeen time.Time

	// TunnelUp reflects the tunnel manager's latest report.
	TunnelUp bool
}

// NewNeighbor returns a Neighbor in the Discovered state.
func NewNeighbor(wgPubKey, meshIP, ethAddr string) *Neighbor {
	n := &Neighbor{
		WgPubKey: wgPubKey,
		MeshIP:   meshIP,
		EthAddr:  ethAddr,
		State:    Discovered,
	}

	n.computeID()

	return n
}

func (n *Neighbor) computeID() {
	n.ID = common.Hash32([]byte(n.WgPubKey))
}

package neighbors

// State captures the lifecycle state of a neighbor: Discovered,
// TunnelEstablished, Routing, Suspended, SettlementHold, or Removed.
type State uint32

const (
	// Discovered means the neighbor has been seen in the route table but no
	// tunnel is confirmed yet.
	Discovered State = iota
	// TunnelEstablished means the tunnel manager confirms an encrypted tunnel
	// with a known identity.
	TunnelEstablished
	// Routing means traffic may flow and debt accrues.
	Routing
	// Suspended means forwarding is disabled because the neighbor's unpaid
	// debt exceeded the credit limit. The debt entry is retained.
	Suspended
	// SettlementHold is a terminal-pending state: the neighbor has left the
	// mesh but still carries nonzero debt, so it cannot be removed until the
	// debt is settled or an operator override is recorded.
	SettlementHold
	// Removed means the neighbor has been absent beyond the removal grace
	// period with a zero balance.
	Removed
)

// String ...
func (s State) String() string {
	switch s {
	case Discovered:
		return "Discovered"
	case TunnelEstablished:
		return "TunnelEstablished"
	case Routing:
		return "Routing"
	case Suspended:
		return "Suspended"
	case SettlementHold:
		return "SettlementHold"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// validTransitions lists the legal lifecycle edges. Anything else is a
// programming error and is refused by the registry.
var validTransitions = map[State][]State{
	Discovered:        {TunnelEstablished, SettlementHold, Removed},
	TunnelEstablished: {Routing, Discovered, SettlementHold, Removed},
	Routing:           {Suspended, SettlementHold, TunnelEstablished, Removed},
	Suspended:         {Routing, SettlementHold},
	SettlementHold:    {Routing, Removed},
	Removed:           {Discovered},
}

func transitionAllowed(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

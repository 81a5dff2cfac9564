package kernel

import (
	"time"

	"github.com/meshnetworks/toll/src/meter"
)

// handshakeFreshness is how recent a WireGuard handshake must be for the
// tunnel to count as up. WireGuard rekeys about every two minutes; three
// minutes of silence means the peer is gone.
const handshakeFreshness = 3 * time.Minute

// WgCounterSource adapts a WireGuard interface's transfer counters to the
// meter.CounterSource contract.
type WgCounterSource struct {
	ki    *Interface
	iface string
}

// NewWgCounterSource ...
func NewWgCounterSource(ki *Interface, iface string) *WgCounterSource {
	return &WgCounterSource{ki: ki, iface: iface}
}

// Counters implements meter.CounterSource.
func (s *WgCounterSource) Counters() (map[string]meter.Usage, error) {
	return s.ki.WgTransfer(s.iface)
}

// WgTunnelSource reports per-neighbor tunnel status from WireGuard handshake
// freshness. The engine subscribes to it; it never drives tunnel
// establishment.
type WgTunnelSource struct {
	ki    *Interface
	iface string
}

// NewWgTunnelSource ...
func NewWgTunnelSource(ki *Interface, iface string) *WgTunnelSource {
	return &WgTunnelSource{ki: ki, iface: iface}
}

// Tunnels returns, for each peer key, whether the tunnel is currently up.
func (s *WgTunnelSource) Tunnels(now time.Time) (map[string]bool, error) {
	handshakes, err := s.ki.WgLatestHandshakes(s.iface)
	if err != nil {
		return nil, err
	}

	res := make(map[string]bool, len(handshakes))
	for key, hs := range handshakes {
		res[key] = !hs.IsZero() && now.Sub(hs) < handshakeFreshness
	}

	return res, nil
}

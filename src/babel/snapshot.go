package babel

import (
	"strings"
	"time"
)

// Snapshot holds the route costs reported by babeld at one point in time,
// keyed by destination mesh IP. It is pure data; the engine swaps in a new
// Snapshot on every successful refresh and downstream consumers check
// staleness before trusting costs.
type Snapshot struct {
	Prices  map[string]uint64
	TakenAt time.Time

	// MaxAge is the staleness bound, twice the polling interval.
	MaxAge time.Duration
}

// NewSnapshot builds a Snapshot from a route dump. Only installed host routes
// count; advertised prices are capped at maxFee so a malicious neighbor
// cannot announce an absurd fee and have us debit ourselves for it.
func NewSnapshot(routes []Route, maxFee uint64, pollInterval time.Duration, now time.Time) *Snapshot {
	prices := make(map[string]uint64)

	for _, r := range routes {
		if !r.Installed || !isHostPrefix(r.Prefix) {
			continue
		}

		price := r.Price
		if price > maxFee {
			price = maxFee
		}

		prices[hostIP(r.Prefix)] = price
	}

	return &Snapshot{
		Prices:  prices,
		TakenAt: now,
		MaxAge:  2 * pollInterval,
	}
}

// Stale reports whether the snapshot is too old to base cost decisions on.
// A nil snapshot is always stale.
func (s *Snapshot) Stale(now time.Time) bool {
	if s == nil {
		return true
	}
	return now.Sub(s.TakenAt) > s.MaxAge
}

// Price returns the advertised per-byte price of the destination mesh IP.
func (s *Snapshot) Price(meshIP string) (uint64, bool) {
	if s == nil {
		return 0, false
	}
	price, ok := s.Prices[meshIP]
	return price, ok
}

// MeshIPs returns the destinations present in the snapshot.
func (s *Snapshot) MeshIPs() []string {
	if s == nil {
		return nil
	}
	res := make([]string, 0, len(s.Prices))
	for ip := range s.Prices {
		res = append(res, ip)
	}
	return res
}

// isHostPrefix reports whether prefix is a single-host route (/128 or /32).
func isHostPrefix(prefix string) bool {
	return strings.HasSuffix(prefix, "/128") || strings.HasSuffix(prefix, "/32")
}

func hostIP(prefix string) string {
	if i := strings.IndexByte(prefix, '/'); i >= 0 {
		return prefix[:i]
	}
	return prefix
}

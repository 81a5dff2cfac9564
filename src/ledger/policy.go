package ledger

import (
	"math/big"
	"sync/atomic"

	"github.com/meshnetworks/toll/src/meter"
)

// PricePolicy converts a traffic sample and a route price into a signed
// balance delta. The exact pricing formula is an economic decision, so it is
// pluggable rather than hard-coded.
//
// TrafficDelta returns the delta as a numerator over the policy's fixed
// Denominator; the keeper performs the division with truncation toward zero
// and carries the remainder forward. A denominator above 1 allows sub-unit
// per-byte prices without floating point in the ledger path.
type PricePolicy interface {
	TrafficDelta(s meter.TrafficSample, price uint64) *big.Int
	Denominator() *big.Int
}

// RelayPolicy prices relay traffic between mesh neighbors: inbound bytes are
// traffic we forward for the neighbor, billed to them at our local fee;
// outbound bytes are traffic the neighbor forwards for us, billed to us at
// the price the route table advertises for them.
//
// The local fee can be changed at runtime through the operator API, so it is
// read and written atomically.
type RelayPolicy struct {
	fee     uint64
	divisor uint64
}

// NewRelayPolicy creates a RelayPolicy charging fee minor units per divisor
// bytes. A divisor of 0 is treated as 1.
func NewRelayPolicy(fee, divisor uint64) *RelayPolicy {
	return &RelayPolicy{fee: fee, divisor: divisor}
}

// Fee returns the current local fee.
func (p *RelayPolicy) Fee() uint64 {
	return atomic.LoadUint64(&p.fee)
}

// SetFee updates the local fee applied to future samples.
func (p *RelayPolicy) SetFee(fee uint64) {
	atomic.StoreUint64(&p.fee, fee)
}

// TrafficDelta implements PricePolicy.
func (p *RelayPolicy) TrafficDelta(s meter.TrafficSample, price uint64) *big.Int {
	bytes := new(big.Int).SetUint64(s.Bytes)

	if s.Direction == meter.In {
		return bytes.Mul(bytes, new(big.Int).SetUint64(p.Fee()))
	}

	delta := bytes.Mul(bytes, new(big.Int).SetUint64(price))
	return delta.Neg(delta)
}

// Denominator implements PricePolicy.
func (p *RelayPolicy) Denominator() *big.Int {
	if p.divisor == 0 {
		return big.NewInt(1)
	}
	return new(big.Int).SetUint64(p.divisor)
}

// ExitPolicy prices exit-gateway traffic. Exits are different from relays:
// they must return traffic, so clients are billed for both directions at the
// exit fee, plus the destination's advertised price on the return leg. All
// deltas are positive: the client always owes the exit.
type ExitPolicy struct {
	fee     uint64
	divisor uint64
}

// NewExitPolicy creates an ExitPolicy charging fee minor units per divisor
// bytes. A divisor of 0 is treated as 1.
func NewExitPolicy(fee, divisor uint64) *ExitPolicy {
	return &ExitPolicy{fee: fee, divisor: divisor}
}

// TrafficDelta implements PricePolicy.
func (p *ExitPolicy) TrafficDelta(s meter.TrafficSample, price uint64) *big.Int {
	fee := p.fee
	if s.Direction == meter.Out {
		fee += price
	}

	bytes := new(big.Int).SetUint64(s.Bytes)
	return bytes.Mul(bytes, new(big.Int).SetUint64(fee))
}

// Denominator implements PricePolicy.
func (p *ExitPolicy) Denominator() *big.Int {
	if p.divisor == 0 {
		return big.NewInt(1)
	}
	return new(big.Int).SetUint64(p.divisor)
}

package ledger

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	"github.com/ugorji/go/codec"
)

// DebtEntry is the running balance of one neighbor, in minor currency units.
// Positive means the neighbor owes this node; negative means this node owes
// the neighbor. The balance is only ever adjusted by metered-traffic deltas
// and confirmed settlement deltas, never by speculative payments.
//
// Carry holds the sub-unit remainder of the price conversion, scaled by the
// price policy's denominator. Truncation is toward zero and the remainder is
// carried into the next sample, so rounding never drops value.
type DebtEntry struct {
	Key            string
	Balance        *big.Int
	Carry          *big.Int
	LastTraffic    time.Time
	LastSettlement time.Time

	// Enforcing is true while routing through the neighbor is suspended for
	// nonpayment. It stays true until the balance falls below the resume
	// threshold (hysteresis).
	Enforcing bool

	// OverLimitSince is the start of the current credit-limit violation, zero
	// when the neighbor is under the limit.
	OverLimitSince time.Time
}

// NewDebtEntry ...
func NewDebtEntry(key string) *DebtEntry {
	return &DebtEntry{
		Key:     key,
		Balance: new(big.Int),
		Carry:   new(big.Int),
	}
}

// Copy returns a deep copy.
func (d *DebtEntry) Copy() *DebtEntry {
	c := *d
	c.Balance = new(big.Int).Set(d.Balance)
	c.Carry = new(big.Int).Set(d.Carry)
	return &c
}

type wireDebtEntry struct {
	Key            string
	Balance        string
	Carry          string
	LastTraffic    time.Time
	LastSettlement time.Time
	Enforcing      bool
	OverLimitSince time.Time
}

// Marshal - json encoding of DebtEntry
func (d *DebtEntry) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	w := wireDebtEntry{
		Key:            d.Key,
		Balance:        d.Balance.Text(10),
		Carry:          d.Carry.Text(10),
		LastTraffic:    d.LastTraffic,
		LastSettlement: d.LastSettlement,
		Enforcing:      d.Enforcing,
		OverLimitSince: d.OverLimitSince,
	}

	if err := enc.Encode(w); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (d *DebtEntry) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	var w wireDebtEntry
	if err := dec.Decode(&w); err != nil {
		return err
	}

	balance, ok := new(big.Int).SetString(w.Balance, 10)
	if !ok {
		return fmt.Errorf("debt %s: bad balance %q", w.Key, w.Balance)
	}
	carry, ok := new(big.Int).SetString(w.Carry, 10)
	if !ok {
		return fmt.Errorf("debt %s: bad carry %q", w.Key, w.Carry)
	}

	d.Key = w.Key
	d.Balance = balance
	d.Carry = carry
	d.LastTraffic = w.LastTraffic
	d.LastSettlement = w.LastSettlement
	d.Enforcing = w.Enforcing
	d.OverLimitSince = w.OverLimitSince

	return nil
}

package ledger

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/ugorji/go/codec"
)

// ObligationState ...
type ObligationState uint8

const (
	// ObligationCreated means the obligation exists but no channel request has
	// been sent yet.
	ObligationCreated ObligationState = iota
	// ObligationPending means a channel request is in flight.
	ObligationPending
	// ObligationConfirmed means the channel accepted the payment.
	ObligationConfirmed
	// ObligationFailed means the channel rejected the payment; the amount was
	// compensated back into the ledger.
	ObligationFailed
	// ObligationTimedOut means the channel did not answer in time. Treated as
	// Failed for ledger compensation, but additionally reported for alerting
	// because it may indicate a stuck channel.
	ObligationTimedOut
)

// String ...
func (s ObligationState) String() string {
	switch s {
	case ObligationCreated:
		return "Created"
	case ObligationPending:
		return "Pending"
	case ObligationConfirmed:
		return "Confirmed"
	case ObligationFailed:
		return "Failed"
	case ObligationTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the state is a terminal outcome.
func (s ObligationState) Terminal() bool {
	return s == ObligationConfirmed || s == ObligationFailed || s == ObligationTimedOut
}

// Obligation is a fixed-amount payment order against one neighbor. The ledger
// balance reflects the amount optimistically removed at creation; a Failed or
// TimedOut outcome re-adds it (compensating transaction), and Confirmed
// finalizes the removal. Consumed records that the outcome has been applied
// to the ledger, making the application idempotent.
type Obligation struct {
	ID         string
	Key        string
	To         string
	Amount     *big.Int
	State      ObligationState
	CreatedAt  time.Time
	ResolvedAt time.Time
	Consumed   bool
}

// NewObligation ...
func NewObligation(key, to string, amount *big.Int, now time.Time) *Obligation {
	return &Obligation{
		ID:        obligationID(),
		Key:       key,
		To:        to,
		Amount:    new(big.Int).Set(amount),
		State:     ObligationCreated,
		CreatedAt: now,
	}
}

// obligationID returns a random 128-bit hex identifier.
func obligationID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}
	return fmt.Sprintf("%x", buf)
}

// wireObligation is the persisted form; amounts are decimal strings because
// the codec does not round-trip big.Int.
type wireObligation struct {
	ID         string
	Key        string
	To         string
	Amount     string
	State      uint8
	CreatedAt  time.Time
	ResolvedAt time.Time
	Consumed   bool
}

// Marshal - json encoding of Obligation
func (o *Obligation) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	w := wireObligation{
		ID:         o.ID,
		Key:        o.Key,
		To:         o.To,
		Amount:     o.Amount.Text(10),
		State:      uint8(o.State),
		CreatedAt:  o.CreatedAt,
		ResolvedAt: o.ResolvedAt,
		Consumed:   o.Consumed,
	}

	if err := enc.Encode(w); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (o *Obligation) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	var w wireObligation
	if err := dec.Decode(&w); err != nil {
		return err
	}

	amount, ok := new(big.Int).SetString(w.Amount, 10)
	if !ok {
		return fmt.Errorf("obligation %s: bad amount %q", w.ID, w.Amount)
	}

	o.ID = w.ID
	o.Key = w.Key
	o.To = w.To
	o.Amount = amount
	o.State = ObligationState(w.State)
	o.CreatedAt = w.CreatedAt
	o.ResolvedAt = w.ResolvedAt
	o.Consumed = w.Consumed

	return nil
}

// Copy returns a deep copy.
func (o *Obligation) Copy() *Obligation {
	c := *o
	c.Amount = new(big.Int).Set(o.Amount)
	return &c
}

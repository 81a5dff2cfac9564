package ledger

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meshnetworks/toll/src/meter"
)

// Action is the keeper's verdict on a neighbor's balance.
type Action uint8

const (
	// ActionNone means the balance needs no attention.
	ActionNone Action = iota
	// ActionPay means this node owes the neighbor more than the payment
	// threshold; the returned amount should be settled.
	ActionPay
	// ActionSuspend means the neighbor has exceeded the credit limit beyond
	// the grace period; routing through them should stop.
	ActionSuspend
	// ActionResume means a suspended neighbor's balance has fallen below the
	// resume threshold; routing can restart.
	ActionResume
)

// String ...
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "None"
	case ActionPay:
		return "Pay"
	case ActionSuspend:
		return "Suspend"
	case ActionResume:
		return "Resume"
	default:
		return "Unknown"
	}
}

// Verdict is the result of evaluating one neighbor.
type Verdict struct {
	Action Action
	// Amount is set when Action is ActionPay.
	Amount *big.Int
}

// KeeperConfig groups the economic thresholds, all in minor currency units.
type KeeperConfig struct {
	// PayThreshold is the debt at which this node initiates a payment.
	PayThreshold *big.Int
	// MaxPayment caps the amount of a single obligation.
	MaxPayment *big.Int
	// CreditLimit is the debt a neighbor may run up before suspension.
	CreditLimit *big.Int
	// ResumeThreshold is the debt below which a suspended neighbor is resumed.
	// It must be below CreditLimit so that a balance hovering at the limit
	// does not flap.
	ResumeThreshold *big.Int
	// DebtGrace is how long a neighbor may stay over the credit limit before
	// suspension.
	DebtGrace time.Duration
}

// guardedEntry pairs a debt entry with its in-flight obligation. The mutex
// serializes traffic application, obligation creation, and settlement results
// for one neighbor; different neighbors never contend.
type guardedEntry struct {
	sync.Mutex
	debt    *DebtEntry
	pending *Obligation
}

// Keeper owns the debt ledger. All balance mutations flow through it: metered
// traffic deltas, optimistic removal at obligation creation, and compensation
// on failed settlements. Every mutation is persisted before it is committed
// to memory, so the in-memory ledger never runs ahead of the store.
type Keeper struct {
	store  Store
	policy PricePolicy
	conf   KeeperConfig

	entriesLock sync.RWMutex
	entries     map[string]*guardedEntry
	// pendingIDs maps in-flight obligation IDs back to their neighbor key.
	pendingIDs map[string]string

	logger *logrus.Entry
}

// NewKeeper bootstraps the ledger from the store. Obligations left unresolved
// by a previous run are treated as failed and compensated: the channel may
// have delivered them, but assuming failure only risks paying a debt twice,
// never silently dropping one.
func NewKeeper(store Store, policy PricePolicy, conf KeeperConfig, logger *logrus.Entry) (*Keeper, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	k := &Keeper{
		store:      store,
		policy:     policy,
		conf:       conf,
		entries:    make(map[string]*guardedEntry),
		pendingIDs: make(map[string]string),
		logger:     logger.WithField("prefix", "ledger"),
	}

	debts, err := store.AllDebts()
	if err != nil {
		return nil, err
	}
	for _, d := range debts {
		k.entries[d.Key] = &guardedEntry{debt: d}
	}

	unresolved, err := store.UnresolvedObligations()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for _, o := range unresolved {
		if err := k.recoverObligation(o, now); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// recoverObligation settles an obligation found unresolved at bootstrap.
func (k *Keeper) recoverObligation(o *Obligation, now time.Time) error {
	entry := k.entry(o.Key)
	entry.Lock()
	defer entry.Unlock()

	outcome := o.State
	if !outcome.Terminal() {
		outcome = ObligationFailed
	}

	k.logger.WithFields(logrus.Fields{
		"obligation": o.ID,
		"key":        o.Key,
		"amount":     o.Amount.Text(10),
		"outcome":    outcome.String(),
	}).Warn("Recovering unresolved obligation")

	return k.resolveLocked(entry, o, outcome, now)
}

// entry returns the guarded entry for key, creating it if needed.
func (k *Keeper) entry(key string) *guardedEntry {
	k.entriesLock.Lock()
	defer k.entriesLock.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &guardedEntry{debt: NewDebtEntry(key)}
		k.entries[key] = e
	}
	return e
}

// lookup returns the guarded entry for key without creating it.
func (k *Keeper) lookup(key string) (*guardedEntry, bool) {
	k.entriesLock.RLock()
	defer k.entriesLock.RUnlock()

	e, ok := k.entries[key]
	return e, ok
}

// ApplyTraffic converts one traffic sample into a balance delta and applies
// it. price is the neighbor's advertised forwarding price from the route
// table snapshot. The division by the policy denominator truncates toward
// zero; the remainder is carried in the entry so repeated samples sum to the
// same total as one big sample.
func (k *Keeper) ApplyTraffic(s meter.TrafficSample, price uint64, now time.Time) error {
	entry := k.entry(s.Key)
	entry.Lock()
	defer entry.Unlock()

	numerator := k.policy.TrafficDelta(s, price)

	debt := entry.debt.Copy()

	scaled := new(big.Int).Add(debt.Carry, numerator)
	quo, rem := new(big.Int).QuoRem(scaled, k.policy.Denominator(), new(big.Int))

	debt.Balance.Add(debt.Balance, quo)
	debt.Carry = rem
	debt.LastTraffic = now

	if err := k.store.SetDebt(debt); err != nil {
		return err
	}
	entry.debt = debt

	return nil
}

// Evaluate inspects one neighbor's balance and decides what, if anything,
// should happen. It mutates enforcement bookkeeping (grace timer, hysteresis
// flag) but never the balance itself.
func (k *Keeper) Evaluate(key string, now time.Time) (*Verdict, error) {
	entry, ok := k.lookup(key)
	if !ok {
		return &Verdict{Action: ActionNone}, nil
	}
	entry.Lock()
	defer entry.Unlock()

	debt := entry.debt

	// We owe them.
	if debt.Balance.Sign() < 0 {
		owed := new(big.Int).Neg(debt.Balance)
		if owed.Cmp(k.conf.PayThreshold) >= 0 && entry.pending == nil {
			amount := owed
			if amount.Cmp(k.conf.MaxPayment) > 0 {
				amount = new(big.Int).Set(k.conf.MaxPayment)
			}
			return &Verdict{Action: ActionPay, Amount: amount}, nil
		}
		return k.evaluateEnforcementLocked(entry, now)
	}

	return k.evaluateEnforcementLocked(entry, now)
}

// evaluateEnforcementLocked handles the credit-limit side of Evaluate.
func (k *Keeper) evaluateEnforcementLocked(entry *guardedEntry, now time.Time) (*Verdict, error) {
	debt := entry.debt

	if entry.debt.Enforcing {
		if debt.Balance.Cmp(k.conf.ResumeThreshold) <= 0 {
			updated := debt.Copy()
			updated.Enforcing = false
			updated.OverLimitSince = time.Time{}
			if err := k.store.SetDebt(updated); err != nil {
				return nil, err
			}
			entry.debt = updated
			return &Verdict{Action: ActionResume}, nil
		}
		return &Verdict{Action: ActionNone}, nil
	}

	if debt.Balance.Cmp(k.conf.CreditLimit) > 0 {
		if debt.OverLimitSince.IsZero() {
			updated := debt.Copy()
			updated.OverLimitSince = now
			if err := k.store.SetDebt(updated); err != nil {
				return nil, err
			}
			entry.debt = updated
			return &Verdict{Action: ActionNone}, nil
		}
		if now.Sub(debt.OverLimitSince) >= k.conf.DebtGrace {
			updated := debt.Copy()
			updated.Enforcing = true
			if err := k.store.SetDebt(updated); err != nil {
				return nil, err
			}
			entry.debt = updated
			return &Verdict{Action: ActionSuspend}, nil
		}
		return &Verdict{Action: ActionNone}, nil
	}

	if !debt.OverLimitSince.IsZero() {
		updated := debt.Copy()
		updated.OverLimitSince = time.Time{}
		if err := k.store.SetDebt(updated); err != nil {
			return nil, err
		}
		entry.debt = updated
	}

	return &Verdict{Action: ActionNone}, nil
}

// OpenObligation creates a payment obligation against key for the amount this
// node currently owes, capped at MaxPayment, and optimistically removes that
// amount from the balance. The debt entry and the obligation are persisted
// atomically. At most one obligation per neighbor may be in flight.
func (k *Keeper) OpenObligation(key, to string, now time.Time) (*Obligation, error) {
	entry := k.entry(key)
	entry.Lock()
	defer entry.Unlock()

	if entry.pending != nil {
		return nil, fmt.Errorf("obligation %s already in flight for %s", entry.pending.ID, key)
	}

	if entry.debt.Balance.Sign() >= 0 {
		return nil, fmt.Errorf("nothing owed to %s", key)
	}

	amount := new(big.Int).Neg(entry.debt.Balance)
	if amount.Cmp(k.conf.MaxPayment) > 0 {
		amount.Set(k.conf.MaxPayment)
	}

	o := NewObligation(key, to, amount, now)

	debt := entry.debt.Copy()
	debt.Balance.Add(debt.Balance, amount)

	if err := k.store.CreateObligation(debt, o); err != nil {
		return nil, err
	}

	entry.debt = debt
	entry.pending = o.Copy()

	k.entriesLock.Lock()
	k.pendingIDs[o.ID] = key
	k.entriesLock.Unlock()

	k.logger.WithFields(logrus.Fields{
		"obligation": o.ID,
		"key":        key,
		"amount":     amount.Text(10),
	}).Debug("Opened obligation")

	return o.Copy(), nil
}

// MarkObligationPending records that the channel request for the obligation
// has been sent.
func (k *Keeper) MarkObligationPending(id string) error {
	key, ok := k.pendingKey(id)
	if !ok {
		return fmt.Errorf("obligation %s is not in flight", id)
	}

	entry := k.entry(key)
	entry.Lock()
	defer entry.Unlock()

	if entry.pending == nil || entry.pending.ID != id {
		return fmt.Errorf("obligation %s is not in flight for %s", id, key)
	}

	o := entry.pending.Copy()
	o.State = ObligationPending
	if err := k.store.SetObligation(o); err != nil {
		return err
	}
	entry.pending = o

	return nil
}

// ApplySettlementResult applies the terminal outcome of an obligation to the
// ledger. Confirmed finalizes the optimistic removal; Failed and TimedOut
// compensate the amount back into the balance. The operation is idempotent:
// reapplying the same outcome is a no-op, while a conflicting outcome for an
// already consumed obligation is an invariant violation and is rejected.
func (k *Keeper) ApplySettlementResult(id string, outcome ObligationState, now time.Time) error {
	if !outcome.Terminal() {
		return fmt.Errorf("outcome %s is not terminal", outcome.String())
	}

	key, ok := k.pendingKey(id)
	if !ok {
		// Not in flight; it may have been resolved already.
		o, err := k.store.GetObligation(id)
		if err != nil {
			return err
		}
		if o.Consumed {
			if o.State == outcome {
				k.logger.WithField("obligation", id).Warn("Settlement result already applied")
				return nil
			}
			return fmt.Errorf("obligation %s already consumed as %s, got %s",
				id, o.State.String(), outcome.String())
		}
		key = o.Key
	}

	entry := k.entry(key)
	entry.Lock()
	defer entry.Unlock()

	var o *Obligation
	if entry.pending != nil && entry.pending.ID == id {
		o = entry.pending
	} else {
		stored, err := k.store.GetObligation(id)
		if err != nil {
			return err
		}
		if stored.Consumed {
			if stored.State == outcome {
				return nil
			}
			return fmt.Errorf("obligation %s already consumed as %s, got %s",
				id, stored.State.String(), outcome.String())
		}
		o = stored
	}

	return k.resolveLocked(entry, o, outcome, now)
}

// resolveLocked applies a terminal outcome to an obligation and the entry's
// debt. Caller holds the entry lock.
func (k *Keeper) resolveLocked(entry *guardedEntry, o *Obligation, outcome ObligationState, now time.Time) error {
	debt := entry.debt.Copy()

	resolved := o.Copy()
	resolved.State = outcome
	resolved.ResolvedAt = now
	resolved.Consumed = true

	switch outcome {
	case ObligationConfirmed:
		debt.LastSettlement = now
	case ObligationFailed, ObligationTimedOut:
		// Compensating transaction: the payment did not happen, put the
		// amount back.
		debt.Balance.Sub(debt.Balance, o.Amount)
	}

	if err := k.store.ResolveObligation(debt, resolved); err != nil {
		return err
	}

	entry.debt = debt
	if entry.pending != nil && entry.pending.ID == o.ID {
		entry.pending = nil
	}

	k.entriesLock.Lock()
	delete(k.pendingIDs, o.ID)
	k.entriesLock.Unlock()

	k.logger.WithFields(logrus.Fields{
		"obligation": o.ID,
		"key":        o.Key,
		"amount":     o.Amount.Text(10),
		"outcome":    outcome.String(),
	}).Debug("Resolved obligation")

	return nil
}

// pendingKey returns the neighbor key of an in-flight obligation.
func (k *Keeper) pendingKey(id string) (string, bool) {
	k.entriesLock.RLock()
	defer k.entriesLock.RUnlock()

	key, ok := k.pendingIDs[id]
	return key, ok
}

// Balance returns a copy of the neighbor's debt entry.
func (k *Keeper) Balance(key string) (*DebtEntry, error) {
	entry, ok := k.lookup(key)
	if !ok {
		return nil, fmt.Errorf("no debt entry for %s", key)
	}
	entry.Lock()
	defer entry.Unlock()

	return entry.debt.Copy(), nil
}

// AllDebts returns copies of every debt entry.
func (k *Keeper) AllDebts() []*DebtEntry {
	k.entriesLock.RLock()
	keys := make([]string, 0, len(k.entries))
	for key := range k.entries {
		keys = append(keys, key)
	}
	k.entriesLock.RUnlock()

	res := make([]*DebtEntry, 0, len(keys))
	for _, key := range keys {
		if d, err := k.Balance(key); err == nil {
			res = append(res, d)
		}
	}
	return res
}

// PendingObligation returns the neighbor's in-flight obligation, or nil.
func (k *Keeper) PendingObligation(key string) *Obligation {
	entry, ok := k.lookup(key)
	if !ok {
		return nil
	}
	entry.Lock()
	defer entry.Unlock()

	if entry.pending == nil {
		return nil
	}
	return entry.pending.Copy()
}

// Enforcing reports whether the neighbor is currently suspended for
// nonpayment.
func (k *Keeper) Enforcing(key string) bool {
	entry, ok := k.lookup(key)
	if !ok {
		return false
	}
	entry.Lock()
	defer entry.Unlock()

	return entry.debt.Enforcing
}

// Forgive is an operator override that zeroes a neighbor's balance and carry.
// It refuses while an obligation is in flight.
func (k *Keeper) Forgive(key string, now time.Time) error {
	entry, ok := k.lookup(key)
	if !ok {
		return fmt.Errorf("no debt entry for %s", key)
	}
	entry.Lock()
	defer entry.Unlock()

	if entry.pending != nil {
		return fmt.Errorf("obligation %s in flight for %s", entry.pending.ID, key)
	}

	debt := entry.debt.Copy()
	debt.Balance.SetInt64(0)
	debt.Carry.SetInt64(0)
	debt.OverLimitSince = time.Time{}

	if err := k.store.SetDebt(debt); err != nil {
		return err
	}
	entry.debt = debt

	k.logger.WithField("key", key).Warn("Forgave debt")

	return nil
}

// Package ledger tracks how much each neighbor owes, or is owed by, this
// node, and turns those balances into payment obligations and enforcement
// decisions.
//
// Keeper
//
// The Keeper is the only writer of balances. Traffic samples from the meter
// arrive as byte counts; a PricePolicy converts them into signed deltas in
// minor currency units. The division by the policy denominator truncates
// toward zero and the remainder is carried into the next sample, so a stream
// of small samples always sums to the same total as one large sample.
//
// Obligations
//
// When this node's debt to a neighbor crosses the payment threshold the
// Keeper opens an Obligation and removes the amount from the balance
// optimistically, before the payment channel has answered. A failed or timed
// out payment is compensated by adding the amount back. The outcome of an
// obligation is applied exactly once; the Consumed flag makes reapplication a
// no-op and conflicting outcomes an error.
//
// Store
//
// Balances and obligations are abstracted behind the Store interface.
// InmemStore keeps everything in maps and is used in tests; BadgerStore
// writes through to a key-value store on disk. Obligation creation and
// resolution write the debt entry and the obligation in one transaction, so a
// crash between the two cannot corrupt the ledger. Obligations that are still
// unresolved when the process restarts are treated as failed and compensated.
package ledger
